package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// Row is the storage representation of a checkpoint version handed to
// Table backends. Exactly one of State and BlobRef is set: small payloads
// are stored inline, oversized ones live in the blob store under BlobRef.
type Row struct {
	ThreadID  string
	Slot      string
	Timestamp time.Time
	// State is the inline serialized payload. Nil when BlobRef is set.
	State []byte
	// Metadata is the JSON-encoded metadata map.
	Metadata []byte
	// BlobRef is the blob-store key holding the payload, if routed there.
	BlobRef   string
	SizeBytes int64
	// ExpiresAt is when the row becomes eligible for background deletion.
	ExpiresAt time.Time
}

// Blobbed reports whether the row's payload lives in the blob store.
func (r *Row) Blobbed() bool { return r.BlobRef != "" }

// Table is the transactional key-value contract checkpoints are written
// to. Rows are addressed by (thread, slot, timestamp); PutRow is a
// create-if-absent conditional write, which is the only synchronization
// primitive the engine relies on.
type Table interface {
	// PutRow persists a new row. It returns waypoint.ErrVersionExists if a
	// row with the identical (thread, slot, timestamp) key already exists;
	// it never overwrites.
	PutRow(ctx context.Context, row *Row) error

	// LatestRow returns the newest row for the given slot, or — when slot
	// is empty — the newest row for the thread across all slots. Returns
	// (nil, nil) when no row exists.
	LatestRow(ctx context.Context, threadID, slot string) (*Row, error)

	// QueryRows returns all rows for the thread whose slot starts with
	// slotPrefix (empty prefix matches everything), ordered oldest to
	// newest by timestamp.
	QueryRows(ctx context.Context, threadID, slotPrefix string) ([]*Row, error)

	// DeleteExpired removes rows whose ExpiresAt is before the given
	// instant and returns how many were removed. Backends with native TTL
	// support may implement this as a no-op.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources owned by the table.
	Close() error
}

// Blob is the blob-store contract used for payloads too large to inline.
type Blob interface {
	// Put stores data under key, overwriting any previous value at that
	// key. Keys produced by BlobKey are version-unique, so overwrites do
	// not occur in practice.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data stored under key. Returns
	// waypoint.ErrBlobNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// BlobKey derives the blob-store key for a checkpoint write. The
// timestamp component keeps keys unique across writes so historical
// large payloads are never clobbered by a newer write to the same slot.
// A write that loses a timestamp race keeps the key from its first
// attempt.
func BlobKey(threadID, slot string, ts time.Time) string {
	return fmt.Sprintf("checkpoints/%s/%s/%d.json", threadID, slot, ts.UnixNano())
}
