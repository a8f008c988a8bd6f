package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// checkpointDoc is the BSON document shape for one checkpoint version.
type checkpointDoc struct {
	ThreadID     string    `bson:"thread_id"`
	CheckpointID string    `bson:"checkpoint_id"`
	Timestamp    time.Time `bson:"ts"`
	State        []byte    `bson:"state,omitempty"`
	Metadata     []byte    `bson:"metadata"`
	BlobRef      string    `bson:"blob_ref,omitempty"`
	SizeBytes    int64     `bson:"size_bytes"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

func toCheckpointDoc(row *checkpoint.Row) *checkpointDoc {
	return &checkpointDoc{
		ThreadID:     row.ThreadID,
		CheckpointID: row.Slot,
		Timestamp:    row.Timestamp,
		State:        row.State,
		Metadata:     row.Metadata,
		BlobRef:      row.BlobRef,
		SizeBytes:    row.SizeBytes,
		ExpiresAt:    row.ExpiresAt,
	}
}

func fromCheckpointDoc(d *checkpointDoc) *checkpoint.Row {
	return &checkpoint.Row{
		ThreadID:  d.ThreadID,
		Slot:      d.CheckpointID,
		Timestamp: d.Timestamp,
		State:     d.State,
		Metadata:  d.Metadata,
		BlobRef:   d.BlobRef,
		SizeBytes: d.SizeBytes,
		ExpiresAt: d.ExpiresAt,
	}
}

// PutRow persists a new checkpoint version. The unique compound index
// over (thread_id, checkpoint_id, ts) turns a losing concurrent write
// into waypoint.ErrVersionExists; nothing is overwritten.
func (s *Store) PutRow(ctx context.Context, row *checkpoint.Row) error {
	_, err := s.db.Collection(colCheckpoints).InsertOne(ctx, toCheckpointDoc(row))
	if err != nil {
		if isDuplicateKey(err) {
			return waypoint.ErrVersionExists
		}
		return fmt.Errorf("waypoint/mongo: put row: %w", err)
	}
	return nil
}

// LatestRow returns the newest row for the given slot, or — when slot is
// empty — the newest row for the thread across all slots. Returns
// (nil, nil) when no row exists.
func (s *Store) LatestRow(ctx context.Context, threadID, slot string) (*checkpoint.Row, error) {
	filter := bson.M{"thread_id": threadID}
	if slot != "" {
		filter["checkpoint_id"] = slot
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "ts", Value: -1}})

	var doc checkpointDoc
	err := s.db.Collection(colCheckpoints).FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("waypoint/mongo: latest row: %w", err)
	}
	return fromCheckpointDoc(&doc), nil
}

// QueryRows returns all rows for the thread whose slot starts with
// slotPrefix, ordered oldest to newest.
func (s *Store) QueryRows(ctx context.Context, threadID, slotPrefix string) ([]*checkpoint.Row, error) {
	filter := bson.M{"thread_id": threadID}
	if slotPrefix != "" {
		filter["checkpoint_id"] = bson.M{"$regex": "^" + escapeRegex(slotPrefix)}
	}

	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}})

	cur, err := s.db.Collection(colCheckpoints).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("waypoint/mongo: query rows: %w", err)
	}
	defer cur.Close(ctx)

	var rows []*checkpoint.Row
	for cur.Next(ctx) {
		var doc checkpointDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("waypoint/mongo: decode row: %w", err)
		}
		rows = append(rows, fromCheckpointDoc(&doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("waypoint/mongo: query rows cursor: %w", err)
	}
	return rows, nil
}

// DeleteExpired removes rows whose expiry is before the given instant,
// along with any blobs they reference, and returns how many rows went.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	expired := bson.M{"expires_at": bson.M{"$lt": before}}

	// Blob refs first, while the referencing rows still exist.
	var keys []string
	err := s.db.Collection(colCheckpoints).Distinct(ctx, "blob_ref",
		bson.M{"expires_at": bson.M{"$lt": before}, "blob_ref": bson.M{"$ne": ""}},
	).Decode(&keys)
	if err != nil {
		return 0, fmt.Errorf("waypoint/mongo: collect expired blob refs: %w", err)
	}
	if len(keys) > 0 {
		_, err = s.db.Collection(colBlobs).DeleteMany(ctx, bson.M{"key": bson.M{"$in": keys}})
		if err != nil {
			return 0, fmt.Errorf("waypoint/mongo: delete expired blobs: %w", err)
		}
	}

	res, err := s.db.Collection(colCheckpoints).DeleteMany(ctx, expired)
	if err != nil {
		return 0, fmt.Errorf("waypoint/mongo: delete expired rows: %w", err)
	}
	return res.DeletedCount, nil
}
