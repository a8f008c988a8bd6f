package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/waypoint/checkpoint"
)

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:waypoint_checkpoints"`

	ThreadID     string    `bun:"thread_id,pk"`
	CheckpointID string    `bun:"checkpoint_id,pk"`
	Timestamp    time.Time `bun:"ts,pk"`
	State        []byte    `bun:"state,type:bytea"`
	Metadata     []byte    `bun:"metadata,notnull,type:bytea"`
	BlobRef      string    `bun:"blob_ref,notnull,default:''"`
	SizeBytes    int64     `bun:"size_bytes,notnull,default:0"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
}

func toCheckpointModel(row *checkpoint.Row) *checkpointModel {
	return &checkpointModel{
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

func fromCheckpointModel(m *checkpointModel) *checkpoint.Row {
	return &checkpoint.Row{
		ThreadID:  m.ThreadID,
		Slot:      m.CheckpointID,
		Timestamp: m.Timestamp,
		State:     m.State,
		Metadata:  m.Metadata,
		BlobRef:   m.BlobRef,
		SizeBytes: m.SizeBytes,
		ExpiresAt: m.ExpiresAt,
	}
}

// ── Blob model ────────────────────────────────────────────────────

type blobModel struct {
	bun.BaseModel `bun:"table:waypoint_blobs"`

	Key       string    `bun:"key,pk"`
	Data      []byte    `bun:"data,notnull,type:bytea"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
