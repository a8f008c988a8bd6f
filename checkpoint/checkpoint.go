// Package checkpoint implements the core snapshot engine: an append-only,
// timestamped checkpoint store with size-aware routing between a
// transactional table and a blob store, bounded retry, and an in-process
// fallback for degraded operation.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Conventional metadata keys. The persistence layer never requires them;
// recovery and audit match against them when present.
const (
	MetaPhase      = "phase"
	MetaAgent      = "agent"
	MetaStatus     = "status"
	MetaConfidence = "confidence"
)

// StatusCompleted is the conventional metadata status recovery prefers
// when choosing a checkpoint to resume from.
const StatusCompleted = "completed"

// Metadata is the open map of caller-defined fields carried by every
// checkpoint. Conventionally includes phase, agent, status, and confidence.
type Metadata map[string]any

// Phase returns the "phase" field, or "" when absent.
func (m Metadata) Phase() string { return m.str(MetaPhase) }

// Agent returns the "agent" field, or "" when absent.
func (m Metadata) Agent() string { return m.str(MetaAgent) }

// Status returns the "status" field, or "" when absent.
func (m Metadata) Status() string { return m.str(MetaStatus) }

// Confidence returns the "confidence" field. The second return is false
// when the field is absent or not numeric.
func (m Metadata) Confidence() (float64, bool) {
	switch v := m[MetaConfidence].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (m Metadata) str(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Checkpoint is an immutable, timestamped snapshot of workflow state under
// a caller-chosen slot name. A (thread, slot) pair accumulates one
// Checkpoint per write; the current value of a slot is the row with the
// maximum Timestamp. Storage internals (blob reference, size) are never
// surfaced here.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Slot      string          `json:"checkpoint_id"`
	State     json.RawMessage `json:"state"`
	Metadata  Metadata        `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"-"`
}

// DecodeState unmarshals the opaque state payload into v.
func (c *Checkpoint) DecodeState(v any) error {
	return json.Unmarshal(c.State, v)
}

// Meta is a payload-free listing entry for a checkpoint version.
type Meta struct {
	ThreadID  string    `json:"thread_id"`
	Slot      string    `json:"checkpoint_id"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
	SizeBytes int64     `json:"size_bytes"`
	// Blobbed reports whether the payload was routed to the blob store.
	Blobbed bool `json:"blobbed"`
}
