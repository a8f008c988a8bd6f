package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/backoff"
)

// InlineLimit is the serialized size at which a checkpoint payload is
// routed to the blob store instead of being stored inline in the table
// row. 350 KiB leaves headroom under the backing table's per-item ceiling.
const InlineLimit = 350 * 1024

// collisionRetryLimit bounds how many times a write regenerates its
// timestamp after losing a create-if-absent race. Collisions require two
// writers hitting the same nanosecond, so more than a couple in a row
// means the backend is misreporting.
const collisionRetryLimit = 8

// Durability reports how a save landed.
type Durability string

const (
	// Durable means the checkpoint reached the configured table backend.
	Durable Durability = "durable"
	// DegradedFallback means both backends were exhausted and the
	// checkpoint lives only in process memory. It will not survive a
	// restart.
	DegradedFallback Durability = "degraded_fallback"
	// Failed means the checkpoint was not persisted anywhere. Only
	// reachable when the fallback is disabled.
	Failed Durability = "failed"
)

// SaveResult describes the outcome of a Save. Save never hides a
// degradation: callers choose their own policy by inspecting Durability.
type SaveResult struct {
	ThreadID   string
	Slot       string
	Timestamp  time.Time
	SizeBytes  int64
	Blobbed    bool
	Attempts   int
	Durability Durability
}

// Degraded reports whether the write missed the durable backends.
func (r *SaveResult) Degraded() bool { return r.Durability != Durable }

// Emitter receives saver lifecycle events. hook.Registry satisfies this
// interface; the indirection keeps checkpoint free of a hook dependency.
type Emitter interface {
	EmitCheckpointSaved(ctx context.Context, res *SaveResult)
	EmitWriteRetried(ctx context.Context, threadID, slot string, attempt int, delay time.Duration, err error)
	EmitWriteDegraded(ctx context.Context, threadID, slot string, err error)
}

// noopEmitter is the default Emitter.
type noopEmitter struct{}

func (noopEmitter) EmitCheckpointSaved(context.Context, *SaveResult) {}
func (noopEmitter) EmitWriteRetried(context.Context, string, string, int, time.Duration, error) {
}
func (noopEmitter) EmitWriteDegraded(context.Context, string, string, error) {}

// Option configures a Saver.
type Option func(*Saver)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Saver) { s.logger = l }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Saver) { s.strategy = b }
}

// WithMaxAttempts sets the write attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Saver) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTTL sets how long checkpoints live before becoming eligible for
// background deletion.
func WithTTL(d time.Duration) Option {
	return func(s *Saver) { s.ttl = d }
}

// WithCodec sets the serializer for opaque state payloads.
func WithCodec(c Codec) Option {
	return func(s *Saver) { s.codec = c }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Saver) { s.emitter = e }
}

// Saver is the checkpoint snapshot engine. It owns size-based routing
// between the table and blob backends, retry with backoff, write-conflict
// handling, and read/list/history operations. Safe for concurrent use:
// the backend's conditional write is the only synchronization point, so
// concurrent writers to the same slot diverge into separate timestamped
// versions instead of blocking or losing data.
type Saver struct {
	table    Table
	blob     Blob
	fallback *fallbackStore

	codec       Codec
	strategy    backoff.Strategy
	maxAttempts int
	ttl         time.Duration
	logger      *slog.Logger
	emitter     Emitter
}

// NewSaver creates a Saver over the given backends. The blob backend may
// be nil, in which case oversized payloads degrade to the in-process
// fallback. The caller owns both backend lifecycles.
func NewSaver(table Table, blob Blob, opts ...Option) *Saver {
	s := &Saver{
		table:       table,
		blob:        blob,
		fallback:    newFallbackStore(),
		codec:       JSONCodec{},
		strategy:    backoff.DefaultStrategy(),
		maxAttempts: 5,
		ttl:         90 * 24 * time.Hour,
		logger:      slog.Default(),
		emitter:     noopEmitter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Save
// ──────────────────────────────────────────────────

// Save persists a new checkpoint version for (threadID, slot). It never
// returns an error for backend failures: transient errors are retried
// with capped exponential backoff, and once the attempt ceiling is
// reached (or a permanent error is seen) the write degrades to the
// in-process fallback, reported through SaveResult.Durability. The error
// return is reserved for caller mistakes and context cancellation.
func (s *Saver) Save(ctx context.Context, threadID, slot string, state any, meta Metadata) (*SaveResult, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: save: empty thread id")
	}
	if slot == "" {
		return nil, errors.New("checkpoint: save: empty checkpoint id")
	}

	stateBytes, err := s.codec.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal state for %s/%s: %w", threadID, slot, err)
	}
	if meta == nil {
		meta = Metadata{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal metadata for %s/%s: %w", threadID, slot, err)
	}

	size := int64(len(stateBytes) + len(metaBytes))
	blobbed := size >= InlineLimit
	now := time.Now().UTC()
	row := &Row{
		ThreadID:  threadID,
		Slot:      slot,
		Timestamp: now,
		Metadata:  metaBytes,
		SizeBytes: size,
		ExpiresAt: now.Add(s.ttl),
	}

	var lastErr error
	attempt := 1
	conflicts := 0

	for attempt <= s.maxAttempts {
		putErr := s.tryPut(ctx, row, stateBytes, blobbed)
		if putErr == nil {
			res := s.result(row, blobbed, attempt, Durable)
			s.emitter.EmitCheckpointSaved(ctx, res)
			return res, nil
		}

		if errors.Is(putErr, waypoint.ErrVersionExists) {
			// Another writer created a row with the identical composite
			// key. Diverge into a new version: regenerate the timestamp
			// and re-put. Never merge, overwrite, or reject.
			conflicts++
			if conflicts > collisionRetryLimit {
				lastErr = putErr
				break
			}
			row.Timestamp = bumpTimestamp(row.Timestamp)
			row.ExpiresAt = row.Timestamp.Add(s.ttl)
			continue
		}

		lastErr = putErr
		if waypoint.IsPermanent(putErr) {
			s.logger.Error("checkpoint backend failure is permanent, degrading",
				slog.String("thread_id", threadID),
				slog.String("checkpoint_id", slot),
				slog.String("error", putErr.Error()),
			)
			break
		}

		if attempt == s.maxAttempts {
			break
		}

		delay := s.strategy.Delay(attempt)
		s.emitter.EmitWriteRetried(ctx, threadID, slot, attempt, delay, putErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}

	return s.degrade(ctx, row, stateBytes, blobbed, attempt, lastErr), nil
}

// tryPut performs one routed write attempt: blob first when oversized,
// then the conditional table put. The payload is uploaded at most once
// per Save: a write that loses a timestamp race keeps the key from its
// first attempt, so no orphaned blob is left behind.
func (s *Saver) tryPut(ctx context.Context, row *Row, stateBytes []byte, blobbed bool) error {
	if blobbed {
		if s.blob == nil {
			return waypoint.Permanentf("no blob backend configured for %d byte payload", row.SizeBytes)
		}
		if row.BlobRef == "" {
			key := BlobKey(row.ThreadID, row.Slot, row.Timestamp)
			if err := s.blob.Put(ctx, key, stateBytes); err != nil {
				return fmt.Errorf("put blob %s: %w", key, err)
			}
			row.BlobRef = key
		}
		row.State = nil
	} else {
		row.State = stateBytes
	}
	return s.table.PutRow(ctx, row)
}

// degrade lands the row in the in-process fallback. The workflow keeps
// running; the degradation is observable through the result, the log,
// and the emitter.
func (s *Saver) degrade(ctx context.Context, row *Row, stateBytes []byte, blobbed bool, attempts int, cause error) *SaveResult {
	if blobbed {
		key := row.BlobRef
		if key == "" {
			key = BlobKey(row.ThreadID, row.Slot, row.Timestamp)
		}
		s.fallback.putBlob(key, stateBytes)
		row.BlobRef = key
		row.State = nil
	} else {
		row.State = stateBytes
	}
	s.fallback.put(row)

	s.logger.Error("checkpoint write degraded to in-memory fallback",
		slog.String("thread_id", row.ThreadID),
		slog.String("checkpoint_id", row.Slot),
		slog.Int("attempts", attempts),
		slog.String("error", errString(cause)),
	)
	s.emitter.EmitWriteDegraded(ctx, row.ThreadID, row.Slot, cause)

	return s.result(row, blobbed, attempts, DegradedFallback)
}

func (s *Saver) result(row *Row, blobbed bool, attempts int, d Durability) *SaveResult {
	return &SaveResult{
		ThreadID:   row.ThreadID,
		Slot:       row.Slot,
		Timestamp:  row.Timestamp,
		SizeBytes:  row.SizeBytes,
		Blobbed:    blobbed,
		Attempts:   attempts,
		Durability: d,
	}
}

// bumpTimestamp returns a fresh version timestamp strictly after prev.
func bumpTimestamp(prev time.Time) time.Time {
	ts := time.Now().UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	return ts
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ──────────────────────────────────────────────────
// Load / List / History
// ──────────────────────────────────────────────────

// Load returns the newest checkpoint for the given slot, or — when slot
// is empty — the newest checkpoint for the thread across all slots. Blob
// references are dereferenced transparently so callers always receive the
// full state, never a pointer. Returns (nil, nil) when no checkpoint
// exists.
func (s *Saver) Load(ctx context.Context, threadID, slot string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: load: empty thread id")
	}

	row, err := s.table.LatestRow(ctx, threadID, slot)
	if err != nil {
		s.logger.Warn("latest row read failed, serving fallback only",
			slog.String("thread_id", threadID),
			slog.String("checkpoint_id", slot),
			slog.String("error", err.Error()),
		)
		row = nil
	}

	if fb := s.fallback.latest(threadID, slot); fb != nil {
		if row == nil || fb.Timestamp.After(row.Timestamp) {
			row = fb
		}
	}
	if row == nil {
		return nil, nil
	}

	return s.materialize(ctx, row)
}

// List returns payload-free metadata for every checkpoint version of the
// thread, ordered oldest to newest. statusFilter, when non-empty, keeps
// only versions whose metadata status matches.
func (s *Saver) List(ctx context.Context, threadID, statusFilter string) ([]*Meta, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: list: empty thread id")
	}

	rows := s.collect(ctx, threadID, "")
	metas := make([]*Meta, 0, len(rows))
	for _, row := range rows {
		meta, err := decodeMetadata(row.Metadata)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: decode metadata for %s/%s: %w", row.ThreadID, row.Slot, err)
		}
		if statusFilter != "" && meta.Status() != statusFilter {
			continue
		}
		metas = append(metas, &Meta{
			ThreadID:  row.ThreadID,
			Slot:      row.Slot,
			Timestamp: row.Timestamp,
			Metadata:  meta,
			SizeBytes: row.SizeBytes,
			Blobbed:   row.Blobbed(),
		})
	}
	return metas, nil
}

// History returns every checkpoint version of the thread with full
// payloads, ordered oldest to newest, optionally filtered by the phase
// and agent metadata fields.
func (s *Saver) History(ctx context.Context, threadID, phase, agent string) ([]*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: history: empty thread id")
	}

	rows := s.collect(ctx, threadID, "")
	checkpoints := make([]*Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := s.materialize(ctx, row)
		if err != nil {
			return nil, err
		}
		if phase != "" && cp.Metadata.Phase() != phase {
			continue
		}
		if agent != "" && cp.Metadata.Agent() != agent {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// QuerySlots returns every version whose slot starts with slotPrefix,
// with full payloads, oldest to newest. This is the append-only per-slot
// log read used by recovery's phase restarts.
func (s *Saver) QuerySlots(ctx context.Context, threadID, slotPrefix string) ([]*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: query slots: empty thread id")
	}

	rows := s.collect(ctx, threadID, slotPrefix)
	checkpoints := make([]*Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := s.materialize(ctx, row)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// collect merges primary and fallback rows for the thread, oldest to
// newest. A failing primary degrades the read to fallback-only rather
// than surfacing the error: history must stay readable while the backend
// is down.
func (s *Saver) collect(ctx context.Context, threadID, slotPrefix string) []*Row {
	rows, err := s.table.QueryRows(ctx, threadID, slotPrefix)
	if err != nil {
		s.logger.Warn("row query failed, serving fallback only",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()),
		)
		rows = nil
	}

	rows = append(rows, s.fallback.query(threadID, slotPrefix)...)
	sort.SliceStable(rows, func(i, k int) bool {
		return rows[i].Timestamp.Before(rows[k].Timestamp)
	})
	return rows
}

// materialize converts a storage row into a full Checkpoint, fetching the
// payload from the blob store when the row carries a reference.
func (s *Saver) materialize(ctx context.Context, row *Row) (*Checkpoint, error) {
	state := row.State
	if row.Blobbed() {
		if data := s.fallback.getBlob(row.BlobRef); data != nil {
			state = data
		} else if s.blob == nil {
			return nil, fmt.Errorf("checkpoint: blob %s: %w", row.BlobRef, waypoint.ErrBlobNotFound)
		} else {
			data, err := s.blob.Get(ctx, row.BlobRef)
			if err != nil {
				return nil, fmt.Errorf("checkpoint: dereference blob %s: %w", row.BlobRef, err)
			}
			state = data
		}
	}

	meta, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode metadata for %s/%s: %w", row.ThreadID, row.Slot, err)
	}

	return &Checkpoint{
		ThreadID:  row.ThreadID,
		Slot:      row.Slot,
		State:     json.RawMessage(state),
		Metadata:  meta,
		Timestamp: row.Timestamp,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
