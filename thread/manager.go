package thread

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
)

// Emitter receives lifecycle events for threads leaving the active
// state. hook.Registry satisfies this interface; the indirection keeps
// thread free of a hook dependency.
type Emitter interface {
	EmitThreadFinished(ctx context.Context, threadID, status string)
}

// noopEmitter is the default Emitter.
type noopEmitter struct{}

func (noopEmitter) EmitThreadFinished(context.Context, string, string) {}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// Manager is the in-process registry of thread lifecycle and metadata.
// Construct one per process and share it: the map is mutex-protected and
// all reads return copies. No I/O, no backend dependency.
type Manager struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	logger  *slog.Logger
	emitter Emitter
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		threads: make(map[string]*Thread),
		logger:  slog.Default(),
		emitter: noopEmitter{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create registers a new active thread and returns its ID.
func (m *Manager) Create(userPrompt string, metadata map[string]any) id.ThreadID {
	m.mu.Lock()
	defer m.mu.Unlock()

	threadID := id.NewThreadID()
	now := time.Now().UTC()
	m.threads[threadID.String()] = &Thread{
		ID:         threadID,
		UserPrompt: userPrompt,
		Status:     StatusActive,
		Metadata:   maps.Clone(metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.logger.Info("thread created",
		slog.String("thread_id", threadID.String()),
	)
	return threadID
}

// Get retrieves a copy of the thread.
func (m *Manager) Get(threadID id.ThreadID) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[threadID.String()]
	if !ok {
		return nil, waypoint.ErrThreadNotFound
	}
	return t.clone(), nil
}

// Status returns the thread's lifecycle status.
func (m *Manager) Status(threadID id.ThreadID) (Status, error) {
	t, err := m.Get(threadID)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// Metadata returns the thread's caller-supplied metadata.
func (m *Manager) Metadata(threadID id.ThreadID) (map[string]any, error) {
	t, err := m.Get(threadID)
	if err != nil {
		return nil, err
	}
	return t.Metadata, nil
}

// ──────────────────────────────────────────────────
// Terminal transitions
// ──────────────────────────────────────────────────

// MarkCompleted transitions the thread from active to completed.
func (m *Manager) MarkCompleted(threadID id.ThreadID, result any) error {
	return m.finish(threadID, func(t *Thread, now time.Time) {
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.Result = result
	})
}

// MarkFailed transitions the thread from active to failed.
func (m *Manager) MarkFailed(threadID id.ThreadID, errMsg string, details map[string]any) error {
	return m.finish(threadID, func(t *Thread, now time.Time) {
		t.Status = StatusFailed
		t.FailedAt = &now
		t.Error = errMsg
		t.ErrorDetails = details
	})
}

// MarkRejected transitions the thread from active to rejected. The
// approval gate calls this when a human approver rejects the thread's
// decision.
func (m *Manager) MarkRejected(threadID id.ThreadID, reason, approver string) error {
	return m.finish(threadID, func(t *Thread, now time.Time) {
		t.Status = StatusRejected
		t.RejectedAt = &now
		t.RejectionReason = reason
		t.RejectedBy = approver
	})
}

// finish applies a one-way terminal transition. A thread moves to exactly
// one terminal state; a second transition fails with ErrThreadNotActive.
func (m *Manager) finish(threadID id.ThreadID, apply func(*Thread, time.Time)) error {
	m.mu.Lock()
	t, ok := m.threads[threadID.String()]
	if !ok {
		m.mu.Unlock()
		return waypoint.ErrThreadNotFound
	}
	if t.Status != StatusActive {
		m.mu.Unlock()
		return waypoint.ErrThreadNotActive
	}

	now := time.Now().UTC()
	apply(t, now)
	t.UpdatedAt = now
	status := t.Status
	m.mu.Unlock()

	m.emitter.EmitThreadFinished(context.Background(), threadID.String(), string(status))
	return nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Query returns threads matching the given status (empty means all),
// sorted newest-first, with offset/limit pagination. Zero limit means no
// limit.
func (m *Manager) Query(status Status, limit, offset int) []*Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, t.clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(result) {
			return nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result
}

// Active returns all threads still in the active state, newest-first.
func (m *Manager) Active() []*Thread {
	return m.Query(StatusActive, 0, 0)
}

// Count returns the number of threads with the given status (empty means
// all).
func (m *Manager) Count(status Status) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if status == "" {
		return len(m.threads)
	}
	count := 0
	for _, t := range m.threads {
		if t.Status == status {
			count++
		}
	}
	return count
}

// CleanupOlderThan drops registry entries created before the cutoff and
// returns how many were removed. It never touches the checkpoint store.
func (m *Manager) CleanupOlderThan(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	count := 0
	for key, t := range m.threads {
		if t.CreatedAt.Before(cutoff) {
			delete(m.threads, key)
			count++
		}
	}

	if count > 0 {
		m.logger.Info("cleaned up old threads",
			slog.Int("count", count),
			slog.Duration("age", age),
		)
	}
	return count
}
