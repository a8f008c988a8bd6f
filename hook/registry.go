package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/waypoint/approval"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/janitor"
	"github.com/xraph/waypoint/thread"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type checkpointSavedEntry struct {
	name string
	hook CheckpointSaved
}

type writeRetriedEntry struct {
	name string
	hook WriteRetried
}

type writeDegradedEntry struct {
	name string
	hook WriteDegraded
}

type approvalPausedEntry struct {
	name string
	hook ApprovalPaused
}

type approvalResolvedEntry struct {
	name string
	hook ApprovalResolved
}

type threadFinishedEntry struct {
	name string
	hook ThreadFinished
}

type sweepCompletedEntry struct {
	name string
	hook SweepCompleted
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	checkpointSaved  []checkpointSavedEntry
	writeRetried     []writeRetriedEntry
	writeDegraded    []writeDegradedEntry
	approvalPaused   []approvalPausedEntry
	approvalResolved []approvalResolvedEntry
	threadFinished   []threadFinishedEntry
	sweepCompleted   []sweepCompletedEntry
}

// Registry feeds the emitter contracts of the packages that raise
// lifecycle events.
var (
	_ checkpoint.Emitter = (*Registry)(nil)
	_ approval.Emitter   = (*Registry)(nil)
	_ thread.Emitter     = (*Registry)(nil)
	_ janitor.Emitter    = (*Registry)(nil)
)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(CheckpointSaved); ok {
		r.checkpointSaved = append(r.checkpointSaved, checkpointSavedEntry{name, h})
	}
	if h, ok := e.(WriteRetried); ok {
		r.writeRetried = append(r.writeRetried, writeRetriedEntry{name, h})
	}
	if h, ok := e.(WriteDegraded); ok {
		r.writeDegraded = append(r.writeDegraded, writeDegradedEntry{name, h})
	}
	if h, ok := e.(ApprovalPaused); ok {
		r.approvalPaused = append(r.approvalPaused, approvalPausedEntry{name, h})
	}
	if h, ok := e.(ApprovalResolved); ok {
		r.approvalResolved = append(r.approvalResolved, approvalResolvedEntry{name, h})
	}
	if h, ok := e.(ThreadFinished); ok {
		r.threadFinished = append(r.threadFinished, threadFinishedEntry{name, h})
	}
	if h, ok := e.(SweepCompleted); ok {
		r.sweepCompleted = append(r.sweepCompleted, sweepCompletedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitCheckpointSaved notifies all extensions that implement CheckpointSaved.
func (r *Registry) EmitCheckpointSaved(ctx context.Context, res *checkpoint.SaveResult) {
	for _, e := range r.checkpointSaved {
		if err := e.hook.OnCheckpointSaved(ctx, res); err != nil {
			r.logHookError("OnCheckpointSaved", e.name, err)
		}
	}
}

// EmitWriteRetried notifies all extensions that implement WriteRetried.
func (r *Registry) EmitWriteRetried(ctx context.Context, threadID, checkpointID string, attempt int, delay time.Duration, writeErr error) {
	for _, e := range r.writeRetried {
		if err := e.hook.OnWriteRetried(ctx, threadID, checkpointID, attempt, delay, writeErr); err != nil {
			r.logHookError("OnWriteRetried", e.name, err)
		}
	}
}

// EmitWriteDegraded notifies all extensions that implement WriteDegraded.
func (r *Registry) EmitWriteDegraded(ctx context.Context, threadID, checkpointID string, writeErr error) {
	for _, e := range r.writeDegraded {
		if err := e.hook.OnWriteDegraded(ctx, threadID, checkpointID, writeErr); err != nil {
			r.logHookError("OnWriteDegraded", e.name, err)
		}
	}
}

// EmitApprovalPaused notifies all extensions that implement ApprovalPaused.
func (r *Registry) EmitApprovalPaused(ctx context.Context, threadID, reference string) {
	for _, e := range r.approvalPaused {
		if err := e.hook.OnApprovalPaused(ctx, threadID, reference); err != nil {
			r.logHookError("OnApprovalPaused", e.name, err)
		}
	}
}

// EmitApprovalResolved notifies all extensions that implement ApprovalResolved.
func (r *Registry) EmitApprovalResolved(ctx context.Context, threadID, outcome, approverID string) {
	for _, e := range r.approvalResolved {
		if err := e.hook.OnApprovalResolved(ctx, threadID, outcome, approverID); err != nil {
			r.logHookError("OnApprovalResolved", e.name, err)
		}
	}
}

// EmitThreadFinished notifies all extensions that implement ThreadFinished.
func (r *Registry) EmitThreadFinished(ctx context.Context, threadID, status string) {
	for _, e := range r.threadFinished {
		if err := e.hook.OnThreadFinished(ctx, threadID, status); err != nil {
			r.logHookError("OnThreadFinished", e.name, err)
		}
	}
}

// EmitSweepCompleted notifies all extensions that implement SweepCompleted.
func (r *Registry) EmitSweepCompleted(ctx context.Context, rowsDeleted int64, threadsDeleted int, elapsed time.Duration) {
	for _, e := range r.sweepCompleted {
		if err := e.hook.OnSweepCompleted(ctx, rowsDeleted, threadsDeleted, elapsed); err != nil {
			r.logHookError("OnSweepCompleted", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block writes.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
