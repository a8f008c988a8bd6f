// Package hook defines the extension system for Waypoint.
//
// Extensions are notified of persistence lifecycle events and can react
// to them — recording metrics, emitting alerts, writing audit trails.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnWriteDegraded(ctx context.Context, threadID, checkpointID string, err error) error {
//	    alert("checkpoint durability lost for %s", threadID)
//	    return nil
//	}
//
// # Hooks
//
//   - [CheckpointSaved] — a checkpoint write reached the durable backend
//   - [WriteRetried] — a transient backend failure triggered a retry
//   - [WriteDegraded] — all backends exhausted, write landed in-process
//   - [ApprovalPaused] — a workflow paused for human review
//   - [ApprovalResolved] — a pending approval was approved or rejected
//   - [ThreadFinished] — a thread reached a terminal lifecycle status
//   - [SweepCompleted] — the janitor finished an expiry sweep
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface, and satisfies the emitter
// contracts of the saver, the approval gate, the thread registry, and
// the janitor directly.
package hook

import (
	"context"
	"time"

	"github.com/xraph/waypoint/checkpoint"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// CheckpointSaved is called after a checkpoint write lands on the
// durable backend. Degraded writes fire WriteDegraded instead.
type CheckpointSaved interface {
	OnCheckpointSaved(ctx context.Context, res *checkpoint.SaveResult) error
}

// WriteRetried is called when a transient backend failure schedules a
// retry, before the backoff delay elapses.
type WriteRetried interface {
	OnWriteRetried(ctx context.Context, threadID, checkpointID string, attempt int, delay time.Duration, err error) error
}

// WriteDegraded is called when a write exhausts the durable backends and
// lands in the in-process fallback.
type WriteDegraded interface {
	OnWriteDegraded(ctx context.Context, threadID, checkpointID string, err error) error
}

// ApprovalPaused is called when the gate pauses a workflow for human
// review. reference is the caller-facing request token.
type ApprovalPaused interface {
	OnApprovalPaused(ctx context.Context, threadID, reference string) error
}

// ApprovalResolved is called when a pending approval is resolved.
// outcome is the terminal slot written: approval_approved or
// approval_rejected.
type ApprovalResolved interface {
	OnApprovalResolved(ctx context.Context, threadID, outcome, approverID string) error
}

// ThreadFinished is called when a thread leaves the active state:
// status is completed, failed, or rejected.
type ThreadFinished interface {
	OnThreadFinished(ctx context.Context, threadID, status string) error
}

// SweepCompleted is called after the janitor finishes an expiry sweep.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, rowsDeleted int64, threadsDeleted int, elapsed time.Duration) error
}
