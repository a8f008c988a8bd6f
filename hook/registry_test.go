package hook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/hook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fullExtension implements every hook.
type fullExtension struct {
	name     string
	saved    int
	retried  int
	degraded int
	paused   int
	resolved int
	finished int
	swept    int
	err      error
}

func (e *fullExtension) Name() string { return e.name }

func (e *fullExtension) OnCheckpointSaved(context.Context, *checkpoint.SaveResult) error {
	e.saved++
	return e.err
}

func (e *fullExtension) OnWriteRetried(context.Context, string, string, int, time.Duration, error) error {
	e.retried++
	return e.err
}

func (e *fullExtension) OnWriteDegraded(context.Context, string, string, error) error {
	e.degraded++
	return e.err
}

func (e *fullExtension) OnApprovalPaused(context.Context, string, string) error {
	e.paused++
	return e.err
}

func (e *fullExtension) OnApprovalResolved(context.Context, string, string, string) error {
	e.resolved++
	return e.err
}

func (e *fullExtension) OnThreadFinished(context.Context, string, string) error {
	e.finished++
	return e.err
}

func (e *fullExtension) OnSweepCompleted(context.Context, int64, int, time.Duration) error {
	e.swept++
	return e.err
}

// savedOnlyExtension opts in to a single hook.
type savedOnlyExtension struct {
	saved int
}

func (e *savedOnlyExtension) Name() string { return "saved-only" }

func (e *savedOnlyExtension) OnCheckpointSaved(context.Context, *checkpoint.SaveResult) error {
	e.saved++
	return nil
}

func TestRegistry_FansOutToAllImplementers(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	a := &fullExtension{name: "a"}
	b := &fullExtension{name: "b"}
	r.Register(a)
	r.Register(b)

	ctx := context.Background()
	r.EmitCheckpointSaved(ctx, &checkpoint.SaveResult{ThreadID: "t1"})
	r.EmitWriteRetried(ctx, "t1", "slot", 1, time.Millisecond, errors.New("transient"))
	r.EmitWriteDegraded(ctx, "t1", "slot", errors.New("exhausted"))
	r.EmitApprovalPaused(ctx, "t1", "apprq_ref")
	r.EmitApprovalResolved(ctx, "t1", "approval_approved", "alice")
	r.EmitThreadFinished(ctx, "t1", "completed")
	r.EmitSweepCompleted(ctx, 3, 1, time.Second)

	for _, e := range []*fullExtension{a, b} {
		if e.saved != 1 || e.retried != 1 || e.degraded != 1 ||
			e.paused != 1 || e.resolved != 1 || e.finished != 1 || e.swept != 1 {
			t.Errorf("extension %s counts = %+v, want 1 each", e.name, e)
		}
	}
}

func TestRegistry_OptInPerHook(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	e := &savedOnlyExtension{}
	r.Register(e)

	ctx := context.Background()
	r.EmitCheckpointSaved(ctx, &checkpoint.SaveResult{})
	// These must not panic even though nothing implements them here.
	r.EmitWriteRetried(ctx, "t1", "slot", 1, 0, nil)
	r.EmitWriteDegraded(ctx, "t1", "slot", nil)
	r.EmitApprovalPaused(ctx, "t1", "apprq_ref")
	r.EmitApprovalResolved(ctx, "t1", "approval_rejected", "bob")
	r.EmitThreadFinished(ctx, "t1", "failed")
	r.EmitSweepCompleted(ctx, 0, 0, 0)

	if e.saved != 1 {
		t.Errorf("saved = %d, want 1", e.saved)
	}
}

func TestRegistry_HookErrorsDoNotPropagate(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	failing := &fullExtension{name: "failing", err: errors.New("hook broken")}
	healthy := &fullExtension{name: "healthy"}
	r.Register(failing)
	r.Register(healthy)

	// Emit must reach later extensions despite the earlier failure.
	r.EmitCheckpointSaved(context.Background(), &checkpoint.SaveResult{})
	if healthy.saved != 1 {
		t.Errorf("healthy.saved = %d, want 1", healthy.saved)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	r.Register(&savedOnlyExtension{})
	r.Register(&fullExtension{name: "full"})

	if got := len(r.Extensions()); got != 2 {
		t.Errorf("len(Extensions()) = %d, want 2", got)
	}
}
