package approval_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/approval"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/store/memory"
	"github.com/xraph/waypoint/thread"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGate(t *testing.T) (*approval.Gate, *checkpoint.Saver, *thread.Manager) {
	t.Helper()
	mem := memory.New()
	saver := checkpoint.NewSaver(mem, mem, checkpoint.WithLogger(testLogger()))
	threads := thread.NewManager(thread.WithLogger(testLogger()))
	gate := approval.NewGate(saver, threads, approval.WithLogger(testLogger()))
	return gate, saver, threads
}

type decision struct {
	Action string  `json:"action"`
	Size   float64 `json:"size"`
}

func TestGate_PauseCreatesPendingRequest(t *testing.T) {
	gate, _, threads := newTestGate(t)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	req, err := gate.Pause(ctx, threadID, decision{Action: "buy", Size: 100})
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if req.Reference.IsNil() {
		t.Error("Pause() returned nil reference")
	}
	if req.ThreadID != threadID.String() {
		t.Errorf("ThreadID = %q, want %q", req.ThreadID, threadID)
	}

	pending, err := gate.PendingApproval(ctx, threadID)
	if err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if pending == nil {
		t.Fatal("PendingApproval() = nil, want live request")
	}

	var d decision
	if err := json.Unmarshal(pending.Decision, &d); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if d.Action != "buy" || d.Size != 100 {
		t.Errorf("decision = %+v", d)
	}
}

func TestGate_PendingApprovalAbsent(t *testing.T) {
	gate, _, threads := newTestGate(t)
	threadID := threads.Create("prompt", nil)

	pending, err := gate.PendingApproval(context.Background(), threadID)
	if err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if pending != nil {
		t.Errorf("PendingApproval() = %+v, want nil when never paused", pending)
	}
}

func TestGate_ApproveResolvesPending(t *testing.T) {
	gate, saver, threads := newTestGate(t)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	if _, err := gate.Pause(ctx, threadID, decision{Action: "buy"}); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	conf, err := gate.Approve(ctx, threadID, "alice", "looks good")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !conf.Approved || conf.ApproverID != "alice" {
		t.Errorf("confirmation = %+v", conf)
	}

	// A pending request exists iff the newest pending version is unresolved.
	pending, err := gate.PendingApproval(ctx, threadID)
	if err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if pending != nil {
		t.Errorf("PendingApproval() = %+v, want nil after approval", pending)
	}

	// The outcome is recorded at the approved slot.
	cp, err := saver.Load(ctx, threadID.String(), approval.SlotApproved)
	if err != nil {
		t.Fatalf("Load(approved) error = %v", err)
	}
	if cp == nil {
		t.Fatal("no approval_approved checkpoint written")
	}

	// The thread itself stays active: approval is not a terminal state.
	status, err := threads.Status(threadID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != thread.StatusActive {
		t.Errorf("thread status = %q, want active after approval", status)
	}
}

func TestGate_RejectMarksThreadRejected(t *testing.T) {
	gate, saver, threads := newTestGate(t)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	if _, err := gate.Pause(ctx, threadID, decision{Action: "sell"}); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	conf, err := gate.Reject(ctx, threadID, "bob", "position too large", "halve it")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if conf.Approved {
		t.Error("rejection reported Approved = true")
	}

	status, err := threads.Status(threadID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != thread.StatusRejected {
		t.Errorf("thread status = %q, want rejected", status)
	}

	th, _ := threads.Get(threadID)
	if th.RejectionReason != "position too large" || th.RejectedBy != "bob" {
		t.Errorf("thread = %+v", th)
	}

	if pending, _ := gate.PendingApproval(ctx, threadID); pending != nil {
		t.Error("pending request survived rejection")
	}

	cp, err := saver.Load(ctx, threadID.String(), approval.SlotRejected)
	if err != nil || cp == nil {
		t.Fatalf("Load(rejected) = (%v, %v), want checkpoint", cp, err)
	}
}

func TestGate_ResolveWithoutPendingFails(t *testing.T) {
	gate, _, threads := newTestGate(t)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	if _, err := gate.Approve(ctx, threadID, "alice", ""); !errors.Is(err, waypoint.ErrNoPendingApproval) {
		t.Errorf("Approve() error = %v, want ErrNoPendingApproval", err)
	}
	if _, err := gate.Reject(ctx, threadID, "alice", "r", ""); !errors.Is(err, waypoint.ErrNoPendingApproval) {
		t.Errorf("Reject() error = %v, want ErrNoPendingApproval", err)
	}

	// Double resolution: the first approve consumes the pending request.
	if _, err := gate.Pause(ctx, threadID, decision{Action: "buy"}); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := gate.Approve(ctx, threadID, "alice", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if _, err := gate.Approve(ctx, threadID, "alice", ""); !errors.Is(err, waypoint.ErrNoPendingApproval) {
		t.Errorf("second Approve() error = %v, want ErrNoPendingApproval", err)
	}
}

func TestGate_RepauseAfterResolution(t *testing.T) {
	gate, _, threads := newTestGate(t)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	if _, err := gate.Pause(ctx, threadID, decision{Action: "buy", Size: 1}); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := gate.Approve(ctx, threadID, "alice", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	// A later pause opens a fresh request on the same slot.
	if _, err := gate.Pause(ctx, threadID, decision{Action: "buy", Size: 2}); err != nil {
		t.Fatalf("second Pause() error = %v", err)
	}

	pending, err := gate.PendingApproval(ctx, threadID)
	if err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if pending == nil {
		t.Fatal("PendingApproval() = nil, want fresh request")
	}
	var d decision
	if err := json.Unmarshal(pending.Decision, &d); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if d.Size != 2 {
		t.Errorf("pending decision size = %v, want the re-paused decision", d.Size)
	}
}

// gateEmitter records emitted gate events.
type gateEmitter struct {
	paused    int
	reference string
	outcomes  []string
	approvers []string
}

func (e *gateEmitter) EmitApprovalPaused(_ context.Context, threadID, reference string) {
	e.paused++
	e.reference = reference
}

func (e *gateEmitter) EmitApprovalResolved(_ context.Context, threadID, outcome, approverID string) {
	e.outcomes = append(e.outcomes, outcome)
	e.approvers = append(e.approvers, approverID)
}

func TestGate_EmitterSeesLifecycleEvents(t *testing.T) {
	mem := memory.New()
	saver := checkpoint.NewSaver(mem, mem, checkpoint.WithLogger(testLogger()))
	threads := thread.NewManager(thread.WithLogger(testLogger()))
	emitter := &gateEmitter{}
	gate := approval.NewGate(saver, threads,
		approval.WithLogger(testLogger()),
		approval.WithEmitter(emitter),
	)
	ctx := context.Background()
	threadID := threads.Create("prompt", nil)

	req, err := gate.Pause(ctx, threadID, decision{Action: "buy"})
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if emitter.paused != 1 {
		t.Errorf("paused events = %d, want 1", emitter.paused)
	}
	if emitter.reference != req.Reference.String() {
		t.Errorf("paused reference = %q, want %q", emitter.reference, req.Reference)
	}

	if _, err := gate.Approve(ctx, threadID, "alice", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if len(emitter.outcomes) != 1 || emitter.outcomes[0] != approval.SlotApproved {
		t.Errorf("resolved outcomes = %v, want [%s]", emitter.outcomes, approval.SlotApproved)
	}
	if emitter.approvers[0] != "alice" {
		t.Errorf("resolved approver = %q, want alice", emitter.approvers[0])
	}

	// A rejection on a fresh pause emits with the rejected outcome.
	if _, err := gate.Pause(ctx, threadID, decision{Action: "sell"}); err != nil {
		t.Fatalf("second Pause() error = %v", err)
	}
	if _, err := gate.Reject(ctx, threadID, "bob", "too risky", ""); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if len(emitter.outcomes) != 2 || emitter.outcomes[1] != approval.SlotRejected {
		t.Errorf("resolved outcomes = %v, want rejected second", emitter.outcomes)
	}

	// A failed resolution emits nothing.
	if _, err := gate.Approve(ctx, threadID, "alice", ""); !errors.Is(err, waypoint.ErrNoPendingApproval) {
		t.Fatalf("Approve() error = %v, want ErrNoPendingApproval", err)
	}
	if len(emitter.outcomes) != 2 {
		t.Errorf("resolved events = %d after failed approve, want 2", len(emitter.outcomes))
	}
}

func TestGate_RejectSurvivesRegistryMiss(t *testing.T) {
	gate, _, _ := newTestGate(t)
	ctx := context.Background()

	// A thread unknown to the registry (e.g. created before a restart)
	// can still be rejected; the checkpoint outcome wins.
	orphan := id.NewThreadID()
	if _, err := gate.Pause(ctx, orphan, decision{Action: "buy"}); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	conf, err := gate.Reject(ctx, orphan, "alice", "no", "")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if conf.Approved {
		t.Error("rejection reported Approved = true")
	}
}
