// Package approval implements a human-in-the-loop pause/approve/reject
// gate built entirely on reserved checkpoint slots. No separate approval
// store exists: the gate's whole state machine is three slots in the
// checkpoint table, resolved by timestamp like any other checkpoint.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/thread"
)

// Reserved checkpoint slots. The slot names double as the status values
// carried in state and metadata, so "which slot is live" and "what
// happened" read the same way.
const (
	SlotPending  = "approval_pending"
	SlotApproved = "approval_approved"
	SlotRejected = "approval_rejected"
)

// Emitter receives gate lifecycle events. hook.Registry satisfies this
// interface; the indirection keeps approval free of a hook dependency.
type Emitter interface {
	EmitApprovalPaused(ctx context.Context, threadID, reference string)
	EmitApprovalResolved(ctx context.Context, threadID, outcome, approverID string)
}

// noopEmitter is the default Emitter.
type noopEmitter struct{}

func (noopEmitter) EmitApprovalPaused(context.Context, string, string) {}
func (noopEmitter) EmitApprovalResolved(context.Context, string, string, string) {}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(g *Gate) { g.emitter = e }
}

// Gate pauses a workflow for human approval and records the outcome. It
// is stateless: every transition is a checkpoint write, every query a
// checkpoint read.
type Gate struct {
	saver   *checkpoint.Saver
	threads *thread.Manager
	logger  *slog.Logger
	emitter Emitter
}

// NewGate creates an approval gate over the saver and thread registry.
func NewGate(saver *checkpoint.Saver, threads *thread.Manager, opts ...Option) *Gate {
	g := &Gate{saver: saver, threads: threads, logger: slog.Default(), emitter: noopEmitter{}}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Request describes a pause awaiting human review.
type Request struct {
	ThreadID string `json:"thread_id"`
	// Reference is the caller-facing token identifying this request.
	Reference id.ApprovalID `json:"reference"`
	PausedAt  time.Time     `json:"paused_at"`
}

// Pending is the live content of the approval_pending slot.
type Pending struct {
	Decision json.RawMessage `json:"decision"`
	PausedAt time.Time       `json:"paused_at"`
}

// Confirmation records a resolved approval.
type Confirmation struct {
	ThreadID   string    `json:"thread_id"`
	Approved   bool      `json:"approved"`
	ApproverID string    `json:"approver_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// pendingState is the state payload written to the pending slot. Status
// starts as SlotPending; resolution appends a new version with Status
// rewritten, which is how staleness is detected — the pending slot is
// never deleted.
type pendingState struct {
	Decision  json.RawMessage `json:"decision"`
	Status    string          `json:"status"`
	PausedAt  time.Time       `json:"paused_at"`
	Reference string          `json:"reference,omitempty"`
}

// resolvedState is the state payload written to the approved/rejected
// slots, carrying the original decision plus the approver's identity.
type resolvedState struct {
	Decision   json.RawMessage `json:"decision"`
	Status     string          `json:"status"`
	ApproverID string          `json:"approver_id"`
	Reason     string          `json:"reason,omitempty"`
	Comments   string          `json:"comments,omitempty"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Pause writes the decision to the approval_pending slot and returns a
// request descriptor for the caller to surface to a human operator.
func (g *Gate) Pause(ctx context.Context, threadID id.ThreadID, decision any) (*Request, error) {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("approval: marshal decision for %s: %w", threadID, err)
	}

	ref := id.NewApprovalID()
	now := time.Now().UTC()
	state := pendingState{
		Decision:  decisionJSON,
		Status:    SlotPending,
		PausedAt:  now,
		Reference: ref.String(),
	}

	res, err := g.saver.Save(ctx, threadID.String(), SlotPending, state, checkpoint.Metadata{
		checkpoint.MetaStatus: SlotPending,
	})
	if err != nil {
		return nil, fmt.Errorf("approval: pause %s: %w", threadID, err)
	}
	g.warnDegraded(res)

	g.logger.Info("workflow paused for approval",
		slog.String("thread_id", threadID.String()),
		slog.String("reference", ref.String()),
	)
	g.emitter.EmitApprovalPaused(ctx, threadID.String(), ref.String())

	return &Request{
		ThreadID:  threadID.String(),
		Reference: ref,
		PausedAt:  now,
	}, nil
}

// PendingApproval returns the live pending request, or (nil, nil) when no
// pending checkpoint exists or the newest pending version has already
// been resolved (its status is no longer approval_pending).
func (g *Gate) PendingApproval(ctx context.Context, threadID id.ThreadID) (*Pending, error) {
	cp, err := g.saver.Load(ctx, threadID.String(), SlotPending)
	if err != nil {
		return nil, fmt.Errorf("approval: load pending for %s: %w", threadID, err)
	}
	if cp == nil {
		return nil, nil
	}

	var state pendingState
	if err := cp.DecodeState(&state); err != nil {
		return nil, fmt.Errorf("approval: decode pending state for %s: %w", threadID, err)
	}
	if state.Status != SlotPending {
		return nil, nil
	}

	return &Pending{Decision: state.Decision, PausedAt: state.PausedAt}, nil
}

// Approve resolves the pending request affirmatively, recording the
// approver's identity at the approval_approved slot. Returns
// ErrNoPendingApproval when nothing is awaiting review.
func (g *Gate) Approve(ctx context.Context, threadID id.ThreadID, approverID, comments string) (*Confirmation, error) {
	return g.resolve(ctx, threadID, SlotApproved, approverID, "", comments)
}

// Reject resolves the pending request negatively, recording the reason at
// the approval_rejected slot, and marks the thread rejected in the
// lifecycle registry. Returns ErrNoPendingApproval when nothing is
// awaiting review.
func (g *Gate) Reject(ctx context.Context, threadID id.ThreadID, approverID, reason, comments string) (*Confirmation, error) {
	conf, err := g.resolve(ctx, threadID, SlotRejected, approverID, reason, comments)
	if err != nil {
		return nil, err
	}

	if err := g.threads.MarkRejected(threadID, reason, approverID); err != nil {
		// The approval outcome is already durable; a registry miss (e.g.
		// after a process restart) must not undo it.
		g.logger.Warn("could not mark thread rejected in registry",
			slog.String("thread_id", threadID.String()),
			slog.String("error", err.Error()),
		)
	}

	return conf, nil
}

// resolve performs the shared approve/reject transition: verify a live
// pending request, write the terminal slot, then append a resolution
// version to the pending slot so later PendingApproval calls see it as
// stale.
func (g *Gate) resolve(ctx context.Context, threadID id.ThreadID, terminalSlot, approverID, reason, comments string) (*Confirmation, error) {
	pending, err := g.PendingApproval(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("approval: resolve %s for %s: %w", terminalSlot, threadID, waypoint.ErrNoPendingApproval)
	}

	now := time.Now().UTC()
	state := resolvedState{
		Decision:   pending.Decision,
		Status:     terminalSlot,
		ApproverID: approverID,
		Reason:     reason,
		Comments:   comments,
		ResolvedAt: now,
	}

	res, err := g.saver.Save(ctx, threadID.String(), terminalSlot, state, checkpoint.Metadata{
		checkpoint.MetaStatus: terminalSlot,
	})
	if err != nil {
		return nil, fmt.Errorf("approval: write %s for %s: %w", terminalSlot, threadID, err)
	}
	g.warnDegraded(res)

	// Mark the pending slot resolved. Versions are append-only, so this
	// is a new row, not an overwrite; PendingApproval reads the newest.
	marker := pendingState{
		Decision: pending.Decision,
		Status:   terminalSlot,
		PausedAt: pending.PausedAt,
	}
	res, err = g.saver.Save(ctx, threadID.String(), SlotPending, marker, checkpoint.Metadata{
		checkpoint.MetaStatus: terminalSlot,
	})
	if err != nil {
		return nil, fmt.Errorf("approval: mark pending resolved for %s: %w", threadID, err)
	}
	g.warnDegraded(res)

	g.logger.Info("approval resolved",
		slog.String("thread_id", threadID.String()),
		slog.String("outcome", terminalSlot),
		slog.String("approver_id", approverID),
	)
	g.emitter.EmitApprovalResolved(ctx, threadID.String(), terminalSlot, approverID)

	return &Confirmation{
		ThreadID:   threadID.String(),
		Approved:   terminalSlot == SlotApproved,
		ApproverID: approverID,
		ResolvedAt: now,
	}, nil
}

func (g *Gate) warnDegraded(res *checkpoint.SaveResult) {
	if res.Degraded() {
		g.logger.Warn("approval checkpoint write degraded",
			slog.String("thread_id", res.ThreadID),
			slog.String("checkpoint_id", res.Slot),
			slog.String("durability", string(res.Durability)),
		)
	}
}
