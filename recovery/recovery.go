// Package recovery reconstructs workflow state from the checkpoint store
// after a crash or failure: the last good checkpoint of a thread, a named
// checkpoint, an agent's last completed output, or the predecessor
// output needed to restart a phase.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/thread"
)

// Workflow phase names and their ordering. Each phase restarts from its
// predecessor's "_complete" checkpoint; phase1 has no predecessor.
const (
	Phase1 = "phase1"
	Phase2 = "phase2"
	Phase3 = "phase3"
)

// slotCompleteSuffix marks the checkpoint a finished phase leaves behind.
const slotCompleteSuffix = "_complete"

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides failure-recovery reads over a checkpoint Saver. It is
// stateless; all state lives in the store.
type Service struct {
	saver  *checkpoint.Saver
	logger *slog.Logger
}

// NewService creates a recovery service.
func NewService(saver *checkpoint.Saver, opts ...Option) *Service {
	s := &Service{saver: saver, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recovered is the reconstructed resume point for a failed thread.
type Recovered struct {
	Slot      string              `json:"checkpoint_id"`
	Phase     string              `json:"phase"`
	State     json.RawMessage     `json:"state"`
	Metadata  checkpoint.Metadata `json:"metadata"`
	Timestamp time.Time           `json:"timestamp"`
}

// FromFailure finds the best checkpoint to resume a failed thread from:
// the newest whose metadata status is "completed", falling back to the
// single newest checkpoint of any status. Returns ErrNoCheckpoints when
// the thread has none.
func (s *Service) FromFailure(ctx context.Context, threadID string) (*Recovered, error) {
	history, err := s.saver.History(ctx, threadID, "", "")
	if err != nil {
		return nil, fmt.Errorf("recovery: load history for %s: %w", threadID, err)
	}
	if len(history) == 0 {
		return nil, waypoint.ErrNoCheckpoints
	}

	// History is oldest to newest; walk backwards for the newest
	// completed checkpoint.
	chosen := history[len(history)-1]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Metadata.Status() == checkpoint.StatusCompleted {
			chosen = history[i]
			break
		}
	}

	s.logger.Info("recovered thread from checkpoint",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", chosen.Slot),
		slog.String("phase", chosen.Metadata.Phase()),
	)

	return &Recovered{
		Slot:      chosen.Slot,
		Phase:     chosen.Metadata.Phase(),
		State:     chosen.State,
		Metadata:  chosen.Metadata,
		Timestamp: chosen.Timestamp,
	}, nil
}

// ResumeFrom returns the state stored at a named checkpoint slot, or
// (nil, nil) when the slot holds nothing.
func (s *Service) ResumeFrom(ctx context.Context, threadID, slot string) (json.RawMessage, error) {
	cp, err := s.saver.Load(ctx, threadID, slot)
	if err != nil {
		return nil, fmt.Errorf("recovery: resume %s/%s: %w", threadID, slot, err)
	}
	if cp == nil {
		return nil, nil
	}
	return cp.State, nil
}

// RecoverAgent returns the newest completed state a named agent produced
// for the thread, or (nil, nil) when the agent has no completed
// checkpoint.
func (s *Service) RecoverAgent(ctx context.Context, threadID, agent string) (json.RawMessage, error) {
	history, err := s.saver.History(ctx, threadID, "", agent)
	if err != nil {
		return nil, fmt.Errorf("recovery: agent history for %s/%s: %w", threadID, agent, err)
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Metadata.Status() == checkpoint.StatusCompleted {
			return history[i].State, nil
		}
	}
	return nil, nil
}

// RestartPhase returns the predecessor phase's completion state needed to
// restart the given phase: phase2 restarts from phase1's output, phase3
// from phase2's. phase1 has no predecessor and restarts from an empty
// state. Returns (nil, nil) when the predecessor never completed.
func (s *Service) RestartPhase(ctx context.Context, threadID, phase string) (json.RawMessage, error) {
	var predecessor string
	switch phase {
	case Phase1:
		return json.RawMessage(`{}`), nil
	case Phase2:
		predecessor = Phase1
	case Phase3:
		predecessor = Phase2
	default:
		return nil, fmt.Errorf("recovery: %w: %q", waypoint.ErrUnknownPhase, phase)
	}

	history, err := s.saver.History(ctx, threadID, predecessor, "")
	if err != nil {
		return nil, fmt.Errorf("recovery: phase history for %s/%s: %w", threadID, predecessor, err)
	}

	for i := len(history) - 1; i >= 0; i-- {
		if strings.HasSuffix(history[i].Slot, slotCompleteSuffix) {
			return history[i].State, nil
		}
	}
	return nil, nil
}

// DeriveThreadStatus derives a thread lifecycle status from the newest
// checkpoint's metadata. The in-process thread registry does not survive
// restarts; this gives the orchestrator a durable approximation to
// rebuild it from. Returns ErrNoCheckpoints when the thread has none.
func (s *Service) DeriveThreadStatus(ctx context.Context, threadID string) (thread.Status, error) {
	cp, err := s.saver.Load(ctx, threadID, "")
	if err != nil {
		return "", fmt.Errorf("recovery: derive status for %s: %w", threadID, err)
	}
	if cp == nil {
		return "", waypoint.ErrNoCheckpoints
	}

	switch {
	case cp.Slot == "approval_rejected":
		return thread.StatusRejected, nil
	case cp.Metadata.Status() == "failed":
		return thread.StatusFailed, nil
	case cp.Metadata.Phase() == Phase3 && cp.Metadata.Status() == checkpoint.StatusCompleted:
		return thread.StatusCompleted, nil
	default:
		return thread.StatusActive, nil
	}
}
