// Package audit renders checkpoint history for humans and machines:
// lossless structured exports, readable reports, tabular summaries, and
// non-mutating replay of historical checkpoints.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/id"
)

// Format selects an export rendering.
type Format string

const (
	// FormatStructured is a lossless JSON dump of the full history.
	FormatStructured Format = "structured"
	// FormatReport is a human-readable per-checkpoint report.
	FormatReport Format = "report"
	// FormatTable is a flat CSV summary
	// (checkpoint_id,timestamp,phase,agent,status,confidence).
	FormatTable Format = "table"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides audit and time-travel reads over a checkpoint Saver.
// It is stateless and never mutates the store.
type Service struct {
	saver  *checkpoint.Saver
	logger *slog.Logger
}

// NewService creates an audit service.
func NewService(saver *checkpoint.Saver, opts ...Option) *Service {
	s := &Service{saver: saver, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// envelope is the structured export shape. Everything except ExportedAt
// is a pure function of the stored history, so repeated exports of an
// unchanged thread differ only in that field.
type envelope struct {
	ThreadID    string                   `json:"thread_id"`
	ExportedAt  time.Time                `json:"exported_at"`
	Count       int                      `json:"count"`
	Message     string                   `json:"message,omitempty"`
	Checkpoints []*checkpoint.Checkpoint `json:"checkpoints"`
}

// ExportHistory renders the thread's filtered history in the given
// format. A thread with no matching checkpoints renders a structured
// "no history" result rather than failing.
func (s *Service) ExportHistory(ctx context.Context, threadID, phase, agent string, format Format) (string, error) {
	history, err := s.saver.History(ctx, threadID, phase, agent)
	if err != nil {
		return "", fmt.Errorf("audit: history for %s: %w", threadID, err)
	}

	exportID := id.NewExportID()
	s.logger.Info("exporting thread history",
		slog.String("export_id", exportID.String()),
		slog.String("thread_id", threadID),
		slog.String("format", string(format)),
		slog.Int("count", len(history)),
	)

	switch format {
	case FormatStructured:
		return renderStructured(threadID, history)
	case FormatReport:
		return renderReport(threadID, history), nil
	case FormatTable:
		return renderTable(history), nil
	default:
		return "", fmt.Errorf("audit: %w: %q", waypoint.ErrUnknownFormat, format)
	}
}

func renderStructured(threadID string, history []*checkpoint.Checkpoint) (string, error) {
	env := envelope{
		ThreadID:    threadID,
		ExportedAt:  time.Now().UTC(),
		Count:       len(history),
		Checkpoints: history,
	}
	if len(history) == 0 {
		env.Message = "no checkpoint history found"
		env.Checkpoints = []*checkpoint.Checkpoint{}
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal export for %s: %w", threadID, err)
	}
	return string(out), nil
}

func renderReport(threadID string, history []*checkpoint.Checkpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thread history: %s\n", threadID)
	fmt.Fprintf(&b, "Checkpoints: %d\n", len(history))

	if len(history) == 0 {
		b.WriteString("\nNo checkpoint history found.\n")
		return b.String()
	}

	for _, cp := range history {
		fmt.Fprintf(&b, "\nCheckpoint: %s\n", cp.Slot)
		fmt.Fprintf(&b, "  Timestamp:  %s\n", cp.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Phase:      %s\n", orDash(cp.Metadata.Phase()))
		fmt.Fprintf(&b, "  Agent:      %s\n", orDash(cp.Metadata.Agent()))
		fmt.Fprintf(&b, "  Status:     %s\n", orDash(cp.Metadata.Status()))
		if conf, ok := cp.Metadata.Confidence(); ok {
			fmt.Fprintf(&b, "  Confidence: %.2f\n", conf)
		}
	}
	return b.String()
}

func renderTable(history []*checkpoint.Checkpoint) string {
	var b strings.Builder
	b.WriteString("checkpoint_id,timestamp,phase,agent,status,confidence\n")

	for _, cp := range history {
		confidence := ""
		if conf, ok := cp.Metadata.Confidence(); ok {
			confidence = fmt.Sprintf("%.2f", conf)
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s\n",
			cp.Slot,
			cp.Timestamp.Format(time.RFC3339),
			cp.Metadata.Phase(),
			cp.Metadata.Agent(),
			cp.Metadata.Status(),
			confidence,
		)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ──────────────────────────────────────────────────
// Summary
// ──────────────────────────────────────────────────

// Summary is a cheap, metadata-only rollup of a thread's checkpoints.
type Summary struct {
	ThreadID        string         `json:"thread_id"`
	TotalCount      int            `json:"total_count"`
	Phases          []string       `json:"phases"`
	Agents          []string       `json:"agents"`
	StatusCounts    map[string]int `json:"status_counts"`
	FirstCheckpoint time.Time      `json:"first_checkpoint"`
	LastCheckpoint  time.Time      `json:"last_checkpoint"`
}

// Summarize computes a Summary from listing metadata alone; no payload is
// ever loaded.
func (s *Service) Summarize(ctx context.Context, threadID string) (*Summary, error) {
	metas, err := s.saver.List(ctx, threadID, "")
	if err != nil {
		return nil, fmt.Errorf("audit: list for %s: %w", threadID, err)
	}

	summary := &Summary{
		ThreadID:     threadID,
		TotalCount:   len(metas),
		StatusCounts: make(map[string]int),
	}

	phases := make(map[string]struct{})
	agents := make(map[string]struct{})
	for _, m := range metas {
		if p := m.Metadata.Phase(); p != "" {
			phases[p] = struct{}{}
		}
		if a := m.Metadata.Agent(); a != "" {
			agents[a] = struct{}{}
		}
		if st := m.Metadata.Status(); st != "" {
			summary.StatusCounts[st]++
		}
	}
	summary.Phases = sortedKeys(phases)
	summary.Agents = sortedKeys(agents)

	if len(metas) > 0 {
		summary.FirstCheckpoint = metas[0].Timestamp
		summary.LastCheckpoint = metas[len(metas)-1].Timestamp
	}
	return summary, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

// ReplayFrom loads a historical checkpoint for inspection without
// mutating anything. Resuming execution from history is not implemented;
// continueExecution=true fails with ErrReplayContinueUnsupported instead
// of being silently ignored. A missing checkpoint fails with
// ErrCheckpointNotFound.
func (s *Service) ReplayFrom(ctx context.Context, threadID, slot string, continueExecution bool) (*checkpoint.Checkpoint, error) {
	if continueExecution {
		return nil, waypoint.ErrReplayContinueUnsupported
	}

	cp, err := s.saver.Load(ctx, threadID, slot)
	if err != nil {
		return nil, fmt.Errorf("audit: replay %s/%s: %w", threadID, slot, err)
	}
	if cp == nil {
		return nil, fmt.Errorf("audit: replay %s/%s: %w", threadID, slot, waypoint.ErrCheckpointNotFound)
	}
	return cp, nil
}
