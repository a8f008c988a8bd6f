package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/audit"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*audit.Service, *checkpoint.Saver) {
	t.Helper()
	mem := memory.New()
	saver := checkpoint.NewSaver(mem, mem, checkpoint.WithLogger(testLogger()))
	return audit.NewService(saver, audit.WithLogger(testLogger())), saver
}

func seedHistory(t *testing.T, saver *checkpoint.Saver) {
	t.Helper()
	ctx := context.Background()
	saves := []struct {
		slot string
		meta checkpoint.Metadata
	}{
		{"phase1_complete", checkpoint.Metadata{
			checkpoint.MetaPhase:      "phase1",
			checkpoint.MetaAgent:      "analyst",
			checkpoint.MetaStatus:     checkpoint.StatusCompleted,
			checkpoint.MetaConfidence: 0.92,
		}},
		{"phase2_partial", checkpoint.Metadata{
			checkpoint.MetaPhase:  "phase2",
			checkpoint.MetaAgent:  "critic",
			checkpoint.MetaStatus: "in_progress",
		}},
	}
	for i, sv := range saves {
		if _, err := saver.Save(ctx, "t1", sv.slot, map[string]int{"step": i}, sv.meta); err != nil {
			t.Fatalf("Save(%s) error = %v", sv.slot, err)
		}
	}
}

func TestExportHistory_StructuredIsDeterministicModuloTimestamp(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)
	ctx := context.Background()

	first, err := svc.ExportHistory(ctx, "t1", "", "", audit.FormatStructured)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}
	second, err := svc.ExportHistory(ctx, "t1", "", "", audit.FormatStructured)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}

	var a, b map[string]any
	if err := json.Unmarshal([]byte(first), &a); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := json.Unmarshal([]byte(second), &b); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}
	delete(a, "exported_at")
	delete(b, "exported_at")
	if !reflect.DeepEqual(a, b) {
		t.Error("structured exports differ beyond exported_at")
	}

	if a["thread_id"] != "t1" {
		t.Errorf("thread_id = %v", a["thread_id"])
	}
	if a["count"] != float64(2) {
		t.Errorf("count = %v, want 2", a["count"])
	}
	cps, ok := a["checkpoints"].([]any)
	if !ok || len(cps) != 2 {
		t.Fatalf("checkpoints = %v", a["checkpoints"])
	}
}

func TestExportHistory_PhaseFilter(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)

	out, err := svc.ExportHistory(context.Background(), "t1", "phase1", "", audit.FormatStructured)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["count"] != float64(1) {
		t.Errorf("count = %v, want 1 after phase filter", env["count"])
	}
}

func TestExportHistory_Table(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)

	out, err := svc.ExportHistory(context.Background(), "t1", "", "", audit.FormatTable)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "checkpoint_id,timestamp,phase,agent,status,confidence" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[1], "phase1_complete,") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], ",0.92") {
		t.Errorf("first row missing confidence: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",") {
		t.Errorf("second row should have empty confidence column: %q", lines[2])
	}
}

func TestExportHistory_Report(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)

	out, err := svc.ExportHistory(context.Background(), "t1", "", "", audit.FormatReport)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}
	for _, want := range []string{"Thread history: t1", "Checkpoint: phase1_complete", "Confidence: 0.92", "Agent:      critic"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestExportHistory_NoHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	out, err := svc.ExportHistory(ctx, "empty", "", "", audit.FormatStructured)
	if err != nil {
		t.Fatalf("ExportHistory() error = %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["count"] != float64(0) || env["message"] == "" {
		t.Errorf("empty export = %v", env)
	}

	report, err := svc.ExportHistory(ctx, "empty", "", "", audit.FormatReport)
	if err != nil {
		t.Fatalf("ExportHistory(report) error = %v", err)
	}
	if !strings.Contains(report, "No checkpoint history found") {
		t.Errorf("report = %q", report)
	}
}

func TestExportHistory_UnknownFormat(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ExportHistory(context.Background(), "t1", "", "", audit.Format("yaml"))
	if !errors.Is(err, waypoint.ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}

func TestSummarize(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)

	sum, err := svc.Summarize(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if sum.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", sum.TotalCount)
	}
	if !reflect.DeepEqual(sum.Phases, []string{"phase1", "phase2"}) {
		t.Errorf("Phases = %v", sum.Phases)
	}
	if !reflect.DeepEqual(sum.Agents, []string{"analyst", "critic"}) {
		t.Errorf("Agents = %v", sum.Agents)
	}
	if sum.StatusCounts[checkpoint.StatusCompleted] != 1 || sum.StatusCounts["in_progress"] != 1 {
		t.Errorf("StatusCounts = %v", sum.StatusCounts)
	}
	if sum.LastCheckpoint.Before(sum.FirstCheckpoint) {
		t.Error("LastCheckpoint before FirstCheckpoint")
	}
}

func TestReplayFrom(t *testing.T) {
	svc, saver := newTestService(t)
	seedHistory(t, saver)
	ctx := context.Background()

	cp, err := svc.ReplayFrom(ctx, "t1", "phase1_complete", false)
	if err != nil {
		t.Fatalf("ReplayFrom() error = %v", err)
	}
	if cp.Slot != "phase1_complete" {
		t.Errorf("Slot = %q", cp.Slot)
	}

	if _, err := svc.ReplayFrom(ctx, "t1", "phase1_complete", true); !errors.Is(err, waypoint.ErrReplayContinueUnsupported) {
		t.Errorf("continue error = %v, want ErrReplayContinueUnsupported", err)
	}
	if _, err := svc.ReplayFrom(ctx, "t1", "missing", false); !errors.Is(err, waypoint.ErrCheckpointNotFound) {
		t.Errorf("missing error = %v, want ErrCheckpointNotFound", err)
	}
}
