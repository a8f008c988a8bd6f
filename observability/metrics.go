// Package observability ships a metrics extension for the hook registry,
// built on OpenTelemetry. Register it to count checkpoint writes, retry
// pressure, durability degradations, blob routing, approval resolutions,
// and janitor sweeps.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/hook"
)

const meterName = "github.com/xraph/waypoint"

// Metrics is a hook extension recording saver and janitor activity as
// OTel counters. Wire it through hook.Registry.Register.
type Metrics struct {
	saved      metric.Int64Counter
	blobRouted metric.Int64Counter
	retried    metric.Int64Counter
	degraded   metric.Int64Counter
	resolved   metric.Int64Counter
	sweptRows  metric.Int64Counter
	sweeps     metric.Int64Counter
}

var (
	_ hook.Extension        = (*Metrics)(nil)
	_ hook.CheckpointSaved  = (*Metrics)(nil)
	_ hook.WriteRetried     = (*Metrics)(nil)
	_ hook.WriteDegraded    = (*Metrics)(nil)
	_ hook.ApprovalResolved = (*Metrics)(nil)
	_ hook.SweepCompleted   = (*Metrics)(nil)
)

// NewMetrics creates the metrics extension on the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.saved, err = meter.Int64Counter("waypoint.checkpoint.saved",
		metric.WithDescription("Checkpoint writes, by durability outcome."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.blobRouted, err = meter.Int64Counter("waypoint.checkpoint.blob_routed",
		metric.WithDescription("Checkpoint payloads routed to the blob store."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.retried, err = meter.Int64Counter("waypoint.checkpoint.retried",
		metric.WithDescription("Write attempts retried after transient backend failures."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.degraded, err = meter.Int64Counter("waypoint.checkpoint.degraded",
		metric.WithDescription("Writes that fell back to in-process storage."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.resolved, err = meter.Int64Counter("waypoint.approval.resolved",
		metric.WithDescription("Approval requests resolved, by outcome."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.sweptRows, err = meter.Int64Counter("waypoint.janitor.rows_deleted",
		metric.WithDescription("Expired checkpoint rows removed by sweeps."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.sweeps, err = meter.Int64Counter("waypoint.janitor.sweeps",
		metric.WithDescription("Completed janitor sweeps."),
	); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	return m, nil
}

// Name implements hook.Extension.
func (m *Metrics) Name() string { return "otel-metrics" }

// OnCheckpointSaved implements hook.CheckpointSaved.
func (m *Metrics) OnCheckpointSaved(ctx context.Context, res *checkpoint.SaveResult) error {
	m.saved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("durability", string(res.Durability)),
	))
	if res.Blobbed {
		m.blobRouted.Add(ctx, 1)
	}
	return nil
}

// OnWriteRetried implements hook.WriteRetried.
func (m *Metrics) OnWriteRetried(ctx context.Context, threadID, checkpointID string, attempt int, delay time.Duration, err error) error {
	m.retried.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
	))
	return nil
}

// OnWriteDegraded implements hook.WriteDegraded.
func (m *Metrics) OnWriteDegraded(ctx context.Context, threadID, checkpointID string, err error) error {
	m.degraded.Add(ctx, 1)
	return nil
}

// OnApprovalResolved implements hook.ApprovalResolved.
func (m *Metrics) OnApprovalResolved(ctx context.Context, threadID, outcome, approverID string) error {
	m.resolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	return nil
}

// OnSweepCompleted implements hook.SweepCompleted.
func (m *Metrics) OnSweepCompleted(ctx context.Context, rowsDeleted int64, threadsDeleted int, elapsed time.Duration) error {
	m.sweptRows.Add(ctx, rowsDeleted)
	m.sweeps.Add(ctx, 1)
	return nil
}
