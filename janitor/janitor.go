// Package janitor runs the background retention sweep: expired checkpoint
// rows are deleted from the table backend and stale thread registry
// entries are dropped, on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/thread"
)

// Emitter emits sweep lifecycle events.
// hook.Registry satisfies this interface via EmitSweepCompleted.
type Emitter interface {
	EmitSweepCompleted(ctx context.Context, rowsDeleted int64, threadsDeleted int, elapsed time.Duration)
}

// noopEmitter is the default Emitter.
type noopEmitter struct{}

func (noopEmitter) EmitSweepCompleted(context.Context, int64, int, time.Duration) {}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithEmitter sets the sweep event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Sweeper) { s.emitter = e }
}

// WithThreadRetention sets how long finished threads stay in the
// in-process registry before a sweep drops them.
func WithThreadRetention(d time.Duration) Option {
	return func(s *Sweeper) { s.threadRetention = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Sweeper deletes expired checkpoint rows and stale registry threads on a
// schedule. The table backend's native TTL (where it has one) makes the
// sweep a cheap no-op; elsewhere the sweep is the TTL.
type Sweeper struct {
	table   checkpoint.Table
	threads *thread.Manager
	logger  *slog.Logger
	emitter Emitter

	schedule        cronlib.Schedule
	threadRetention time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper over the table backend and thread
// registry. threads may be nil when no registry sweep is wanted. The
// schedule is a cron expression ("0 3 * * *") or descriptor ("@every 1h").
func NewSweeper(table checkpoint.Table, threads *thread.Manager, schedule string, opts ...Option) (*Sweeper, error) {
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("janitor: parse schedule %q: %w", schedule, err)
	}

	s := &Sweeper{
		table:           table,
		threads:         threads,
		logger:          slog.Default(),
		emitter:         noopEmitter{},
		schedule:        parsed,
		threadRetention: 30 * 24 * time.Hour,
		stopCh:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start launches the sweep goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("janitor started",
		slog.Time("next_sweep", s.schedule.Next(time.Now())),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for the goroutine to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("janitor stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one retention pass immediately and returns how many rows and
// registry threads were removed. Safe to call alongside the scheduled
// loop.
func (s *Sweeper) Sweep(ctx context.Context) (int64, int) {
	start := time.Now()

	rows, err := s.table.DeleteExpired(ctx, start.UTC())
	if err != nil {
		s.logger.Error("expiry sweep failed",
			slog.String("error", err.Error()),
		)
	}

	threads := 0
	if s.threads != nil {
		threads = s.threads.CleanupOlderThan(s.threadRetention)
	}

	elapsed := time.Since(start)
	s.logger.Info("sweep completed",
		slog.Int64("rows_deleted", rows),
		slog.Int("threads_deleted", threads),
		slog.Duration("elapsed", elapsed),
	)
	s.emitter.EmitSweepCompleted(ctx, rows, threads, elapsed)
	return rows, threads
}
