// Package backoff provides pluggable retry delay strategies for checkpoint
// writes. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (proportional jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter spreads an exponential base by a proportional
// jitter band. Delay = base ± (base * Jitter), where base is
// min(Initial * 2^(attempt-1), Max). Unlike full jitter, the delay
// sequence stays non-decreasing on average, which keeps worst-case
// write latency predictable while still desynchronizing concurrent
// retriers.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the half-width of the jitter band as a fraction of the
	// base delay. 0.1 means ±10%.
	Jitter float64
}

// NewExponentialWithJitter creates an exponential backoff with a
// proportional jitter band.
func NewExponentialWithJitter(initial, maxDelay time.Duration, jitter float64) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Jitter: jitter}
}

// Delay returns a random duration in [base*(1-Jitter), base*(1+Jitter)]
// where base = min(Initial * 2^(attempt-1), Max).
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter <= 0 {
		return time.Duration(base)
	}
	// Uniform in [-Jitter, +Jitter].
	offset := (rand.Float64()*2 - 1) * e.Jitter //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(base * (1 + offset))
}

// Base returns the un-jittered delay for attempt n. Exposed so callers
// can reason about the worst-case delay sequence.
func (e *ExponentialWithJitter) Base(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(base)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the checkpoint
// saver: exponential with 100ms initial delay, 1.6s cap, and ±10% jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 1600*time.Millisecond, 0.1)
}
