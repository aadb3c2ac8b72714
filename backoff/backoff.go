// Package backoff decides whether and when a failed job runs again.
//
// A RetryPolicy combines an attempt budget with a delay Strategy. Strategies
// are stateless and safe for concurrent use.
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
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(attempt), l.Max)
}

// ──────────────────────────────────────────────────
// Power
// ──────────────────────────────────────────────────

// Power grows the delay as Seed^attempt units.
// Delay = min(Seed^attempt * Unit, Max).
type Power struct {
	Seed float64
	Unit time.Duration
	Max  time.Duration
}

// NewPower creates a power backoff strategy counted in seconds.
func NewPower(seed float64, maxDelay time.Duration) *Power {
	return &Power{Seed: seed, Unit: time.Second, Max: maxDelay}
}

// Delay returns Seed^attempt * Unit, capped at Max.
func (p *Power) Delay(attempt int) time.Duration {
	return scaled(float64(p.Unit)*math.Pow(p.Seed, float64(attempt)), p.Max)
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
	return scaled(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := scaled(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// scaled converts a float delay, saturating instead of overflowing.
func scaled(f float64, maxDelay time.Duration) time.Duration {
	if f >= math.MaxInt64 {
		if maxDelay > 0 {
			return maxDelay
		}
		return time.Duration(math.MaxInt64)
	}
	return capped(time.Duration(f), maxDelay)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the delay used by DefaultRetryPolicy:
// 3^attempt seconds, at most one day.
func DefaultStrategy() Strategy {
	return NewPower(3, 24*time.Hour)
}
