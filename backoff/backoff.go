// Package backoff computes how long a failed entity stays ineligible before
// its next attempt, and when its retry budget is spent.
// All strategies are safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
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
// Delay = min(Base * 2^(attempt-1), Cap).
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Cap.
func (e *Exponential) Delay(attempt int) time.Duration {
	return exponential(e.Base, e.Cap, attempt)
}

// ──────────────────────────────────────────────────
// Jittered
// ──────────────────────────────────────────────────

// Jittered is exponential backoff with proportional jitter: the capped
// exponential delay d is reduced by a random amount in [0, Jitter*d].
// Jitter 0 is fully deterministic, Jitter 1 is full jitter. The result
// never exceeds Cap, which keeps the configured cap a hard upper bound.
type Jittered struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// NewJittered creates an exponential strategy with proportional jitter.
func NewJittered(base, maxDelay time.Duration, jitter float64) *Jittered {
	return &Jittered{Base: base, Cap: maxDelay, Jitter: jitter}
}

// Delay returns the jittered, capped exponential delay.
func (j *Jittered) Delay(attempt int) time.Duration {
	d := exponential(j.Base, j.Cap, attempt)
	return Jitter(d, j.Jitter, j.Rand)
}

// Jitter shortens d by a random fraction of at most frac. rnd may be nil.
func Jitter(d time.Duration, frac float64, rnd func() float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	if rnd == nil {
		rnd = rand.Float64 //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return d - time.Duration(rnd()*frac*float64(d))
}

func exponential(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy pairs a delay strategy with the terminal failure threshold.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
}

// NewPolicy creates a retry policy.
func NewPolicy(maxAttempts int, s Strategy) Policy {
	return Policy{MaxAttempts: maxAttempts, Strategy: s}
}

// Exhausted reports whether attempts failed attempts spend the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// NextEligible returns when an entity that just failed attempt n may run
// again.
func (p Policy) NextEligible(now time.Time, attempt int) time.Time {
	return now.Add(p.Strategy.Delay(attempt))
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// Jittered with 1s base, 1m cap and half jitter.
func DefaultStrategy() Strategy {
	return NewJittered(time.Second, time.Minute, 0.5)
}
