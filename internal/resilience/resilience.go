// Package resilience wraps outbound side-effecting calls with retry,
// exponential backoff with jitter, and a per-operation circuit
// breaker. One mechanism, multiple call sites: delivery sends and
// resource creation both go through Caller.Do.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ErrUnavailable is returned without invoking the operation when its
// breaker is open. Callers treat it like any other failed call; the
// point is that the known-down dependency was not hammered.
var ErrUnavailable = errors.New("operation unavailable: circuit breaker open")

// NoTrip marks err as a load failure rather than a health failure:
// retries and backoff still apply, but exhausting them does not count
// against the operation's breaker. A saturated rate limit is the
// canonical case, the dependency behind it is fine.
func NoTrip(err error) error {
	if err == nil {
		return nil
	}
	return noTripError{err: err}
}

type noTripError struct{ err error }

func (e noTripError) Error() string { return e.err.Error() }
func (e noTripError) Unwrap() error { return e.err }

// Policy controls retry pacing for one call site.
type Policy struct {
	MaxRetries    int           // attempts = MaxRetries + 1
	BaseDelay     time.Duration // first backoff
	MaxDelay      time.Duration // backoff cap
	BackoffFactor float64       // multiplier per attempt
}

// DefaultPolicy matches the pacing used for delivery sends.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// breaker tracks consecutive exhausted-retry failures for one named
// operation. Open iff failures >= threshold and the last failure is
// within the cooldown window; the passage of cooldown alone re-closes
// it (half-open: the next call goes through).
type breaker struct {
	failures    int
	lastFailure time.Time
}

// Caller executes operations under a shared breaker registry.
// Construct one per process (or per test) and inject it; there is no
// package-level state.
type Caller struct {
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewCaller builds a Caller whose breakers open after threshold
// consecutive exhausted calls and stay open for cooldown.
func NewCaller(threshold int, cooldown time.Duration, logger *slog.Logger) *Caller {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Caller{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
		breakers:  make(map[string]*breaker),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes fn under opName's breaker. A short-circuited call returns
// ErrUnavailable without touching fn. Transient failures are retried
// per policy; exhausting retries records one failure against the
// breaker and returns the last error. Success resets the breaker.
func (c *Caller) Do(ctx context.Context, opName string, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Re-checked on every attempt: a concurrent caller may have
		// tripped the breaker while this one was backing off.
		if c.isOpen(opName) {
			c.logger.Warn("short-circuiting call", "op", opName)
			return ErrUnavailable
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			c.recordSuccess(opName)
			return nil
		}

		if attempt < attempts {
			delay := backoffDelay(policy, attempt)
			c.logger.Warn("call failed; backing off",
				"op", opName,
				"attempt", attempt,
				"delay", delay,
				"err", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	var noTrip noTripError
	if !errors.As(lastErr, &noTrip) {
		c.recordFailure(opName)
	}
	c.logger.Error("call exhausted retries",
		"op", opName,
		"attempts", attempts,
		"err", lastErr)
	return lastErr
}

// backoffDelay is min(base × factor^(attempt-1), max) plus up to 25%
// jitter, so concurrent callers failing together do not retry in
// lockstep.
func backoffDelay(policy Policy, attempt int) time.Duration {
	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	d := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if policy.MaxDelay > 0 && d >= policy.MaxDelay {
			d = policy.MaxDelay
			break
		}
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func (c *Caller) isOpen(opName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[opName]
	if !ok {
		return false
	}
	return b.failures >= c.threshold && c.now().Sub(b.lastFailure) < c.cooldown
}

func (c *Caller) recordSuccess(opName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[opName]; ok {
		b.failures = 0
	}
}

func (c *Caller) recordFailure(opName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[opName]
	if !ok {
		b = &breaker{}
		c.breakers[opName] = b
	}
	b.failures++
	b.lastFailure = c.now()
}

// BreakerState is a read-only snapshot for introspection.
type BreakerState struct {
	Failures    int
	LastFailure time.Time
	Open        bool
}

// Snapshot returns the state of every breaker seen so far.
func (c *Caller) Snapshot() map[string]BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]BreakerState, len(c.breakers))
	for name, b := range c.breakers {
		out[name] = BreakerState{
			Failures:    b.failures,
			LastFailure: b.lastFailure,
			Open:        b.failures >= c.threshold && c.now().Sub(b.lastFailure) < c.cooldown,
		}
	}
	return out
}
