// Package delivery defines the outbound notification capability the
// executors call. Concrete transports (SMTP, SMS gateways, push) live
// outside this module; here they are a Deliverer the resilient
// decorator wraps with retry, circuit breaking, and rate limiting.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/pool"
	"github.com/versantlabs/schedcore/internal/resilience"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Message is one outbound notification.
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

// Deliverer sends a message over its channel's transport.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// Gate bounds concurrent sends per channel. Satisfied by
// ratelimit.Limiter; nil-able for deployments without Redis.
type Gate interface {
	TryAcquire(ctx context.Context, channel, token string) (bool, error)
	Release(ctx context.Context, channel, token string) error
}

// ErrChannelSaturated is returned inside the retry loop when a
// channel has no free inflight slot; backoff applies before the next
// claim attempt.
var ErrChannelSaturated = errors.New("delivery channel at capacity")

// Resilient decorates an inner Deliverer with the shared resilience
// caller (per-channel breaker) and an optional rate-limit gate.
type Resilient struct {
	inner  Deliverer
	caller *resilience.Caller
	policy resilience.Policy
	gate   Gate
	logger *slog.Logger
}

func NewResilient(inner Deliverer, caller *resilience.Caller, policy resilience.Policy, gate Gate, logger *slog.Logger) *Resilient {
	return &Resilient{inner: inner, caller: caller, policy: policy, gate: gate, logger: logger}
}

// Deliver sends msg through the resilience wrapper. The breaker is
// named per channel, so a down SMS gateway does not short-circuit
// email.
func (r *Resilient) Deliver(ctx context.Context, msg Message) error {
	op := "deliver:" + msg.Channel
	return r.caller.Do(ctx, op, r.policy, func(ctx context.Context) error {
		if r.gate == nil {
			return r.inner.Deliver(ctx, msg)
		}

		token := uuid.New().String()
		ok, err := r.gate.TryAcquire(ctx, msg.Channel, token)
		if err != nil {
			return fmt.Errorf("claim inflight slot: %w", err)
		}
		if !ok {
			// Saturation is load, not ill health: retried with backoff
			// but never counted against the channel's breaker.
			return resilience.NoTrip(ErrChannelSaturated)
		}
		defer func() {
			if rerr := r.gate.Release(ctx, msg.Channel, token); rerr != nil {
				r.logger.Warn("release inflight slot failed",
					"channel", msg.Channel, "err", rerr)
			}
		}()

		return r.inner.Deliver(ctx, msg)
	})
}

// Transport is a poolable client for one channel: an SMTP session, an
// SMS gateway connection, a push client. Handles live in the pool
// manager and are aged out and recreated there.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Pooled routes each send through the pool manager, acquiring the
// channel's transport handle on demand. Pool names match channel
// names.
type Pooled struct {
	Pools *pool.Manager
}

func (p *Pooled) Deliver(ctx context.Context, msg Message) error {
	res, err := p.Pools.Acquire(ctx, msg.Channel)
	if err != nil {
		return fmt.Errorf("acquire %s transport: %w", msg.Channel, err)
	}
	t, ok := res.(Transport)
	if !ok {
		return fmt.Errorf("pool %q holds %T, not a delivery transport", msg.Channel, res)
	}
	return t.Send(ctx, msg)
}

// LogTransport writes sends to the log instead of a wire protocol.
// Stands in for real transports in the daemon's default wiring.
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.Logger.Info("delivering notification",
		"channel", msg.Channel,
		"recipient", msg.Recipient,
		"subject", msg.Subject)
	return nil
}

func (t *LogTransport) Close() error { return nil }
