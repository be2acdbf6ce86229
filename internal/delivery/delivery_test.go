package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versantlabs/schedcore/internal/pool"
	"github.com/versantlabs/schedcore/internal/resilience"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastCaller() *resilience.Caller {
	return resilience.NewCaller(3, time.Minute, discard())
}

func fastPolicy(retries int) resilience.Policy {
	return resilience.Policy{MaxRetries: retries, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
}

type flakyDeliverer struct {
	failures int
	calls    int
	sent     []Message
}

func (d *flakyDeliverer) Deliver(_ context.Context, msg Message) error {
	d.calls++
	if d.calls <= d.failures {
		return errors.New("gateway timeout")
	}
	d.sent = append(d.sent, msg)
	return nil
}

type fakeGate struct {
	capacity int
	inflight map[string]int
	releases int
}

func (g *fakeGate) TryAcquire(_ context.Context, channel, token string) (bool, error) {
	if g.inflight == nil {
		g.inflight = make(map[string]int)
	}
	if g.inflight[channel] >= g.capacity {
		return false, nil
	}
	g.inflight[channel]++
	return true, nil
}

func (g *fakeGate) Release(_ context.Context, channel, token string) error {
	g.inflight[channel]--
	g.releases++
	return nil
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	inner := &flakyDeliverer{failures: 2}
	r := NewResilient(inner, fastCaller(), fastPolicy(3), nil, discard())

	err := r.Deliver(context.Background(), Message{Channel: ChannelEmail, Recipient: "s1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, inner.sent, 1)
}

func TestResilient_BreakerIsPerChannel(t *testing.T) {
	caller := resilience.NewCaller(1, time.Minute, discard())
	down := &flakyDeliverer{failures: 1 << 30}
	r := NewResilient(down, caller, fastPolicy(0), nil, discard())

	err := r.Deliver(context.Background(), Message{Channel: ChannelSMS, Recipient: "+100"})
	require.Error(t, err)

	// sms breaker is open now; email still goes through.
	err = r.Deliver(context.Background(), Message{Channel: ChannelSMS, Recipient: "+100"})
	assert.ErrorIs(t, err, resilience.ErrUnavailable)

	up := &flakyDeliverer{}
	r2 := NewResilient(up, caller, fastPolicy(0), nil, discard())
	err = r2.Deliver(context.Background(), Message{Channel: ChannelEmail, Recipient: "s1@example.com"})
	assert.NoError(t, err)
}

func TestResilient_GateClaimsAndReleases(t *testing.T) {
	inner := &flakyDeliverer{}
	gate := &fakeGate{capacity: 1}
	r := NewResilient(inner, fastCaller(), fastPolicy(0), gate, discard())

	err := r.Deliver(context.Background(), Message{Channel: ChannelEmail, Recipient: "s1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, gate.releases)
	assert.Equal(t, 0, gate.inflight[ChannelEmail])
}

type fakeTransport struct {
	sent []Message
}

func (t *fakeTransport) Send(_ context.Context, msg Message) error {
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func TestPooled_AcquiresChannelTransport(t *testing.T) {
	pools := pool.NewManager(time.Minute, fastCaller(), discard())
	transport := &fakeTransport{}
	pools.Register(ChannelEmail, func(ctx context.Context) (pool.Resource, error) {
		return transport, nil
	})

	p := &Pooled{Pools: pools}
	err := p.Deliver(context.Background(), Message{Channel: ChannelEmail, Recipient: "s1@example.com"})
	require.NoError(t, err)
	assert.Len(t, transport.sent, 1)

	// Unregistered channel surfaces an error rather than silently dropping.
	err = p.Deliver(context.Background(), Message{Channel: ChannelSMS, Recipient: "+100"})
	assert.Error(t, err)
}

func TestResilient_SaturatedChannelFailsAfterRetries(t *testing.T) {
	inner := &flakyDeliverer{}
	gate := &fakeGate{capacity: 0}
	r := NewResilient(inner, fastCaller(), fastPolicy(2), gate, discard())

	err := r.Deliver(context.Background(), Message{Channel: ChannelPush, Recipient: "device-1"})
	assert.ErrorIs(t, err, ErrChannelSaturated)
	assert.Equal(t, 0, inner.calls)
}

// A channel stuck at capacity reports saturation but never opens its
// breaker: once a slot frees up, delivery resumes without a cooldown.
func TestResilient_SaturationDoesNotOpenBreaker(t *testing.T) {
	inner := &flakyDeliverer{}
	gate := &fakeGate{capacity: 0}
	caller := resilience.NewCaller(1, time.Minute, discard())
	r := NewResilient(inner, caller, fastPolicy(0), gate, discard())

	for i := 0; i < 5; i++ {
		err := r.Deliver(context.Background(), Message{Channel: ChannelPush, Recipient: "device-1"})
		require.ErrorIs(t, err, ErrChannelSaturated)
	}
	assert.False(t, caller.Snapshot()["deliver:"+ChannelPush].Open)

	gate.capacity = 1
	err := r.Deliver(context.Background(), Message{Channel: ChannelPush, Recipient: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}
