package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckOnce_SuccessResetsCounter(t *testing.T) {
	fail := true
	m := NewMonitor(time.Second, time.Second, 5,
		func(ctx context.Context) error {
			if fail {
				return errors.New("down")
			}
			return nil
		},
		nil, discard())

	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	require.Equal(t, 2, m.GetHealth().ErrorCount)
	require.False(t, m.GetHealth().IsHealthy)

	fail = false
	m.CheckOnce(context.Background())
	h := m.GetHealth()
	assert.Equal(t, 0, h.ErrorCount)
	assert.True(t, h.IsHealthy)
	assert.False(t, h.LastCheck.IsZero())
}

func TestCheckOnce_ThresholdTriggersReconnect(t *testing.T) {
	reconnects := 0
	m := NewMonitor(time.Second, time.Second, 3,
		func(ctx context.Context) error { return errors.New("down") },
		func(ctx context.Context) error { reconnects++; return nil },
		discard())

	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	assert.Equal(t, 0, reconnects, "below threshold: no reconnect yet")

	m.CheckOnce(context.Background())
	assert.Equal(t, 1, reconnects)
	h := m.GetHealth()
	assert.Equal(t, 0, h.ErrorCount, "successful reconnect resets the counter")
	assert.True(t, h.IsHealthy)
}

func TestCheckOnce_FailedReconnectKeepsCounting(t *testing.T) {
	m := NewMonitor(time.Second, time.Second, 2,
		func(ctx context.Context) error { return errors.New("down") },
		func(ctx context.Context) error { return errors.New("still down") },
		discard())

	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	h := m.GetHealth()
	assert.Equal(t, 3, h.ErrorCount)
	assert.False(t, h.IsHealthy)
}

func TestRun_SetsMonitoringFlag(t *testing.T) {
	m := NewMonitor(5*time.Millisecond, time.Second, 3,
		func(ctx context.Context) error { return nil },
		nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return m.GetHealth().IsMonitoring
	}, time.Second, time.Millisecond)

	assert.Eventually(t, func() bool {
		return m.GetHealth().IsHealthy
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.False(t, m.GetHealth().IsMonitoring)
}
