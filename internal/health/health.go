// Package health runs a background liveness loop against one
// canonical resource and forces a reconnect after repeated failures.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks liveness of the monitored resource. It must be cheap;
// each call runs under the monitor's probe timeout.
type Probe func(ctx context.Context) error

// Reconnect discards the current handle and establishes a fresh one.
// Invoked once the consecutive-failure threshold is reached.
type Reconnect func(ctx context.Context) error

// Health is the snapshot returned to external callers.
type Health struct {
	IsHealthy    bool
	ErrorCount   int
	LastCheck    time.Time
	IsMonitoring bool
}

type Monitor struct {
	interval  time.Duration
	timeout   time.Duration
	threshold int
	probe     Probe
	reconnect Reconnect
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	errorCount int
	lastCheck  time.Time
	healthy    bool
	monitoring bool
}

func NewMonitor(interval, probeTimeout time.Duration, threshold int,
	probe Probe, reconnect Reconnect, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Monitor{
		interval:  interval,
		timeout:   probeTimeout,
		threshold: threshold,
		probe:     probe,
		reconnect: reconnect,
		logger:    logger,
		now:       time.Now,
	}
}

// Run ticks until ctx is canceled. Must be started in its own
// goroutine; probe latency never blocks request-serving work.
func (m *Monitor) Run(ctx context.Context) {
	m.setMonitoring(true)
	defer m.setMonitoring(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single probe tick: reset the counter on success,
// count and log on failure, and past the threshold attempt a forced
// reconnect (resetting the counter if that succeeds).
func (m *Monitor) CheckOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(probeCtx)
	cancel()

	m.mu.Lock()
	m.lastCheck = m.now()
	if err == nil {
		m.errorCount = 0
		m.healthy = true
		m.mu.Unlock()
		return
	}
	m.errorCount++
	m.healthy = false
	count := m.errorCount
	m.mu.Unlock()

	m.logger.Warn("health probe failed", "err", err, "consecutive", count)
	if count < m.threshold {
		return
	}

	m.logger.Error("failure threshold reached; forcing reconnect", "consecutive", count)
	if m.reconnect == nil {
		return
	}
	if rerr := m.reconnect(ctx); rerr != nil {
		m.logger.Error("forced reconnect failed", "err", rerr)
		return
	}

	m.mu.Lock()
	m.errorCount = 0
	m.healthy = true
	m.mu.Unlock()
	m.logger.Info("forced reconnect succeeded")
}

// GetHealth returns the current snapshot, e.g. for an operational
// dashboard or CLI.
func (m *Monitor) GetHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		IsHealthy:    m.healthy,
		ErrorCount:   m.errorCount,
		LastCheck:    m.lastCheck,
		IsMonitoring: m.monitoring,
	}
}

func (m *Monitor) setMonitoring(v bool) {
	m.mu.Lock()
	m.monitoring = v
	m.mu.Unlock()
}
