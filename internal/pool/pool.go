// Package pool manages named pools of reusable client handles —
// delivery clients, document-store sessions — lazily created, aged
// out by a periodic sweep, and closed at shutdown.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/versantlabs/schedcore/internal/resilience"
)

// Resource is any reusable handle the manager can own.
type Resource interface {
	Close() error
}

// Factory creates a fresh handle for one pool. Creation is I/O and
// runs through the resilience caller, never under the pool map lock.
type Factory func(ctx context.Context) (Resource, error)

type entry struct {
	handle     Resource
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
}

// EntryStats is the read-only view exposed by Status.
type EntryStats struct {
	Live       bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int64
}

// Manager owns the pool map. The map mutex guards metadata only;
// handle creation happens outside it under a per-pool creation lock,
// then the result is published under a second short hold.
type Manager struct {
	idleTimeout time.Duration
	sweepEvery  time.Duration
	caller      *resilience.Caller
	policy      resilience.Policy
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	factories map[string]Factory
	lastSweep time.Time

	createMu sync.Mutex
	creating map[string]*sync.Mutex
}

func NewManager(idleTimeout time.Duration, caller *resilience.Caller, logger *slog.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Manager{
		idleTimeout: idleTimeout,
		sweepEvery:  idleTimeout / 2,
		caller:      caller,
		policy:      resilience.DefaultPolicy(),
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*entry),
		factories:   make(map[string]Factory),
		creating:    make(map[string]*sync.Mutex),
	}
}

// Register binds a factory to a pool name. Must happen before the
// first Acquire for that name.
func (m *Manager) Register(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

// Acquire returns a live handle for name, creating one when the pool
// is empty or its entry has gone stale. Thread-safe; concurrent
// acquirers of the same pool share one creation.
func (m *Manager) Acquire(ctx context.Context, name string) (Resource, error) {
	m.maybeSweep()

	if r, ok := m.liveHandle(name); ok {
		return r, nil
	}

	// Serialize creation per pool so a burst of acquirers does not
	// open a connection each.
	cl := m.creationLock(name)
	cl.Lock()
	defer cl.Unlock()

	// Another acquirer may have published while we waited.
	if r, ok := m.liveHandle(name); ok {
		return r, nil
	}

	m.mu.Lock()
	factory, ok := m.factories[name]
	old := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no factory registered for pool %q", name)
	}

	var created Resource
	err := m.caller.Do(ctx, "pool_create:"+name, m.policy, func(ctx context.Context) error {
		r, err := factory(ctx)
		if err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create resource for pool %q: %w", name, err)
	}

	if old != nil && old.handle != nil {
		if cerr := old.handle.Close(); cerr != nil {
			m.logger.Warn("closing stale pool handle failed", "pool", name, "err", cerr)
		}
	}

	now := m.now()
	m.mu.Lock()
	m.entries[name] = &entry{
		handle:     created,
		createdAt:  now,
		lastUsedAt: now,
		useCount:   1,
	}
	m.mu.Unlock()

	m.logger.Info("pool handle created", "pool", name)
	return created, nil
}

// Invalidate drops the current handle for name so the next Acquire
// creates a fresh one. Used by the health monitor for forced
// reconnection.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	e := m.entries[name]
	delete(m.entries, name)
	m.mu.Unlock()

	if e != nil && e.handle != nil {
		if err := e.handle.Close(); err != nil {
			m.logger.Warn("closing invalidated handle failed", "pool", name, "err", err)
		}
	}
}

// CloseAll closes every pooled handle. Called at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for name, e := range entries {
		if e.handle == nil {
			continue
		}
		if err := e.handle.Close(); err != nil {
			m.logger.Warn("close pool handle failed", "pool", name, "err", err)
		}
	}
}

// Status reports per-pool usage metadata for observability.
func (m *Manager) Status() map[string]EntryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]EntryStats, len(m.entries))
	for name, e := range m.entries {
		out[name] = EntryStats{
			Live:       e.handle != nil,
			CreatedAt:  e.createdAt,
			LastUsedAt: e.lastUsedAt,
			UseCount:   e.useCount,
		}
	}
	return out
}

func (m *Manager) liveHandle(name string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok || e.handle == nil || m.stale(e, m.now()) {
		return nil, false
	}
	e.lastUsedAt = m.now()
	e.useCount++
	return e.handle, true
}

// stale: idle past idleTimeout, or alive past twice that regardless
// of use.
func (m *Manager) stale(e *entry, now time.Time) bool {
	return now.Sub(e.lastUsedAt) > m.idleTimeout ||
		now.Sub(e.createdAt) > 2*m.idleTimeout
}

func (m *Manager) creationLock(name string) *sync.Mutex {
	m.createMu.Lock()
	defer m.createMu.Unlock()
	l, ok := m.creating[name]
	if !ok {
		l = &sync.Mutex{}
		m.creating[name] = l
	}
	return l
}

// maybeSweep evicts stale entries, at most once per sweep interval.
// Invoked opportunistically from Acquire; no dedicated goroutine.
func (m *Manager) maybeSweep() {
	now := m.now()

	m.mu.Lock()
	if now.Sub(m.lastSweep) < m.sweepEvery {
		m.mu.Unlock()
		return
	}
	m.lastSweep = now

	var evicted []struct {
		name   string
		handle Resource
	}
	for name, e := range m.entries {
		if m.stale(e, now) {
			evicted = append(evicted, struct {
				name   string
				handle Resource
			}{name, e.handle})
			delete(m.entries, name)
		}
	}
	m.mu.Unlock()

	for _, ev := range evicted {
		if ev.handle != nil {
			if err := ev.handle.Close(); err != nil {
				m.logger.Warn("evicted handle close failed", "pool", ev.name, "err", err)
			}
		}
		m.logger.Info("evicted idle pool handle", "pool", ev.name)
	}
}
