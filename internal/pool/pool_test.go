package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versantlabs/schedcore/internal/resilience"
)

type fakeResource struct {
	id     int
	closed atomic.Bool
}

func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(idle time.Duration) (*Manager, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	caller := resilience.NewCaller(5, time.Minute, discard())
	m := NewManager(idle, caller, discard())
	m.now = func() time.Time { return now }
	return m, &now
}

func countingFactory(counter *atomic.Int32) Factory {
	return func(ctx context.Context) (Resource, error) {
		n := counter.Add(1)
		return &fakeResource{id: int(n)}, nil
	}
}

func TestAcquire_CreatesOnceAndReuses(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("smtp", countingFactory(&created))

	r1, err := m.Acquire(context.Background(), "smtp")
	require.NoError(t, err)
	r2, err := m.Acquire(context.Background(), "smtp")
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int64(2), m.Status()["smtp"].UseCount)
}

func TestAcquire_UnknownPool(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	_, err := m.Acquire(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAcquire_RecreatesStaleHandle(t *testing.T) {
	m, now := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("smtp", countingFactory(&created))

	r1, err := m.Acquire(context.Background(), "smtp")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute) // idle past timeout

	r2, err := m.Acquire(context.Background(), "smtp")
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)
	assert.Equal(t, int32(2), created.Load())
	assert.True(t, r1.(*fakeResource).closed.Load(), "stale handle must be closed")
}

func TestSweep_EvictsIdleKeepsFresh(t *testing.T) {
	m, now := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("idle", countingFactory(&created))
	m.Register("fresh", countingFactory(&created))

	_, err := m.Acquire(context.Background(), "idle")
	require.NoError(t, err)

	*now = now.Add(50 * time.Second)
	_, err = m.Acquire(context.Background(), "fresh")
	require.NoError(t, err)

	// idle is now 80s old with no use; fresh was just touched.
	*now = now.Add(30 * time.Second)
	m.maybeSweep()

	status := m.Status()
	_, hasIdle := status["idle"]
	_, hasFresh := status["fresh"]
	assert.False(t, hasIdle, "idle entry should be evicted")
	assert.True(t, hasFresh, "recently used entry should survive")
}

func TestInvalidate_ForcesRecreation(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("db", countingFactory(&created))

	r1, err := m.Acquire(context.Background(), "db")
	require.NoError(t, err)

	m.Invalidate("db")
	assert.True(t, r1.(*fakeResource).closed.Load())

	r2, err := m.Acquire(context.Background(), "db")
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)
	assert.Equal(t, int32(2), created.Load())
}

func TestCloseAll(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("a", countingFactory(&created))
	m.Register("b", countingFactory(&created))

	ra, _ := m.Acquire(context.Background(), "a")
	rb, _ := m.Acquire(context.Background(), "b")

	m.CloseAll()
	assert.True(t, ra.(*fakeResource).closed.Load())
	assert.True(t, rb.(*fakeResource).closed.Load())
	assert.Empty(t, m.Status())
}

func TestAcquire_FactoryFailureSurfaces(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	m.Register("flaky", func(ctx context.Context) (Resource, error) {
		return nil, errors.New("connect refused")
	})
	m.policy = resilience.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, BackoffFactor: 2}

	_, err := m.Acquire(context.Background(), "flaky")
	assert.Error(t, err)
	_, exists := m.Status()["flaky"]
	assert.False(t, exists, "failed creation must not publish an entry")
}

func TestAcquire_ConcurrentSharesOneCreation(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	var created atomic.Int32
	m.Register("smtp", func(ctx context.Context) (Resource, error) {
		time.Sleep(10 * time.Millisecond) // widen the race window
		return &fakeResource{id: int(created.Add(1))}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(context.Background(), "smtp")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}
