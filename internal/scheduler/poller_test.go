package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versantlabs/schedcore/internal/domain"
	"github.com/versantlabs/schedcore/internal/executor"
	"github.com/versantlabs/schedcore/internal/store"
)

func newUUID(t *testing.T, _ int) uuid.UUID {
	t.Helper()
	return uuid.New()
}

type scriptedExecutor struct {
	executed []domain.ScheduledJob
	fail     map[string]error
	panicOn  string
}

func (e *scriptedExecutor) Execute(_ context.Context, job domain.ScheduledJob, _ string) error {
	if job.TargetID == e.panicOn {
		panic("executor blew up")
	}
	if err, ok := e.fail[job.TargetID]; ok {
		return err
	}
	e.executed = append(e.executed, job)
	return nil
}

func TestTick_ProcessesDueJobsInFireOrder(t *testing.T) {
	st := store.NewMemory()
	exec := &scriptedExecutor{}
	reg := executor.NewRegistry()
	reg.Register("test", exec)

	clock := ts("2025-01-05T00:00:00Z")
	p := NewPoller(st, reg, time.Minute, discard()).WithClock(func() time.Time { return clock })

	for i, fire := range []string{"2025-01-03T00:00:00Z", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"} {
		require.NoError(t, st.CreateJob(context.Background(), domain.ScheduledJob{
			ID:         newUUID(t, i),
			TargetID:   fire,
			TargetType: "test",
			FireAt:     ts(fire),
			CreatedAt:  ts(fire),
		}))
	}
	// Not yet due; must survive the tick untouched.
	require.NoError(t, st.CreateJob(context.Background(), domain.ScheduledJob{
		ID:         newUUID(t, 9),
		TargetID:   "future",
		TargetType: "test",
		FireAt:     ts("2025-02-01T00:00:00Z"),
		CreatedAt:  ts("2025-01-01T00:00:00Z"),
	}))

	p.Tick(context.Background())

	require.Len(t, exec.executed, 3)
	assert.Equal(t, "2025-01-01T00:00:00Z", exec.executed[0].TargetID)
	assert.Equal(t, "2025-01-02T00:00:00Z", exec.executed[1].TargetID)
	assert.Equal(t, "2025-01-03T00:00:00Z", exec.executed[2].TargetID)

	future, err := st.GetJobByTarget(context.Background(), "future", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, future.Status)
}

// One failing job must not stop the rest of the tick, and the failure
// is recorded on that job alone.
func TestTick_IsolatesPerJobFailures(t *testing.T) {
	st := store.NewMemory()
	exec := &scriptedExecutor{fail: map[string]error{"broken": errors.New("target gone")}}
	reg := executor.NewRegistry()
	reg.Register("test", exec)

	clock := ts("2025-01-05T00:00:00Z")
	p := NewPoller(st, reg, time.Minute, discard()).WithClock(func() time.Time { return clock })

	for i, target := range []string{"broken", "healthy"} {
		require.NoError(t, st.CreateJob(context.Background(), domain.ScheduledJob{
			ID:         newUUID(t, i),
			TargetID:   target,
			TargetType: "test",
			FireAt:     ts("2025-01-01T00:00:00Z").Add(time.Duration(i) * time.Hour),
			CreatedAt:  ts("2025-01-01T00:00:00Z"),
		}))
	}

	p.Tick(context.Background())

	broken, err := st.GetJobByTarget(context.Background(), "broken", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, broken.Status)
	require.NotNil(t, broken.ErrorMessage)
	assert.Contains(t, *broken.ErrorMessage, "target gone")

	healthy, err := st.GetJobByTarget(context.Background(), "healthy", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, healthy.Status)
}

func TestTick_PanicMarksJobFailed(t *testing.T) {
	st := store.NewMemory()
	exec := &scriptedExecutor{panicOn: "kaboom"}
	reg := executor.NewRegistry()
	reg.Register("test", exec)

	clock := ts("2025-01-05T00:00:00Z")
	p := NewPoller(st, reg, time.Minute, discard()).WithClock(func() time.Time { return clock })

	require.NoError(t, st.CreateJob(context.Background(), domain.ScheduledJob{
		ID:         newUUID(t, 1),
		TargetID:   "kaboom",
		TargetType: "test",
		FireAt:     ts("2025-01-01T00:00:00Z"),
		CreatedAt:  ts("2025-01-01T00:00:00Z"),
	}))

	assert.NotPanics(t, func() { p.Tick(context.Background()) })

	job, err := st.GetJobByTarget(context.Background(), "kaboom", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "panic")
}

func TestTick_UnknownTargetTypeFailsJob(t *testing.T) {
	st := store.NewMemory()
	reg := executor.NewRegistry()

	clock := ts("2025-01-05T00:00:00Z")
	p := NewPoller(st, reg, time.Minute, discard()).WithClock(func() time.Time { return clock })

	require.NoError(t, st.CreateJob(context.Background(), domain.ScheduledJob{
		ID:         newUUID(t, 1),
		TargetID:   "t1",
		TargetType: "mystery",
		FireAt:     ts("2025-01-01T00:00:00Z"),
		CreatedAt:  ts("2025-01-01T00:00:00Z"),
	}))

	p.Tick(context.Background())

	job, err := st.GetJobByTarget(context.Background(), "t1", "mystery")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
}

// Full pipeline: days_after_end(2) config, event with an end time,
// clock advanced past the fire time, one poll tick. The job completes
// and exactly one auto_released audit entry appears.
func TestEndToEnd_AutoRelease(t *testing.T) {
	st := store.NewMemory()
	clock := ts("2025-01-01T09:00:00Z")
	now := func() time.Time { return clock }

	s := New(st, "", discard()).WithClock(now)
	require.NoError(t, s.UpdateConfig(context.Background(), domain.ScheduleConfig{
		Enabled: true, Rule: domain.RuleDaysAfterEnd, Days: 2,
	}))

	require.NoError(t, st.PutReleaseState(context.Background(), domain.ReleaseState{
		TargetID: "test-42", TargetType: "test",
	}))

	end := ts("2025-01-10T17:00:00Z")
	id, err := s.CreateSchedule(context.Background(), "test-42", "test", clock, &end)
	require.NoError(t, err)
	require.NotNil(t, id)

	reg := executor.NewRegistry()
	reg.Register("test", &executor.Release{Store: st, Logger: discard(), Now: now})
	p := NewPoller(st, reg, time.Minute, discard()).WithClock(now)

	// Before the fire time nothing happens.
	p.Tick(context.Background())
	job, err := s.GetSchedule(context.Background(), "test-42", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	// Advance past end + 2 days and tick once.
	clock = ts("2025-01-12T17:00:01Z")
	p.Tick(context.Background())

	job, err = s.GetSchedule(context.Background(), "test-42", "test")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.ProcessedAt)

	rs, err := st.GetReleaseState(context.Background(), "test-42", "test")
	require.NoError(t, err)
	assert.True(t, rs.Released)

	history, err := s.History(context.Background(), "test-42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionAutoReleased, history[0].Action)
	assert.True(t, history[0].Auto)
	assert.Equal(t, *id, *history[0].JobID)
}
