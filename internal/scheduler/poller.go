package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/domain"
	"github.com/versantlabs/schedcore/internal/executor"
	"github.com/versantlabs/schedcore/internal/store"
)

// DefaultPollInterval bounds scheduling latency for the whole
// subsystem: a job fires at most one interval after its fire time.
const DefaultPollInterval = time.Minute

// Poller is the single background loop that fetches due jobs and
// dispatches them sequentially, earliest fire time first. The design
// assumes one active poller per job store; idempotent executors guard
// the restart window.
type Poller struct {
	store    store.Store
	registry *executor.Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewPoller(st store.Store, reg *executor.Registry, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    st,
		registry: reg,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the poller's clock. Tests only.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run ticks until ctx is canceled. A job created after a tick started
// waits for the next tick; no cross-tick ordering is guaranteed.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		"interval", p.interval,
		"executors", p.registry.Names())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes every currently due job. Failures are isolated per
// job: the job is marked failed with its error and the loop moves on.
// Nothing thrown here ever crosses the tick boundary.
func (p *Poller) Tick(ctx context.Context) {
	due, err := p.store.DueJobs(ctx, p.now())
	if err != nil {
		p.logger.Error("poll for due jobs failed", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}

	p.logger.Info("processing due jobs", "count", len(due))
	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		p.processJob(ctx, job)
	}
}

func (p *Poller) processJob(ctx context.Context, job domain.ScheduledJob) {
	traceID := uuid.New().String()
	log := p.logger.With(
		"job_id", job.ID,
		"target_id", job.TargetID,
		"target_type", job.TargetType,
		"trace_id", traceID)

	execErr := p.executeSafely(ctx, job, traceID, log)

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	updated, err := p.store.MarkProcessed(ctx, job.ID, execErr == nil, errMsg, p.now())
	if err != nil {
		log.Error("failed to record job outcome", "err", err)
		return
	}
	if !updated {
		// Cancelled (or otherwise finished) between poll and mark.
		log.Warn("stale job transition ignored")
		return
	}

	if execErr != nil {
		log.Warn("job failed", "err", execErr)
	} else {
		log.Info("job completed")
	}
}

// executeSafely dispatches one job and converts panics into errors so
// a broken executor cannot kill the poll loop.
func (p *Poller) executeSafely(ctx context.Context, job domain.ScheduledJob, traceID string, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			log.Error("executor panicked", "panic", r)
		}
	}()

	exec, lookupErr := p.registry.Lookup(job.TargetType)
	if lookupErr != nil {
		return lookupErr
	}
	return exec.Execute(ctx, job, traceID)
}
