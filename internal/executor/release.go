// Package executor holds the side-effecting actions dispatched by the
// poller: releasing test results and sending reminder batches. Every
// executor re-reads its target before acting, so duplicate dispatch
// from a restarted poller is harmless.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/domain"
	"github.com/versantlabs/schedcore/internal/store"
)

// Release flips a target's released flag and appends an auto_released
// audit entry. The flag itself is the idempotency anchor: when it is
// already set the job completes with no new audit row.
type Release struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (e *Release) Execute(ctx context.Context, job domain.ScheduledJob, traceID string) error {
	now := e.now()

	rs, err := e.Store.GetReleaseState(ctx, job.TargetID, job.TargetType)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("target %s/%s does not exist", job.TargetType, job.TargetID)
	}
	if err != nil {
		return fmt.Errorf("read release state: %w", err)
	}

	if rs.Released {
		e.Logger.Info("target already released; nothing to do",
			"target_id", job.TargetID, "job_id", job.ID, "trace_id", traceID)
		return nil
	}

	flipped, err := e.Store.SetReleased(ctx, job.TargetID, job.TargetType, now)
	if err != nil {
		return fmt.Errorf("set released: %w", err)
	}
	if !flipped {
		// Lost a race with a manual release between read and write.
		e.Logger.Info("target released concurrently; nothing to do",
			"target_id", job.TargetID, "job_id", job.ID, "trace_id", traceID)
		return nil
	}

	jobID := job.ID
	entry := domain.AuditEntry{
		ID:        uuid.New(),
		TargetID:  job.TargetID,
		Action:    domain.ActionAutoReleased,
		Auto:      true,
		JobID:     &jobID,
		TraceID:   traceID,
		Timestamp: now,
	}
	if err := e.Store.AppendAudit(ctx, entry); err != nil {
		// The release itself committed; losing the audit row is worth
		// a loud log line but not a failed job.
		e.Logger.Error("audit append failed after release",
			"target_id", job.TargetID, "job_id", job.ID, "err", err)
	}

	e.Logger.Info("results auto-released",
		"target_id", job.TargetID, "job_id", job.ID, "trace_id", traceID)
	return nil
}

func (e *Release) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
