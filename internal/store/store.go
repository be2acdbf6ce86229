// Package store persists the three durable collections of the
// scheduling core — schedule config, scheduled jobs, and the audit
// log — plus the release-state rows the executor re-reads.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/domain"
)

var (
	// ErrDuplicatePending is returned by CreateJob when a pending job
	// already exists for the same (target_id, target_type).
	ErrDuplicatePending = errors.New("pending job already exists for target")

	// ErrNotFound is returned by point lookups when no row matches.
	ErrNotFound = errors.New("not found")
)

// Store is the narrow persistence surface the scheduling core runs on.
// Two implementations exist: Postgres for deployments and Memory for
// tests and single-process embedding.
type Store interface {
	// GetConfig returns the stored config for scope, or the default
	// config when none has been written yet.
	GetConfig(ctx context.Context, scope string) (domain.ScheduleConfig, error)
	// PutConfig overwrites the config for its scope.
	PutConfig(ctx context.Context, cfg domain.ScheduleConfig) error

	// CreateJob inserts a pending job. Fails with ErrDuplicatePending
	// when a pending job for the same target exists; enforced by the
	// storage layer, not a read-then-write check.
	CreateJob(ctx context.Context, job domain.ScheduledJob) error
	// CancelJob moves a pending job for target to cancelled. Returns
	// false when no pending job exists — nothing to cancel.
	CancelJob(ctx context.Context, targetID, targetType string, now time.Time) (bool, error)
	// DueJobs returns pending jobs with fire_at <= now, earliest first.
	DueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error)
	// MarkProcessed finishes a job: completed on success, failed
	// otherwise, recording errMsg and the processing instant. Fenced on
	// status so a cancelled or already-finished job is left untouched;
	// returns false in that case.
	MarkProcessed(ctx context.Context, jobID uuid.UUID, success bool, errMsg string, now time.Time) (bool, error)
	// GetJobByTarget returns the most recently created job for target.
	GetJobByTarget(ctx context.Context, targetID, targetType string) (domain.ScheduledJob, error)

	// AppendAudit appends one audit entry. Entries are never mutated.
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
	// AuditHistory returns entries newest first. Empty targetID means
	// all targets. limit caps the result; 0 means a server default.
	AuditHistory(ctx context.Context, targetID string, limit int) ([]domain.AuditEntry, error)
	// HasAudit reports whether an entry with the given action exists
	// for jobID. Exact lookup, not bounded by any history window;
	// executors use it as their idempotency check.
	HasAudit(ctx context.Context, jobID uuid.UUID, action domain.AuditAction) (bool, error)

	// PendingRecipients lists who still needs a reminder for target.
	PendingRecipients(ctx context.Context, targetID, targetType string) ([]domain.Recipient, error)

	// GetReleaseState reads the target's release flag; ErrNotFound when
	// the target does not exist.
	GetReleaseState(ctx context.Context, targetID, targetType string) (domain.ReleaseState, error)
	// SetReleased flips the release flag. Returns false when the flag
	// was already set — the idempotency signal.
	SetReleased(ctx context.Context, targetID, targetType string, now time.Time) (bool, error)
}
