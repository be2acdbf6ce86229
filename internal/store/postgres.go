package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/versantlabs/schedcore/internal/domain"
)

// Postgres implements Store on a pgx connection pool. The duplicate
// pending-job invariant is enforced by a partial unique index on
// (target_id, target_type) WHERE status = 'pending', so concurrent
// creators cannot race past an advisory check.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const uniqueViolation = "23505"

func (s *Postgres) GetConfig(ctx context.Context, scope string) (domain.ScheduleConfig, error) {
	cfg := domain.ScheduleConfig{Scope: scope}
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, rule, days, hour, minute, timezone, updated_at
		FROM schedule_config
		WHERE scope = $1`, scope,
	).Scan(&cfg.Enabled, &cfg.Rule, &cfg.Days, &cfg.Hour, &cfg.Minute,
		&cfg.Timezone, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultConfig(scope), nil
	}
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	return cfg, nil
}

func (s *Postgres) PutConfig(ctx context.Context, cfg domain.ScheduleConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_config
			(scope, enabled, rule, days, hour, minute, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			enabled    = EXCLUDED.enabled,
			rule       = EXCLUDED.rule,
			days       = EXCLUDED.days,
			hour       = EXCLUDED.hour,
			minute     = EXCLUDED.minute,
			timezone   = EXCLUDED.timezone,
			updated_at = NOW()`,
		cfg.Scope, cfg.Enabled, string(cfg.Rule), cfg.Days, cfg.Hour,
		cfg.Minute, cfg.Timezone)
	return err
}

func (s *Postgres) CreateJob(ctx context.Context, job domain.ScheduledJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs
			(id, target_id, target_type, fire_at, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)`,
		job.ID, job.TargetID, job.TargetType, job.FireAt, job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicatePending
	}
	return err
}

func (s *Postgres) CancelJob(ctx context.Context, targetID, targetType string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET
			status       = 'cancelled',
			processed_at = $3
		WHERE target_id = $1 AND target_type = $2 AND status = 'pending'`,
		targetID, targetType, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) DueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_id, target_type, fire_at, status, created_at,
		       processed_at, error_message
		FROM scheduled_jobs
		WHERE status = 'pending' AND fire_at <= $1
		ORDER BY fire_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		var status string
		if err := rows.Scan(&j.ID, &j.TargetID, &j.TargetType, &j.FireAt,
			&status, &j.CreatedAt, &j.ProcessedAt, &j.ErrorMessage); err != nil {
			return nil, err
		}
		j.Status = domain.JobStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Postgres) MarkProcessed(ctx context.Context, jobID uuid.UUID, success bool, errMsg string, now time.Time) (bool, error) {
	status := domain.StatusCompleted
	if !success {
		status = domain.StatusFailed
	}
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET
			status        = $2,
			processed_at  = $3,
			error_message = $4
		WHERE id = $1 AND status = 'pending'`,
		jobID, string(status), now, msg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) GetJobByTarget(ctx context.Context, targetID, targetType string) (domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, target_id, target_type, fire_at, status, created_at,
		       processed_at, error_message
		FROM scheduled_jobs
		WHERE target_id = $1 AND target_type = $2
		ORDER BY created_at DESC
		LIMIT 1`, targetID, targetType,
	).Scan(&j.ID, &j.TargetID, &j.TargetType, &j.FireAt, &status,
		&j.CreatedAt, &j.ProcessedAt, &j.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledJob{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	j.Status = domain.JobStatus(status)
	return j, nil
}

func (s *Postgres) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log
			(id, target_id, action, actor, auto, job_id, trace_id, note, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TargetID, string(e.Action), e.Actor, e.Auto, e.JobID,
		e.TraceID, e.Note, e.Timestamp)
	return err
}

func (s *Postgres) AuditHistory(ctx context.Context, targetID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_id, action, actor, auto, job_id, trace_id, note, ts
		FROM audit_log
		WHERE ($1 = '' OR target_id = $1)
		ORDER BY ts DESC
		LIMIT $2`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		if err := rows.Scan(&e.ID, &e.TargetID, &action, &e.Actor, &e.Auto,
			&e.JobID, &e.TraceID, &e.Note, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) HasAudit(ctx context.Context, jobID uuid.UUID, action domain.AuditAction) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audit_log
			WHERE job_id = $1 AND action = $2
		)`, jobID, string(action),
	).Scan(&exists)
	return exists, err
}

func (s *Postgres) PendingRecipients(ctx context.Context, targetID, targetType string) ([]domain.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, email, channel
		FROM reminder_recipients
		WHERE target_id = $1 AND target_type = $2 AND notified = FALSE
		ORDER BY email`, targetID, targetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.Name, &r.Email, &r.Channel); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

func (s *Postgres) GetReleaseState(ctx context.Context, targetID, targetType string) (domain.ReleaseState, error) {
	rs := domain.ReleaseState{TargetID: targetID, TargetType: targetType}
	err := s.pool.QueryRow(ctx, `
		SELECT released, released_at, end_at
		FROM release_state
		WHERE target_id = $1 AND target_type = $2`, targetID, targetType,
	).Scan(&rs.Released, &rs.ReleasedAt, &rs.EndAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReleaseState{}, ErrNotFound
	}
	if err != nil {
		return domain.ReleaseState{}, err
	}
	return rs, nil
}

func (s *Postgres) SetReleased(ctx context.Context, targetID, targetType string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE release_state SET
			released    = TRUE,
			released_at = $3
		WHERE target_id = $1 AND target_type = $2 AND released = FALSE`,
		targetID, targetType, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
