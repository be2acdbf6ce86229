// Package scheduler is the in-process surface of the scheduling core:
// config administration, schedule lifecycle, audit queries, and the
// background poller that dispatches due jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/domain"
	"github.com/versantlabs/schedcore/internal/rules"
	"github.com/versantlabs/schedcore/internal/store"
)

// Scheduler owns schedule-config reads/writes and job creation. It is
// an explicitly constructed service — no package state — so tests run
// isolated instances freely.
type Scheduler struct {
	store  store.Store
	scope  string
	logger *slog.Logger
	now    func() time.Time
}

func New(st store.Store, scope string, logger *slog.Logger) *Scheduler {
	if scope == "" {
		scope = domain.DefaultScope
	}
	return &Scheduler{store: st, scope: scope, logger: logger, now: time.Now}
}

// WithClock overrides the scheduler's clock. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) GetConfig(ctx context.Context) (domain.ScheduleConfig, error) {
	return s.store.GetConfig(ctx, s.scope)
}

// UpdateConfig validates and overwrites the scheduling policy.
// Invalid rule fields never reach the rule engine.
func (s *Scheduler) UpdateConfig(ctx context.Context, cfg domain.ScheduleConfig) error {
	cfg.Scope = s.scope
	if err := rules.Validate(cfg); err != nil {
		return fmt.Errorf("invalid schedule config: %w", err)
	}
	if err := s.store.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("store schedule config: %w", err)
	}
	s.logger.Info("schedule config updated",
		"scope", s.scope, "enabled", cfg.Enabled, "rule", cfg.Rule)
	return nil
}

// CreateSchedule computes the fire time for a triggering event and
// stores a pending job. Returns (nil, nil) when the active config
// produces no fire time — scheduling disabled, or the rule needs an
// end time the event lacks. Returns store.ErrDuplicatePending when a
// pending job for the target already exists.
func (s *Scheduler) CreateSchedule(ctx context.Context, targetID, targetType string, createdAt time.Time, endAt *time.Time) (*uuid.UUID, error) {
	cfg, err := s.store.GetConfig(ctx, s.scope)
	if err != nil {
		return nil, fmt.Errorf("read schedule config: %w", err)
	}

	fireAt, ok := rules.ComputeFireTime(cfg, createdAt, endAt, s.now())
	if !ok {
		s.logger.Debug("no fire time for target; job not created",
			"target_id", targetID, "rule", cfg.Rule, "enabled", cfg.Enabled)
		return nil, nil
	}

	job := domain.ScheduledJob{
		ID:         uuid.New(),
		TargetID:   targetID,
		TargetType: targetType,
		FireAt:     fireAt,
		Status:     domain.StatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job scheduled",
		"job_id", job.ID,
		"target_id", targetID,
		"target_type", targetType,
		"fire_at", fireAt)
	return &job.ID, nil
}

// CancelSchedule cancels the pending job for a target. False means
// nothing was pending — already processed, already cancelled, or
// never scheduled. The cancel is a compare-and-set on status; a job
// mid-execution runs to completion.
func (s *Scheduler) CancelSchedule(ctx context.Context, targetID, targetType string) (bool, error) {
	ok, err := s.store.CancelJob(ctx, targetID, targetType, s.now())
	if err != nil {
		return false, fmt.Errorf("cancel job for %s/%s: %w", targetType, targetID, err)
	}
	if ok {
		s.logger.Info("job cancelled", "target_id", targetID, "target_type", targetType)
	}
	return ok, nil
}

// GetSchedule returns the latest job for a target, store.ErrNotFound
// when none exists.
func (s *Scheduler) GetSchedule(ctx context.Context, targetID, targetType string) (domain.ScheduledJob, error) {
	return s.store.GetJobByTarget(ctx, targetID, targetType)
}

// History returns audit entries, newest first. Empty targetID means
// all targets.
func (s *Scheduler) History(ctx context.Context, targetID string, limit int) ([]domain.AuditEntry, error) {
	return s.store.AuditHistory(ctx, targetID, limit)
}
