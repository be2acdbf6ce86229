package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/domain"
)

// Memory is an in-process Store for tests and single-process
// embedding. It enforces the same invariants as the Postgres
// implementation — one pending job per target, append-only audit —
// under a single mutex.
type Memory struct {
	mu         sync.Mutex
	configs    map[string]domain.ScheduleConfig
	jobs       map[uuid.UUID]domain.ScheduledJob
	audit      []domain.AuditEntry
	releases   map[string]domain.ReleaseState
	recipients map[string][]domain.Recipient
}

func NewMemory() *Memory {
	return &Memory{
		configs:    make(map[string]domain.ScheduleConfig),
		jobs:       make(map[uuid.UUID]domain.ScheduledJob),
		releases:   make(map[string]domain.ReleaseState),
		recipients: make(map[string][]domain.Recipient),
	}
}

func releaseKey(targetID, targetType string) string {
	return targetType + "/" + targetID
}

func (s *Memory) GetConfig(_ context.Context, scope string) (domain.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[scope]; ok {
		return cfg, nil
	}
	return domain.DefaultConfig(scope), nil
}

func (s *Memory) PutConfig(_ context.Context, cfg domain.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now()
	s.configs[cfg.Scope] = cfg
	return nil
}

func (s *Memory) CreateJob(_ context.Context, job domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.TargetID == job.TargetID && j.TargetType == job.TargetType &&
			j.Status == domain.StatusPending {
			return ErrDuplicatePending
		}
	}
	job.Status = domain.StatusPending
	s.jobs[job.ID] = job
	return nil
}

func (s *Memory) CancelJob(_ context.Context, targetID, targetType string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.TargetID == targetID && j.TargetType == targetType &&
			j.Status == domain.StatusPending {
			j.Status = domain.StatusCancelled
			t := now
			j.ProcessedAt = &t
			s.jobs[id] = j
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) DueJobs(_ context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduledJob
	for _, j := range s.jobs {
		if j.Status == domain.StatusPending && !j.FireAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].FireAt.Before(due[k].FireAt) })
	return due, nil
}

func (s *Memory) MarkProcessed(_ context.Context, jobID uuid.UUID, success bool, errMsg string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.StatusPending {
		return false, nil
	}
	if success {
		j.Status = domain.StatusCompleted
	} else {
		j.Status = domain.StatusFailed
	}
	t := now
	j.ProcessedAt = &t
	if errMsg != "" {
		msg := errMsg
		j.ErrorMessage = &msg
	}
	s.jobs[jobID] = j
	return true, nil
}

func (s *Memory) GetJobByTarget(_ context.Context, targetID, targetType string) (domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.ScheduledJob
	for _, j := range s.jobs {
		if j.TargetID != targetID || j.TargetType != targetType {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			jc := j
			found = &jc
		}
	}
	if found == nil {
		return domain.ScheduledJob{}, ErrNotFound
	}
	return *found, nil
}

func (s *Memory) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Memory) AuditHistory(_ context.Context, targetID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.audit[i]
		if targetID == "" || e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) HasAudit(_ context.Context, jobID uuid.UUID, action domain.AuditAction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.audit {
		if e.Action == action && e.JobID != nil && *e.JobID == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) PendingRecipients(_ context.Context, targetID, targetType string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipients[releaseKey(targetID, targetType)], nil
}

// AddRecipient seeds a reminder recipient for a target. Tests and
// embedded callers only; deployments get these rows from the CRUD side.
func (s *Memory) AddRecipient(_ context.Context, targetID, targetType string, r domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := releaseKey(targetID, targetType)
	s.recipients[key] = append(s.recipients[key], r)
}

func (s *Memory) GetReleaseState(_ context.Context, targetID, targetType string) (domain.ReleaseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.releases[releaseKey(targetID, targetType)]
	if !ok {
		return domain.ReleaseState{}, ErrNotFound
	}
	return rs, nil
}

func (s *Memory) SetReleased(_ context.Context, targetID, targetType string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := releaseKey(targetID, targetType)
	rs, ok := s.releases[key]
	if !ok || rs.Released {
		return false, nil
	}
	rs.Released = true
	t := now
	rs.ReleasedAt = &t
	s.releases[key] = rs
	return true, nil
}

// PutReleaseState seeds or overwrites a target's release-state row.
// Deployments get these rows from the owning CRUD service; tests and
// embedded callers seed them directly.
func (s *Memory) PutReleaseState(_ context.Context, rs domain.ReleaseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[releaseKey(rs.TargetID, rs.TargetType)] = rs
	return nil
}
