package domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleKind selects which scheduling rule is active in a ScheduleConfig.
type RuleKind string

const (
	RuleImmediate         RuleKind = "immediate"
	RuleDaysAfterCreation RuleKind = "days_after_creation"
	RuleDaysAfterEnd      RuleKind = "days_after_end"
	RuleTimeOfDay         RuleKind = "time_of_day"
)

// ScheduleConfig is the singleton scheduling policy for one scope.
// Rule fields other than the active kind may be populated; the rule
// engine evaluates kinds in a fixed priority order, so stale fields
// are ignored rather than rejected.
type ScheduleConfig struct {
	Scope     string
	Enabled   bool
	Rule      RuleKind
	Days      int    // days_after_creation / days_after_end offset
	Hour      int    // time_of_day, 0-23
	Minute    int    // time_of_day, 0-59
	Timezone  string // time_of_day, IANA name
	UpdatedAt time.Time
}

// DefaultScope is used when the caller does not distinguish tenants.
const DefaultScope = "global"

// DefaultConfig is returned on first access before any administrative
// update has been stored.
func DefaultConfig(scope string) ScheduleConfig {
	return ScheduleConfig{
		Scope:    scope,
		Enabled:  false,
		Rule:     RuleImmediate,
		Timezone: "UTC",
	}
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job can no longer change state.
func (s JobStatus) Terminal() bool { return s != StatusPending }

// ScheduledJob is one deferred action against a target entity.
// ProcessedAt is set exactly when the job leaves pending.
type ScheduledJob struct {
	ID           uuid.UUID
	TargetID     string
	TargetType   string
	FireAt       time.Time
	Status       JobStatus
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage *string
}

// AuditAction tags an audit_log row with the effect that produced it.
type AuditAction string

const (
	ActionReleased     AuditAction = "released"
	ActionUnreleased   AuditAction = "unreleased"
	ActionAutoReleased AuditAction = "auto_released"
	ActionReminderSent AuditAction = "reminder_sent"
)

// AuditEntry is append-only; rows are never updated or deleted.
type AuditEntry struct {
	ID        uuid.UUID
	TargetID  string
	Action    AuditAction
	Actor     *string // nil for automatic transitions
	Auto      bool
	JobID     *uuid.UUID
	TraceID   string
	Note      string
	Timestamp time.Time
}

// Recipient is one student owed a notification for a target test.
type Recipient struct {
	Name    string
	Email   string
	Channel string // delivery channel; empty means email
}

// ReleaseState is the slice of the target entity the release executor
// re-reads before acting. It is the idempotency anchor: a released
// target is never released twice.
type ReleaseState struct {
	TargetID   string
	TargetType string
	Released   bool
	ReleasedAt *time.Time
	EndAt      *time.Time
}
