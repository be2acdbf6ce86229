// Package rules computes the fire time of a deferred action from the
// scheduling policy. It is a pure function of its inputs — callers pass
// now explicitly, so tests need no clock mock.
package rules

import (
	"fmt"
	"time"

	"github.com/versantlabs/schedcore/internal/domain"
)

// ComputeFireTime maps a schedule config plus a job's context to the
// instant the job should fire. Returns ok=false when no job should be
// created: scheduling disabled, or the active rule needs an end time
// that was not supplied.
//
// Kinds are evaluated in strict priority order — immediate, then
// days_after_creation, then days_after_end, then time_of_day. Fields
// belonging to inactive kinds are ignored, not validated.
func ComputeFireTime(cfg domain.ScheduleConfig, createdAt time.Time, endAt *time.Time, now time.Time) (time.Time, bool) {
	if !cfg.Enabled {
		return time.Time{}, false
	}

	switch cfg.Rule {
	case domain.RuleImmediate:
		return createdAt, true

	case domain.RuleDaysAfterCreation:
		return createdAt.AddDate(0, 0, cfg.Days), true

	case domain.RuleDaysAfterEnd:
		if endAt == nil {
			return time.Time{}, false
		}
		return endAt.AddDate(0, 0, cfg.Days), true

	case domain.RuleTimeOfDay:
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			// Rejected at UpdateConfig; an unloadable zone here means
			// the stored config predates validation. Treat as disabled.
			return time.Time{}, false
		}
		local := createdAt.In(loc)
		fire := time.Date(local.Year(), local.Month(), local.Day(),
			cfg.Hour, cfg.Minute, 0, 0, loc)
		if !fire.After(now) {
			fire = fire.AddDate(0, 0, 1)
		}
		return fire, true
	}

	return time.Time{}, false
}

// Validate rejects configs that could never produce a sensible fire
// time. Run at update time so bad values never reach ComputeFireTime.
func Validate(cfg domain.ScheduleConfig) error {
	switch cfg.Rule {
	case domain.RuleImmediate:
	case domain.RuleDaysAfterCreation, domain.RuleDaysAfterEnd:
		if cfg.Days < 0 {
			return fmt.Errorf("rule %s: days must be >= 0, got %d", cfg.Rule, cfg.Days)
		}
	case domain.RuleTimeOfDay:
		if cfg.Hour < 0 || cfg.Hour > 23 {
			return fmt.Errorf("rule %s: hour must be in 0..23, got %d", cfg.Rule, cfg.Hour)
		}
		if cfg.Minute < 0 || cfg.Minute > 59 {
			return fmt.Errorf("rule %s: minute must be in 0..59, got %d", cfg.Rule, cfg.Minute)
		}
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("rule %s: unknown timezone %q", cfg.Rule, cfg.Timezone)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", cfg.Rule)
	}
	return nil
}
