// cmd/schedctl/config.go — config and set-config subcommands.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/versantlabs/schedcore/internal/domain"
)

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	_ = fs.Parse(args)

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("config: %v", err)
	}
	defer closer()

	cfg, err := s.GetConfig(ctx)
	if err != nil {
		fatalf("config: %v", err)
	}

	fmt.Printf("scope:    %s\n", cfg.Scope)
	fmt.Printf("enabled:  %v\n", cfg.Enabled)
	fmt.Printf("rule:     %s\n", cfg.Rule)
	switch cfg.Rule {
	case domain.RuleDaysAfterCreation, domain.RuleDaysAfterEnd:
		fmt.Printf("days:     %d\n", cfg.Days)
	case domain.RuleTimeOfDay:
		fmt.Printf("time:     %02d:%02d %s\n", cfg.Hour, cfg.Minute, cfg.Timezone)
	}
	if !cfg.UpdatedAt.IsZero() {
		fmt.Printf("updated:  %s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
}

func runSetConfig(args []string) {
	fs := flag.NewFlagSet("set-config", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	enabled := fs.Bool("enabled", false, "enable automatic scheduling")
	rule := fs.String("rule", "immediate", "rule kind: immediate|days_after_creation|days_after_end|time_of_day")
	days := fs.Int("days", 0, "day offset for the days_* rules")
	hour := fs.Int("hour", 0, "hour for time_of_day (0-23)")
	minute := fs.Int("minute", 0, "minute for time_of_day (0-59)")
	tz := fs.String("tz", "UTC", "IANA timezone for time_of_day")
	_ = fs.Parse(args)

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("set-config: %v", err)
	}
	defer closer()

	cfg := domain.ScheduleConfig{
		Enabled:  *enabled,
		Rule:     domain.RuleKind(*rule),
		Days:     *days,
		Hour:     *hour,
		Minute:   *minute,
		Timezone: *tz,
	}
	if err := s.UpdateConfig(ctx, cfg); err != nil {
		fatalf("set-config: %v", err)
	}
	fmt.Printf("config updated: enabled=%v rule=%s\n", cfg.Enabled, cfg.Rule)
}
