// cmd/schedctl/schedule.go — schedule and cancel subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func runSchedule(args []string) {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	targetType := fs.String("type", "test", "target type")
	endStr := fs.String("end", "", "target end time, RFC 3339 (for days_after_end)")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: schedctl schedule [--type t] [--end ts] <target_id>")
		os.Exit(1)
	}
	targetID := fs.Arg(0)

	var endAt *time.Time
	if *endStr != "" {
		ts, err := time.Parse(time.RFC3339, *endStr)
		if err != nil {
			fatalf("schedule: invalid --end %q: %v", *endStr, err)
		}
		endAt = &ts
	}

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("schedule: %v", err)
	}
	defer closer()

	id, err := s.CreateSchedule(ctx, targetID, *targetType, time.Now(), endAt)
	if err != nil {
		fatalf("schedule: %v", err)
	}
	if id == nil {
		fmt.Println("no job created (scheduling disabled or rule needs an end time)")
		return
	}

	job, err := s.GetSchedule(ctx, targetID, *targetType)
	if err != nil {
		fatalf("schedule: %v", err)
	}
	fmt.Printf("job_id:  %s\n", *id)
	fmt.Printf("fire_at: %s\n", job.FireAt.Format(time.RFC3339))
}

func runCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	targetType := fs.String("type", "test", "target type")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: schedctl cancel [--type t] <target_id>")
		os.Exit(1)
	}
	targetID := fs.Arg(0)

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("cancel: %v", err)
	}
	defer closer()

	ok, err := s.CancelSchedule(ctx, targetID, *targetType)
	if err != nil {
		fatalf("cancel: %v", err)
	}
	if !ok {
		fmt.Printf("nothing to cancel for %s/%s (no pending job)\n", *targetType, targetID)
		return
	}
	fmt.Printf("cancelled pending job for %s/%s\n", *targetType, targetID)
}
