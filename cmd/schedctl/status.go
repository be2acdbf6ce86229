// cmd/schedctl/status.go — status and history subcommands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/versantlabs/schedcore/internal/store"
)

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	targetType := fs.String("type", "test", "target type")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: schedctl status [--type t] <target_id>")
		os.Exit(1)
	}
	targetID := fs.Arg(0)

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("status: %v", err)
	}
	defer closer()

	job, err := s.GetSchedule(ctx, targetID, *targetType)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("no job for %s/%s\n", *targetType, targetID)
		return
	}
	if err != nil {
		fatalf("status: %v", err)
	}

	fmt.Printf("job_id:    %s\n", job.ID)
	fmt.Printf("status:    %s\n", job.Status)
	fmt.Printf("fire_at:   %s\n", job.FireAt.Format(time.RFC3339))
	fmt.Printf("created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.ProcessedAt != nil {
		fmt.Printf("processed: %s\n", job.ProcessedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != nil {
		fmt.Printf("error:     %s\n", *job.ErrorMessage)
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (defaults to DATABASE_URL)")
	limit := fs.Int("limit", 20, "max entries")
	_ = fs.Parse(args)

	targetID := ""
	if fs.NArg() > 0 {
		targetID = fs.Arg(0)
	}

	ctx := context.Background()
	s, closer, err := newScheduler(ctx, *dbURL)
	if err != nil {
		fatalf("history: %v", err)
	}
	defer closer()

	entries, err := s.History(ctx, targetID, *limit)
	if err != nil {
		fatalf("history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("no audit entries")
		return
	}

	for _, e := range entries {
		actor := "auto"
		if e.Actor != nil {
			actor = *e.Actor
		}
		fmt.Printf("%s  %-14s  target=%s  actor=%s", e.Timestamp.Format(time.RFC3339), e.Action, e.TargetID, actor)
		if e.JobID != nil {
			fmt.Printf("  job=%s", e.JobID)
		}
		if e.Note != "" {
			fmt.Printf("  (%s)", e.Note)
		}
		fmt.Println()
	}
}
