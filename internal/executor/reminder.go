package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/versantlabs/schedcore/internal/delivery"
	"github.com/versantlabs/schedcore/internal/domain"
	"github.com/versantlabs/schedcore/internal/store"
)

// RecipientSource lists who should be reminded for a target. The
// store implementations satisfy it from the reminder_recipients rows
// the platform's CRUD side maintains.
type RecipientSource interface {
	PendingRecipients(ctx context.Context, targetID, targetType string) ([]domain.Recipient, error)
}

// ErrNoRecipients marks a reminder job whose target no longer exists
// or has nobody left to remind.
var ErrNoRecipients = errors.New("no recipients for target")

// Reminder sends one notification per pending recipient through the
// resilient deliverer. Recipient failures are isolated: one bounced
// address does not abort the batch. Idempotency comes from the audit
// log — a batch already recorded for this job is not re-sent.
type Reminder struct {
	Store      store.Store
	Recipients RecipientSource
	Deliverer  delivery.Deliverer
	Logger     *slog.Logger
	Now        func() time.Time
}

func (e *Reminder) Execute(ctx context.Context, job domain.ScheduledJob, traceID string) error {
	now := e.now()

	if sent, err := e.Store.HasAudit(ctx, job.ID, domain.ActionReminderSent); err != nil {
		return fmt.Errorf("check reminder history: %w", err)
	} else if sent {
		e.Logger.Info("reminder batch already sent; nothing to do",
			"target_id", job.TargetID, "job_id", job.ID, "trace_id", traceID)
		return nil
	}

	recipients, err := e.Recipients.PendingRecipients(ctx, job.TargetID, job.TargetType)
	if err != nil {
		return fmt.Errorf("list recipients for %s/%s: %w", job.TargetType, job.TargetID, err)
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	var delivered, failed int
	for _, rcpt := range recipients {
		channel := rcpt.Channel
		if channel == "" {
			channel = delivery.ChannelEmail
		}
		msg := delivery.Message{
			Channel:   channel,
			Recipient: rcpt.Email,
			Subject:   "Reminder: test attempt pending",
			Body:      fmt.Sprintf("Hi %s, you have a pending test attempt.", rcpt.Name),
		}
		if err := e.Deliverer.Deliver(ctx, msg); err != nil {
			failed++
			e.Logger.Warn("reminder delivery failed",
				"target_id", job.TargetID,
				"recipient", rcpt.Email,
				"trace_id", traceID,
				"err", err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("reminder batch failed for all %d recipients", failed)
	}

	jobID := job.ID
	entry := domain.AuditEntry{
		ID:        uuid.New(),
		TargetID:  job.TargetID,
		Action:    domain.ActionReminderSent,
		Auto:      true,
		JobID:     &jobID,
		TraceID:   traceID,
		Note:      fmt.Sprintf("delivered=%d failed=%d", delivered, failed),
		Timestamp: now,
	}
	if err := e.Store.AppendAudit(ctx, entry); err != nil {
		e.Logger.Error("audit append failed after reminder batch",
			"target_id", job.TargetID, "job_id", job.ID, "err", err)
	}

	e.Logger.Info("reminder batch sent",
		"target_id", job.TargetID,
		"job_id", job.ID,
		"delivered", delivered,
		"failed", failed,
		"trace_id", traceID)
	return nil
}

func (e *Reminder) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
