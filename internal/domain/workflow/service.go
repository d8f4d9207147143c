package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/refcrm/refcrm/internal/domain/email"
	"github.com/refcrm/refcrm/internal/domain/referral"
	"github.com/refcrm/refcrm/internal/platform/db"
	"github.com/refcrm/refcrm/pkg/pagination"
)

// Engine drives emails and referrals through the three work queues. It is
// the only component allowed to change email status or create queue items;
// HTTP handlers and the ingest pipeline go through it.
type Engine struct {
	queues    QueueRepository
	items     ItemRepository
	emails    email.Repository
	referrals *referral.Service
	lineItems referral.LineItemRepository
	log       zerolog.Logger

	runTx func(ctx context.Context, fn func(ctx context.Context) error) error
	now   func() time.Time
}

func NewEngine(
	queues QueueRepository,
	items ItemRepository,
	emails email.Repository,
	referrals *referral.Service,
	lineItems referral.LineItemRepository,
	pool *pgxpool.Pool,
	log zerolog.Logger,
) *Engine {
	e := &Engine{
		queues:    queues,
		items:     items,
		emails:    emails,
		referrals: referrals,
		lineItems: lineItems,
		log:       log.With().Str("component", "workflow").Logger(),
		now:       time.Now,
	}
	if pool != nil {
		e.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		}
	} else {
		e.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		}
	}
	return e
}

// QueueEmailForExtraction places a received email on the extraction queue.
// Priority comes from the subject line, the due date from the queue SLA.
// Callers are expected to check for an existing email first; this method
// does not deduplicate.
func (e *Engine) QueueEmailForExtraction(ctx context.Context, em *email.Email) (*QueueItem, error) {
	q, err := e.queues.GetByType(ctx, QueueExtraction)
	if err != nil {
		return nil, fmt.Errorf("extraction queue: %w", err)
	}
	now := e.now().UTC()
	item := &QueueItem{
		QueueID:        q.ID,
		EmailID:        &em.ID,
		Status:         ItemPending,
		Priority:       PriorityFromSubject(em.Subject),
		EnteredQueueAt: now,
		DueAt:          DueAtFor(q, now),
	}
	if err := e.items.Create(ctx, item); err != nil {
		return nil, err
	}
	if err := e.transitionEmail(ctx, em, email.StatusPendingExtraction); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("email_id", em.ID.String()).
		Str("priority", item.Priority).
		Msg("email queued for extraction")
	return item, nil
}

// StartExtraction marks the email's open extraction item in progress and
// bumps the attempt count on both the item and the email.
func (e *Engine) StartExtraction(ctx context.Context, em *email.Email) (*QueueItem, error) {
	item, err := e.openExtractionItem(ctx, em.ID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	item.Status = ItemInProgress
	item.StartedAt = &now
	item.AttemptCount++
	if err := e.items.Update(ctx, item); err != nil {
		return nil, err
	}
	em.AttemptCount++
	if err := e.transitionEmail(ctx, em, email.StatusExtractionInProgress); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkExtractionComplete records that the model produced a usable record
// for the email. The extraction item stays open; it is closed when the
// referral is created and queued for intake.
func (e *Engine) MarkExtractionComplete(ctx context.Context, em *email.Email) error {
	return e.transitionEmail(ctx, em, email.StatusExtractionComplete)
}

// FailExtraction records a failed extraction attempt. The item stays on the
// queue history as failed; retries require queueing the email again.
func (e *Engine) FailExtraction(ctx context.Context, em *email.Email, cause string) error {
	item, err := e.openExtractionItem(ctx, em.ID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	item.Status = ItemFailed
	item.CompletedAt = &now
	item.LastError = &cause
	if err := e.items.Update(ctx, item); err != nil {
		return err
	}
	em.ErrorMessage = &cause
	if err := e.transitionEmail(ctx, em, email.StatusExtractionFailed); err != nil {
		return err
	}
	e.log.Warn().
		Str("email_id", em.ID.String()).
		Str("cause", cause).
		Msg("extraction failed")
	return nil
}

// CompleteExtractionAndQueueForIntake finishes the extraction item, marks
// the email processed, persists the referral with its line items, and
// places the referral on the intake queue. All of it happens in one
// transaction so a crash cannot leave an email processed without a
// referral or a referral without its intake item.
func (e *Engine) CompleteExtractionAndQueueForIntake(ctx context.Context, em *email.Email, r *referral.Referral, lineItems []referral.LineItem) (*QueueItem, error) {
	intakeQueue, err := e.queues.GetByType(ctx, QueueIntake)
	if err != nil {
		return nil, fmt.Errorf("intake queue: %w", err)
	}
	var intakeItem *QueueItem
	err = e.runTx(ctx, func(ctx context.Context) error {
		item, err := e.openExtractionItem(ctx, em.ID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		item.Status = ItemCompleted
		item.CompletedAt = &now
		if err := e.items.Update(ctx, item); err != nil {
			return err
		}

		em.ProcessedAt = &now
		if err := e.transitionEmail(ctx, em, email.StatusProcessed); err != nil {
			return err
		}

		r.EmailID = &em.ID
		if err := e.referrals.Create(ctx, r); err != nil {
			return err
		}
		if _, err := e.referrals.Transition(ctx, r.ID, referral.StatusPendingValidation, nil, nil); err != nil {
			return err
		}
		for i := range lineItems {
			li := lineItems[i]
			li.ReferralID = r.ID
			li.LineNumber = i + 1
			if err := e.lineItems.Create(ctx, &li); err != nil {
				return err
			}
		}

		intakeItem = &QueueItem{
			QueueID:        intakeQueue.ID,
			ReferralID:     &r.ID,
			Status:         ItemPending,
			Priority:       r.Priority,
			EnteredQueueAt: now,
			DueAt:          DueAtFor(intakeQueue, now),
		}
		return e.items.Create(ctx, intakeItem)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("email_id", em.ID.String()).
		Str("referral_id", r.ID.String()).
		Int("line_items", len(lineItems)).
		Msg("referral created and queued for intake")
	return intakeItem, nil
}

// ClaimItem atomically assigns a pending queue item to a user.
func (e *Engine) ClaimItem(ctx context.Context, itemID uuid.UUID, user string) (*QueueItem, error) {
	return e.items.Claim(ctx, itemID, user, e.now().UTC())
}

// ClaimNextItem claims the oldest pending item on the named queue type.
func (e *Engine) ClaimNextItem(ctx context.Context, queueType, user string) (*QueueItem, error) {
	q, err := e.queues.GetByType(ctx, queueType)
	if err != nil {
		return nil, err
	}
	return e.items.ClaimNext(ctx, q.ID, user, e.now().UTC())
}

// ClaimReferralItem claims the referral's open item on the named queue type.
func (e *Engine) ClaimReferralItem(ctx context.Context, queueType string, referralID uuid.UUID, user string) (*QueueItem, error) {
	q, err := e.queues.GetByType(ctx, queueType)
	if err != nil {
		return nil, err
	}
	item, err := e.items.GetOpenByReferral(ctx, q.ID, referralID)
	if err != nil {
		return nil, err
	}
	return e.items.Claim(ctx, item.ID, user, e.now().UTC())
}

// ReleaseItem puts a claimed item back to pending. Only the claimant may
// release it.
func (e *Engine) ReleaseItem(ctx context.Context, itemID uuid.UUID, user string) (*QueueItem, error) {
	return e.items.Release(ctx, itemID, user)
}

// ValidateAndQueueForScheduling completes the referral's intake item, marks
// the referral validated, clears the human-review flag, and creates a
// care-coordination item for scheduling.
func (e *Engine) ValidateAndQueueForScheduling(ctx context.Context, referralID uuid.UUID, validatedBy string) (*QueueItem, error) {
	ccQueue, err := e.queues.GetByType(ctx, QueueCareCoordination)
	if err != nil {
		return nil, fmt.Errorf("care coordination queue: %w", err)
	}
	var ccItem *QueueItem
	err = e.runTx(ctx, func(ctx context.Context) error {
		if err := e.completeIntakeItem(ctx, referralID, nil); err != nil {
			return err
		}
		r, err := e.referrals.Transition(ctx, referralID, referral.StatusValidated, &validatedBy, nil)
		if err != nil {
			return err
		}
		if r.NeedsHumanReview {
			r.NeedsHumanReview = false
			if err := e.referrals.Update(ctx, r); err != nil {
				return err
			}
		}
		now := e.now().UTC()
		ccItem = &QueueItem{
			QueueID:        ccQueue.ID,
			ReferralID:     &r.ID,
			Status:         ItemPending,
			Priority:       r.Priority,
			EnteredQueueAt: now,
			DueAt:          DueAtFor(ccQueue, now),
		}
		return e.items.Create(ctx, ccItem)
	})
	if err != nil {
		return nil, err
	}
	return ccItem, nil
}

// RejectReferral completes the referral's intake item with a note and moves
// the referral to its terminal rejected state. Nothing re-enters a queue.
func (e *Engine) RejectReferral(ctx context.Context, referralID uuid.UUID, rejectedBy, reason string) error {
	return e.runTx(ctx, func(ctx context.Context) error {
		if err := e.completeIntakeItem(ctx, referralID, &reason); err != nil {
			return err
		}
		_, err := e.referrals.Transition(ctx, referralID, referral.StatusRejected, &rejectedBy, &reason)
		return err
	})
}

// CompleteScheduling finishes the care-coordination item and advances the
// referral through pending_scheduling to scheduled.
func (e *Engine) CompleteScheduling(ctx context.Context, referralID uuid.UUID, scheduledBy string) error {
	ccQueue, err := e.queues.GetByType(ctx, QueueCareCoordination)
	if err != nil {
		return err
	}
	return e.runTx(ctx, func(ctx context.Context) error {
		item, err := e.items.GetOpenByReferral(ctx, ccQueue.ID, referralID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		item.Status = ItemCompleted
		item.CompletedAt = &now
		if err := e.items.Update(ctx, item); err != nil {
			return err
		}
		if _, err := e.referrals.Transition(ctx, referralID, referral.StatusPendingScheduling, &scheduledBy, nil); err != nil {
			return err
		}
		_, err = e.referrals.Transition(ctx, referralID, referral.StatusScheduled, &scheduledBy, nil)
		return err
	})
}

// CompleteReferral moves a scheduled or in-progress referral to completed.
// No queue item is created; submission to FileMaker is a separate step.
func (e *Engine) CompleteReferral(ctx context.Context, referralID uuid.UUID, completedBy string) error {
	r, err := e.referrals.Get(ctx, referralID)
	if err != nil {
		return err
	}
	if r.Status == referral.StatusScheduled {
		if _, err := e.referrals.Transition(ctx, referralID, referral.StatusInProgress, &completedBy, nil); err != nil {
			return err
		}
	}
	_, err = e.referrals.Transition(ctx, referralID, referral.StatusCompleted, &completedBy, nil)
	return err
}

// Queues lists all configured queues.
func (e *Engine) Queues(ctx context.Context) ([]Queue, error) {
	return e.queues.List(ctx)
}

// ItemsFor lists a queue's items in FIFO order, optionally filtered by
// status. Priority is reporting metadata, not ordering.
func (e *Engine) ItemsFor(ctx context.Context, queueType, status string, page pagination.Params) ([]QueueItem, int, error) {
	q, err := e.queues.GetByType(ctx, queueType)
	if err != nil {
		return nil, 0, err
	}
	return e.items.ListByQueue(ctx, q.ID, status, page)
}

// OverdueFor lists items past their due date that are still open.
func (e *Engine) OverdueFor(ctx context.Context, queueType string) ([]QueueItem, error) {
	q, err := e.queues.GetByType(ctx, queueType)
	if err != nil {
		return nil, err
	}
	return e.items.ListOverdue(ctx, q.ID, e.now().UTC())
}

// StatsFor reports queue depth and timing aggregates for one queue.
func (e *Engine) StatsFor(ctx context.Context, queueType string) (*QueueStats, error) {
	q, err := e.queues.GetByType(ctx, queueType)
	if err != nil {
		return nil, err
	}
	stats, err := e.items.Stats(ctx, q.ID, e.now().UTC())
	if err != nil {
		return nil, err
	}
	stats.QueueType = q.Type
	return stats, nil
}

// SeedQueues upserts the three standard queues. Safe to run on every boot.
func (e *Engine) SeedQueues(ctx context.Context) error {
	sla := func(mins int) *int { return &mins }
	desc := func(s string) *string { return &s }
	seeds := []Queue{
		{Name: "Extraction", Type: QueueExtraction, Description: desc("Automated LLM extraction of inbound referral emails"), SLAMinutes: sla(15), AutoAssign: true},
		{Name: "Intake", Type: QueueIntake, Description: desc("Human validation of extracted referrals"), SLAMinutes: sla(60)},
		{Name: "Care Coordination", Type: QueueCareCoordination, Description: desc("Scheduling and provider coordination"), SLAMinutes: sla(240)},
	}
	for i := range seeds {
		if err := e.queues.Create(ctx, &seeds[i]); err != nil {
			return fmt.Errorf("seed queue %s: %w", seeds[i].Type, err)
		}
	}
	return nil
}

func (e *Engine) openExtractionItem(ctx context.Context, emailID uuid.UUID) (*QueueItem, error) {
	q, err := e.queues.GetByType(ctx, QueueExtraction)
	if err != nil {
		return nil, err
	}
	return e.items.GetOpenByEmail(ctx, q.ID, emailID)
}

func (e *Engine) completeIntakeItem(ctx context.Context, referralID uuid.UUID, note *string) error {
	q, err := e.queues.GetByType(ctx, QueueIntake)
	if err != nil {
		return err
	}
	item, err := e.items.GetOpenByReferral(ctx, q.ID, referralID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	item.Status = ItemCompleted
	item.CompletedAt = &now
	if note != nil {
		item.Note = note
	}
	return e.items.Update(ctx, item)
}

func (e *Engine) transitionEmail(ctx context.Context, em *email.Email, to string) error {
	if !email.CanTransition(em.Status, to) {
		return fmt.Errorf("email %s: cannot move from %s to %s", em.ID, em.Status, to)
	}
	em.Status = to
	return e.emails.Update(ctx, em)
}
