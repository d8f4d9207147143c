// Package workflow drives referral and email state through a set of work
// queues. All queue transitions go through the Engine; callers never set
// item statuses directly.
package workflow

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue types.
const (
	QueueExtraction       = "extraction"
	QueueIntake           = "intake"
	QueueCareCoordination = "care_coordination"
)

// Queue item statuses.
const (
	ItemPending    = "pending"
	ItemInProgress = "in_progress"
	ItemCompleted  = "completed"
	ItemFailed     = "failed"
	ItemSkipped    = "skipped"
)

var (
	ErrNotFound       = errors.New("workflow: not found")
	ErrAlreadyClaimed = errors.New("workflow: item is not pending")
	ErrNotClaimant    = errors.New("workflow: item is not claimed by this user")
	ErrNoOpenItem     = errors.New("workflow: no open queue item")
)

// Queue is a seeded configuration row. SLAMinutes drives due dates for new
// items; AutoAssign marks queues worked by the pipeline rather than people.
type Queue struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description,omitempty"`
	SLAMinutes  *int      `db:"sla_minutes" json:"sla_minutes,omitempty"`
	AutoAssign  bool      `db:"auto_assign" json:"auto_assign"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// QueueItem is one unit of work. Exactly one of EmailID and ReferralID is
// set. Items are never reopened; the next stage gets a fresh item.
type QueueItem struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	QueueID        uuid.UUID  `db:"queue_id" json:"queue_id"`
	EmailID        *uuid.UUID `db:"email_id" json:"email_id,omitempty"`
	ReferralID     *uuid.UUID `db:"referral_id" json:"referral_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	Priority       string     `db:"priority" json:"priority"`
	AssignedTo     *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	Note           *string    `db:"note" json:"note,omitempty"`
	EnteredQueueAt time.Time  `db:"entered_queue_at" json:"entered_queue_at"`
	DueAt          *time.Time `db:"due_at" json:"due_at,omitempty"`
	AssignedAt     *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsOverdue reports whether the item has blown its SLA and is still open.
func (qi *QueueItem) IsOverdue(now time.Time) bool {
	if qi.DueAt == nil {
		return false
	}
	if qi.Status != ItemPending && qi.Status != ItemInProgress {
		return false
	}
	return qi.DueAt.Before(now)
}

// WaitTimeMinutes is the time from entering the queue until work started,
// or until now for items still waiting.
func (qi *QueueItem) WaitTimeMinutes(now time.Time) float64 {
	end := now
	if qi.StartedAt != nil {
		end = *qi.StartedAt
	}
	return end.Sub(qi.EnteredQueueAt).Minutes()
}

// ProcessingTimeMinutes is the time from start to completion, or nil for
// items not yet completed.
func (qi *QueueItem) ProcessingTimeMinutes() *float64 {
	if qi.StartedAt == nil || qi.CompletedAt == nil {
		return nil
	}
	m := qi.CompletedAt.Sub(*qi.StartedAt).Minutes()
	return &m
}

var urgentKeywords = []string{"urgent", "asap", "rush", "emergency"}
var highKeywords = []string{"high priority", "important"}

// PriorityFromSubject scans an email subject for urgency keywords.
func PriorityFromSubject(subject string) string {
	lower := strings.ToLower(subject)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			return "urgent"
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return "high"
		}
	}
	return "medium"
}

// QueueStats summarizes the state of one queue.
type QueueStats struct {
	QueueID     uuid.UUID `json:"queue_id"`
	QueueType   string    `json:"queue_type"`
	Pending     int       `json:"pending"`
	InProgress  int       `json:"in_progress"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Overdue     int       `json:"overdue"`
	AvgWaitMins float64   `json:"avg_wait_minutes"`
	AvgWorkMins float64   `json:"avg_processing_minutes"`
}

// DueAtFor computes a due date from the queue SLA, or nil when no SLA is
// configured.
func DueAtFor(q *Queue, entered time.Time) *time.Time {
	if q.SLAMinutes == nil {
		return nil
	}
	due := entered.Add(time.Duration(*q.SLAMinutes) * time.Minute)
	return &due
}
