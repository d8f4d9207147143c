package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/refcrm/refcrm/pkg/pagination"
)

type QueueRepository interface {
	Create(ctx context.Context, q *Queue) error
	GetByID(ctx context.Context, id uuid.UUID) (*Queue, error)
	GetByType(ctx context.Context, queueType string) (*Queue, error)
	List(ctx context.Context) ([]Queue, error)
}

type ItemRepository interface {
	Create(ctx context.Context, item *QueueItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueItem, error)
	// GetOpenByEmail and GetOpenByReferral return the single pending or
	// in-progress item for the pair, or ErrNoOpenItem.
	GetOpenByEmail(ctx context.Context, queueID, emailID uuid.UUID) (*QueueItem, error)
	GetOpenByReferral(ctx context.Context, queueID, referralID uuid.UUID) (*QueueItem, error)
	Update(ctx context.Context, item *QueueItem) error
	// Claim atomically moves a pending item to in_progress for user. It
	// returns ErrAlreadyClaimed when the item is in any other status.
	Claim(ctx context.Context, id uuid.UUID, user string, now time.Time) (*QueueItem, error)
	// ClaimNext claims the oldest pending item in the queue, or returns
	// ErrNoOpenItem when the queue is empty.
	ClaimNext(ctx context.Context, queueID uuid.UUID, user string, now time.Time) (*QueueItem, error)
	// Release returns an in-progress item claimed by user to pending. It
	// returns ErrNotClaimant when the status or claimant does not match.
	Release(ctx context.Context, id uuid.UUID, user string) (*QueueItem, error)
	ListByQueue(ctx context.Context, queueID uuid.UUID, status string, page pagination.Params) ([]QueueItem, int, error)
	ListOverdue(ctx context.Context, queueID uuid.UUID, now time.Time) ([]QueueItem, error)
	Stats(ctx context.Context, queueID uuid.UUID, now time.Time) (*QueueStats, error)
}
