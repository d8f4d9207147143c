package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/refcrm/refcrm/pkg/pagination"
)

var ErrNotFound = errors.New("referral: not found")

// ListFilter narrows referral listings.
type ListFilter struct {
	Status           string
	Priority         string
	NeedsHumanReview *bool
	CarrierID        *uuid.UUID
	Search           string
}

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	GetByEmailID(ctx context.Context, emailID uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, page pagination.Params) ([]Referral, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type LineItemRepository interface {
	Create(ctx context.Context, item *LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]LineItem, error)
	Update(ctx context.Context, item *LineItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	NextLineNumber(ctx context.Context, referralID uuid.UUID) (int, error)
}

type CarrierRepository interface {
	Create(ctx context.Context, c *Carrier) error
	GetByID(ctx context.Context, id uuid.UUID) (*Carrier, error)
	GetByName(ctx context.Context, name string) (*Carrier, error)
	List(ctx context.Context) ([]Carrier, error)
}

type StatusHistoryRepository interface {
	Add(ctx context.Context, change *StatusChange) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]StatusChange, error)
}
