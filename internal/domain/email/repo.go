package email

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("email: not found")

type Repository interface {
	Create(ctx context.Context, e *Email) error
	GetByID(ctx context.Context, id uuid.UUID) (*Email, error)
	GetByGraphID(ctx context.Context, graphID string) (*Email, error)
	Update(ctx context.Context, e *Email) error
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Email, int, error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, a *Attachment) error
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*Attachment, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Attachment, error)
}
