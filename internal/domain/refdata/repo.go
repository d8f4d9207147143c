package refdata

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a code is absent from the reference table.
var ErrNotFound = errors.New("refdata: code not found")

type DiagnosisRepository interface {
	Upsert(ctx context.Context, d *DiagnosisCode) error
	GetByCode(ctx context.Context, code string) (*DiagnosisCode, error)
	ListByCategory(ctx context.Context, category string) ([]*DiagnosisCode, error)
}

type ProcedureRepository interface {
	Upsert(ctx context.Context, p *ProcedureCode) error
	GetByCode(ctx context.Context, code string) (*ProcedureCode, error)
	// ListByServiceTypes returns active rows whose service_type matches any
	// of the given labels, ordered by code. A non-nil withContrast further
	// restricts the match.
	ListByServiceTypes(ctx context.Context, serviceTypes []string, withContrast *bool) ([]*ProcedureCode, error)
}
