package refdata

import (
	"time"

	"github.com/google/uuid"
)

// DiagnosisCode is one ICD-10 reference row.
type DiagnosisCode struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description"`
	Category    *string   `db:"category" json:"category,omitempty"`
	BodyRegion  *string   `db:"body_region" json:"body_region,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ProcedureCode is one procedure/CPT reference row. ServiceType values match
// the labels the categorizer produces ("MRI", "PT Evaluation", ...).
type ProcedureCode struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Description  string    `db:"description" json:"description"`
	ServiceType  *string   `db:"service_type" json:"service_type,omitempty"`
	Modality     *string   `db:"modality" json:"modality,omitempty"`
	BodyRegion   *string   `db:"body_region" json:"body_region,omitempty"`
	WithContrast bool      `db:"with_contrast" json:"with_contrast"`
	RequiresAuth bool      `db:"requires_auth" json:"requires_auth"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ValidationResult reports whether a diagnosis code is usable and, on a hit,
// carries the reference row's details.
type ValidationResult struct {
	IsValid        bool    `json:"is_valid"`
	Code           string  `json:"code"`
	NormalizedCode string  `json:"normalized_code"`
	Description    *string `json:"description,omitempty"`
	Category       *string `json:"category,omitempty"`
	BodyRegion     *string `json:"body_region,omitempty"`
	Message        string  `json:"message"`
}

// ProcedureLookup is the result of matching a free-text service request to
// procedure reference rows.
type ProcedureLookup struct {
	Found       bool             `json:"found"`
	ServiceType string           `json:"service_type"`
	Codes       []*ProcedureCode `json:"codes"`
	Message     string           `json:"message"`
}
