package referral

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Referral lifecycle states. Rejected and on_hold are reachable from any
// pre-completed state; submitted_to_filemaker only follows completed.
const (
	StatusDraft              = "draft"
	StatusPendingValidation  = "pending_validation"
	StatusValidated          = "validated"
	StatusPendingScheduling  = "pending_scheduling"
	StatusScheduled          = "scheduled"
	StatusInProgress         = "in_progress"
	StatusCompleted          = "completed"
	StatusSubmittedFileMaker = "submitted_to_filemaker"
	StatusRejected           = "rejected"
	StatusOnHold             = "on_hold"
)

// Priorities, shared with queue items.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Line-item modalities.
const (
	ModalityImaging    = "imaging"
	ModalityPhysical   = "physical_therapy"
	ModalityOccupation = "occupational_therapy"
	ModalityChiro      = "chiropractic"
	ModalityIME        = "ime"
	ModalityFCE        = "fce"
	ModalityInjection  = "injection"
	ModalityOther      = "other"
)

// Line-item statuses.
const (
	LineItemPending    = "pending"
	LineItemAuthorized = "authorized"
	LineItemScheduled  = "scheduled"
	LineItemCompleted  = "completed"
	LineItemCancelled  = "cancelled"
)

var preCompleted = []string{
	StatusDraft, StatusPendingValidation, StatusValidated,
	StatusPendingScheduling, StatusScheduled, StatusInProgress,
}

var forwardTransitions = map[string][]string{
	StatusDraft:             {StatusPendingValidation},
	StatusPendingValidation: {StatusValidated},
	StatusValidated:         {StatusPendingScheduling},
	StatusPendingScheduling: {StatusScheduled},
	StatusScheduled:         {StatusInProgress},
	StatusInProgress:        {StatusCompleted},
	StatusCompleted:         {StatusSubmittedFileMaker},
	StatusOnHold:            preCompleted,
}

// CanTransition reports whether a referral may move between two states.
func CanTransition(from, to string) bool {
	if to == StatusRejected || to == StatusOnHold {
		for _, s := range preCompleted {
			if from == s {
				return true
			}
		}
		return false
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Carrier is an insurance carrier matched by name during ingestion.
type Carrier struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Code         *string   `db:"code" json:"code,omitempty"`
	ContactEmail *string   `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone *string   `db:"contact_phone" json:"contact_phone,omitempty"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Referral is the normalized intake record for one workers'-comp case.
type Referral struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	EmailID        *uuid.UUID `db:"email_id" json:"email_id,omitempty"`
	CarrierID      *uuid.UUID `db:"carrier_id" json:"carrier_id,omitempty"`
	CarrierNameRaw *string    `db:"carrier_name_raw" json:"carrier_name_raw,omitempty"`
	ClaimNumber    *string    `db:"claim_number" json:"claim_number,omitempty"`

	PatientFirstName *string `db:"patient_first_name" json:"patient_first_name,omitempty"`
	PatientLastName  *string `db:"patient_last_name" json:"patient_last_name,omitempty"`
	PatientDOB       *string `db:"patient_dob" json:"patient_dob,omitempty"`
	PatientPhone     *string `db:"patient_phone" json:"patient_phone,omitempty"`
	PatientEmail     *string `db:"patient_email" json:"patient_email,omitempty"`
	PatientAddress1  *string `db:"patient_address_1" json:"patient_address_1,omitempty"`
	PatientAddress2  *string `db:"patient_address_2" json:"patient_address_2,omitempty"`
	PatientCity      *string `db:"patient_city" json:"patient_city,omitempty"`
	PatientState     *string `db:"patient_state" json:"patient_state,omitempty"`
	PatientZip       *string `db:"patient_zip" json:"patient_zip,omitempty"`
	PatientGender    *string `db:"patient_gender" json:"patient_gender,omitempty"`
	PatientSSN       *string `db:"patient_ssn" json:"patient_ssn,omitempty"`
	PatientJobTitle  *string `db:"patient_job_title" json:"patient_job_title,omitempty"`

	EmployerName    *string `db:"employer_name" json:"employer_name,omitempty"`
	EmployerAddress *string `db:"employer_address" json:"employer_address,omitempty"`

	DateOfInjury      *string `db:"date_of_injury" json:"date_of_injury,omitempty"`
	BodyParts         *string `db:"body_parts" json:"body_parts,omitempty"`
	ServiceSummary    *string `db:"service_summary" json:"service_summary,omitempty"`
	JurisdictionState *string `db:"jurisdiction_state" json:"jurisdiction_state,omitempty"`
	OrderType         *string `db:"order_type" json:"order_type,omitempty"`

	ICD10Code        *string `db:"icd10_code" json:"icd10_code,omitempty"`
	ICD10Description *string `db:"icd10_description" json:"icd10_description,omitempty"`
	ICD10Category    *string `db:"icd10_category" json:"icd10_category,omitempty"`
	ProcedureCode    *string `db:"procedure_code" json:"procedure_code,omitempty"`

	PhysicianName *string `db:"physician_name" json:"physician_name,omitempty"`
	PhysicianNPI  *string `db:"physician_npi" json:"physician_npi,omitempty"`

	SuggestedProviders  *string `db:"suggested_providers" json:"suggested_providers,omitempty"`
	SpecialRequirements *string `db:"special_requirements" json:"special_requirements,omitempty"`
	AuthorizationNumber *string `db:"authorization_number" json:"authorization_number,omitempty"`

	AdjusterName  *string `db:"adjuster_name" json:"adjuster_name,omitempty"`
	AdjusterEmail *string `db:"adjuster_email" json:"adjuster_email,omitempty"`
	AdjusterPhone *string `db:"adjuster_phone" json:"adjuster_phone,omitempty"`

	Priority             string          `db:"priority" json:"priority"`
	Status               string          `db:"status" json:"status"`
	RejectReason         *string         `db:"reject_reason" json:"reject_reason,omitempty"`
	ExtractionConfidence float64         `db:"extraction_confidence" json:"extraction_confidence"`
	NeedsHumanReview     bool            `db:"needs_human_review" json:"needs_human_review"`
	ExtractionData       json.RawMessage `db:"extraction_data" json:"extraction_data,omitempty"`
	FileMakerRecordID    *string         `db:"filemaker_record_id" json:"filemaker_record_id,omitempty"`

	ReceivedAt  time.Time  `db:"received_at" json:"received_at"`
	ValidatedAt *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// LineItem is one discrete service within a referral. Line numbers are
// 1-based and ordering is significant.
type LineItem struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	ReferralID         uuid.UUID `db:"referral_id" json:"referral_id"`
	LineNumber         int       `db:"line_number" json:"line_number"`
	ServiceDescription string    `db:"service_description" json:"service_description"`
	Modality           string    `db:"modality" json:"modality"`
	ServiceType        *string   `db:"service_type" json:"service_type,omitempty"`
	BodyRegion         *string   `db:"body_region" json:"body_region,omitempty"`
	BodyGroup          *string   `db:"body_group" json:"body_group,omitempty"`
	Laterality         *string   `db:"laterality" json:"laterality,omitempty"`
	WithContrast       bool      `db:"with_contrast" json:"with_contrast"`
	Quantity           int       `db:"quantity" json:"quantity"`
	ICD10Code          *string   `db:"icd10_code" json:"icd10_code,omitempty"`
	ICD10Description   *string   `db:"icd10_description" json:"icd10_description,omitempty"`
	ProcedureCode      *string   `db:"procedure_code" json:"procedure_code,omitempty"`
	ProcedureDesc      *string   `db:"procedure_description" json:"procedure_description,omitempty"`
	Status             string    `db:"status" json:"status"`
	Confidence         float64   `db:"confidence" json:"confidence"`
	Source             string    `db:"source" json:"source"`
	NeedsReview        bool      `db:"needs_review" json:"needs_review"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// StatusChange is one audit-trail row for a referral status transition.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ReferralID uuid.UUID `db:"referral_id" json:"referral_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Actor      *string   `db:"actor" json:"actor,omitempty"`
	Note       *string   `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
