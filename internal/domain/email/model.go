package email

import (
	"time"

	"github.com/google/uuid"
)

// Email lifecycle states. Transitions are driven by the workflow engine,
// never set directly by handlers.
const (
	StatusReceived             = "received"
	StatusPendingExtraction    = "pending_extraction"
	StatusExtractionInProgress = "extraction_in_progress"
	StatusExtractionComplete   = "extraction_complete"
	StatusExtractionFailed     = "extraction_failed"
	StatusProcessed            = "processed"
)

var validTransitions = map[string][]string{
	StatusReceived:             {StatusPendingExtraction},
	StatusPendingExtraction:    {StatusExtractionInProgress},
	StatusExtractionInProgress: {StatusExtractionComplete, StatusExtractionFailed, StatusProcessed},
	StatusExtractionComplete:   {StatusProcessed},
	StatusExtractionFailed:     {StatusPendingExtraction},
}

// CanTransition reports whether an email may move from one status to
// another. Failed extractions may re-enter the pipeline.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Document types recorded on stored attachments. Signature logos are kept
// for the paper trail but flagged irrelevant.
const (
	DocTypeLogo         = "logo"
	DocTypeReferralForm = "referral_form"
	DocTypeOther        = "other"
)

// Email is one inbound mailbox message tracked through extraction.
type Email struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	GraphID        string     `db:"graph_id" json:"graph_id"`
	ConversationID *string    `db:"conversation_id" json:"conversation_id,omitempty"`
	Subject        string     `db:"subject" json:"subject"`
	Sender         string     `db:"sender" json:"sender"`
	BodyText       *string    `db:"body_text" json:"body_text,omitempty"`
	Status         string     `db:"status" json:"status"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Attachment is one stored file belonging to either an email or a referral
// (direct upload), never both.
type Attachment struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EmailID      *uuid.UUID `db:"email_id" json:"email_id,omitempty"`
	ReferralID   *uuid.UUID `db:"referral_id" json:"referral_id,omitempty"`
	Filename     string     `db:"filename" json:"filename"`
	ContentType  string     `db:"content_type" json:"content_type"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	StorageKey   string     `db:"storage_key" json:"storage_key"`
	TextKey      *string    `db:"text_key" json:"text_key,omitempty"`
	IsRelevant   bool       `db:"is_relevant" json:"is_relevant"`
	DocumentType *string    `db:"document_type" json:"document_type,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
