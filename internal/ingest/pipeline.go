// Package ingest pulls unread referral emails from the mailbox, runs LLM
// extraction, and hands the results to the workflow engine. One failed
// message never stops the batch.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/refcrm/refcrm/internal/domain/email"
	"github.com/refcrm/refcrm/internal/domain/extraction"
	"github.com/refcrm/refcrm/internal/domain/referral"
	"github.com/refcrm/refcrm/internal/domain/workflow"
	"github.com/refcrm/refcrm/internal/platform/blobstore"
	"github.com/refcrm/refcrm/internal/platform/llm"
	"github.com/refcrm/refcrm/internal/platform/mailbox"
)

// MailSource is the mailbox surface the pipeline needs.
type MailSource interface {
	ListUnread(ctx context.Context, since time.Time, max int) ([]mailbox.Message, error)
	GetAttachments(ctx context.Context, messageID string) ([]mailbox.Attachment, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Extractor runs the LLM over one email and returns the raw field payload.
type Extractor interface {
	Extract(ctx context.Context, in llm.ExtractInput) (json.RawMessage, error)
}

// Stats summarizes one pipeline run.
type Stats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type Pipeline struct {
	mail        MailSource
	extractor   Extractor
	emails      email.Repository
	attachments email.AttachmentRepository
	engine      *workflow.Engine
	converter   *extraction.Converter
	parser      *referral.Parser
	blobs       blobstore.Store
	log         zerolog.Logger

	maxEmails int
	lookback  time.Duration
	markRead  bool
	now       func() time.Time
}

func NewPipeline(
	mail MailSource,
	extractor Extractor,
	emails email.Repository,
	attachments email.AttachmentRepository,
	engine *workflow.Engine,
	converter *extraction.Converter,
	parser *referral.Parser,
	blobs blobstore.Store,
	maxEmails int,
	lookback time.Duration,
	log zerolog.Logger,
) *Pipeline {
	if maxEmails <= 0 {
		maxEmails = 50
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Pipeline{
		mail:        mail,
		extractor:   extractor,
		emails:      emails,
		attachments: attachments,
		engine:      engine,
		converter:   converter,
		parser:      parser,
		blobs:       blobs,
		log:         log.With().Str("component", "ingest").Logger(),
		maxEmails:   maxEmails,
		lookback:    lookback,
		markRead:    true,
		now:         time.Now,
	}
}

// Run processes one batch of unread messages.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	since := p.now().UTC().Add(-p.lookback)
	messages, err := p.mail.ListUnread(ctx, since, p.maxEmails)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	p.log.Info().Int("messages", len(messages)).Msg("ingestion batch started")

	stats := &Stats{}
	for _, msg := range messages {
		outcome, err := p.processMessage(ctx, msg)
		stats.Processed++
		switch {
		case err != nil:
			stats.Errors++
			p.log.Error().Err(err).Str("graph_id", msg.ID).Str("subject", msg.Subject).Msg("message failed")
		case outcome == outcomeSkipped:
			stats.Skipped++
		case outcome == outcomeCreated:
			stats.Created++
		}
	}

	p.log.Info().
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Msg("ingestion batch complete")
	return stats, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeFailed
)

func (p *Pipeline) processMessage(ctx context.Context, msg mailbox.Message) (outcome, error) {
	if existing, err := p.emails.GetByGraphID(ctx, msg.ID); err == nil && existing != nil {
		return outcomeSkipped, nil
	}

	bodyText := mailbox.FlattenHTML(msg.BodyHTML)
	em := &email.Email{
		GraphID:    msg.ID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		BodyText:   &bodyText,
		Status:     email.StatusReceived,
		ReceivedAt: msg.ReceivedAt,
	}
	if msg.ConversationID != "" {
		em.ConversationID = &msg.ConversationID
	}
	if err := p.emails.Create(ctx, em); err != nil {
		return outcomeFailed, fmt.Errorf("create email: %w", err)
	}

	var atts []mailbox.Attachment
	var attTexts []string
	if msg.HasAttachments {
		fetched, err := p.mail.GetAttachments(ctx, msg.ID)
		if err != nil {
			p.log.Warn().Err(err).Str("graph_id", msg.ID).Msg("attachments unavailable")
		}
		for _, att := range fetched {
			atts = append(atts, att)
			if isLogo(att) {
				continue
			}
			if text := attachmentText(att); text != "" {
				attTexts = append(attTexts, text)
			}
		}
	}

	if _, err := p.engine.QueueEmailForExtraction(ctx, em); err != nil {
		return outcomeFailed, fmt.Errorf("queue for extraction: %w", err)
	}
	if _, err := p.engine.StartExtraction(ctx, em); err != nil {
		return outcomeFailed, fmt.Errorf("start extraction: %w", err)
	}

	raw, err := p.extractor.Extract(ctx, llm.ExtractInput{
		From:            msg.From,
		Subject:         msg.Subject,
		Body:            bodyText,
		AttachmentTexts: attTexts,
	})
	if err != nil {
		if failErr := p.engine.FailExtraction(ctx, em, err.Error()); failErr != nil {
			return outcomeFailed, fmt.Errorf("record extraction failure: %w", failErr)
		}
		return outcomeFailed, fmt.Errorf("extract: %w", err)
	}

	rec, err := extraction.Decode(raw)
	if err != nil {
		if failErr := p.engine.FailExtraction(ctx, em, err.Error()); failErr != nil {
			return outcomeFailed, fmt.Errorf("record extraction failure: %w", failErr)
		}
		return outcomeFailed, fmt.Errorf("decode extraction: %w", err)
	}
	res, err := p.converter.Convert(ctx, rec)
	if err != nil {
		return outcomeFailed, fmt.Errorf("convert extraction: %w", err)
	}
	if err := p.engine.MarkExtractionComplete(ctx, em); err != nil {
		return outcomeFailed, fmt.Errorf("mark extraction complete: %w", err)
	}
	r := res.Referral
	r.ExtractionData = raw
	r.ReceivedAt = msg.ReceivedAt
	if r.AdjusterEmail == nil {
		r.AdjusterEmail = &msg.From
	}

	lineItems := p.buildLineItems(ctx, r, res)

	if _, err := p.engine.CompleteExtractionAndQueueForIntake(ctx, em, r, lineItems); err != nil {
		return outcomeFailed, fmt.Errorf("queue for intake: %w", err)
	}

	if referral.ShouldAutoSubmit(r, res.OverallConfidence, res.FieldConfidence) {
		if _, err := p.engine.ValidateAndQueueForScheduling(ctx, r.ID, "system"); err != nil {
			p.log.Warn().Err(err).Str("referral_id", r.ID.String()).Msg("auto-validate failed, left for intake review")
		} else {
			p.log.Info().Str("referral_id", r.ID.String()).Float64("confidence", res.OverallConfidence).Msg("referral auto-validated")
		}
	}

	p.storeArtifacts(ctx, em, r, msg, raw, atts)

	if p.markRead {
		if err := p.mail.MarkRead(ctx, msg.ID); err != nil {
			p.log.Warn().Err(err).Str("graph_id", msg.ID).Msg("mark read failed")
		}
	}
	return outcomeCreated, nil
}

// buildLineItems parses the extracted service text, falling back to a
// single review item when the parser finds nothing usable.
func (p *Pipeline) buildLineItems(ctx context.Context, r *referral.Referral, res *extraction.Result) []referral.LineItem {
	serviceText := ""
	if r.ServiceSummary != nil {
		serviceText = *r.ServiceSummary
	}
	if serviceText == "" {
		return nil
	}

	confidence := res.FieldConfidence["service"]
	parsed, err := p.parser.Parse(ctx, serviceText, r.ICD10Code, r.ICD10Description, confidence)
	if err != nil {
		p.log.Warn().Err(err).Msg("line item parse failed")
	}
	if parsed != nil && len(parsed.Items) > 0 {
		for _, w := range parsed.Warnings {
			p.log.Debug().Str("warning", w).Msg("line item parse")
		}
		return parsed.Items
	}

	item := referral.FallbackItem(serviceText)
	item.ICD10Code = r.ICD10Code
	item.ICD10Description = r.ICD10Description
	item.Confidence = confidence
	return []referral.LineItem{item}
}

// storeArtifacts writes the full paper trail for the referral to object
// storage. Failures here are logged, not fatal; the referral already exists.
func (p *Pipeline) storeArtifacts(ctx context.Context, em *email.Email, r *referral.Referral, msg mailbox.Message, raw json.RawMessage, atts []mailbox.Attachment) {
	id := r.ID.String()

	p.put(ctx, blobstore.EmailHTMLKey(id), []byte(msg.BodyHTML), "text/html")

	meta, err := json.Marshal(map[string]any{
		"graph_id":        msg.ID,
		"conversation_id": msg.ConversationID,
		"subject":         msg.Subject,
		"from":            msg.From,
		"received_at":     msg.ReceivedAt,
		"has_attachments": msg.HasAttachments,
	})
	if err == nil {
		p.put(ctx, blobstore.EmailMetaKey(id), meta, "application/json")
	}
	p.put(ctx, blobstore.ExtractionKey(id), raw, "application/json")

	for _, att := range atts {
		key := blobstore.AttachmentKey(id, att.Name)
		p.put(ctx, key, att.Content, att.ContentType)

		relevant := !isLogo(att)
		docType := documentType(att)
		record := &email.Attachment{
			EmailID:      &em.ID,
			Filename:     att.Name,
			ContentType:  att.ContentType,
			SizeBytes:    att.Size,
			StorageKey:   key,
			IsRelevant:   relevant,
			DocumentType: &docType,
		}
		if relevant {
			if text := attachmentText(att); text != "" {
				textKey := blobstore.AttachmentTextKey(id, att.Name)
				p.put(ctx, textKey, []byte(text), "text/plain")
				record.TextKey = &textKey
			}
		}
		if err := p.attachments.Create(ctx, record); err != nil {
			p.log.Warn().Err(err).Str("filename", att.Name).Msg("attachment record failed")
		}
	}
}

func (p *Pipeline) put(ctx context.Context, key string, data []byte, contentType string) {
	if err := p.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("artifact upload failed")
	}
}
