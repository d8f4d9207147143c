package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refcrm/refcrm/internal/platform/blobstore"
	"github.com/refcrm/refcrm/internal/platform/filemaker"
	"github.com/refcrm/refcrm/pkg/pagination"
)

var ErrInvalidTransition = errors.New("referral: invalid status transition")

// RecordSubmitter pushes a finished referral to the downstream system of
// record. Satisfied by filemaker.Client.
type RecordSubmitter interface {
	CreateRecord(ctx context.Context, fields map[string]string) (string, error)
}

// Service coordinates referral CRUD, status transitions, line items, and
// downstream submission.
type Service struct {
	repos     Repository
	lineItems LineItemRepository
	carriers  CarrierRepository
	history   StatusHistoryRepository
	parser    *Parser
	submitter RecordSubmitter
	blobs     blobstore.Store
	log       zerolog.Logger
}

func NewService(
	repos Repository,
	lineItems LineItemRepository,
	carriers CarrierRepository,
	history StatusHistoryRepository,
	parser *Parser,
	submitter RecordSubmitter,
	blobs blobstore.Store,
	log zerolog.Logger,
) *Service {
	return &Service{
		repos:     repos,
		lineItems: lineItems,
		carriers:  carriers,
		history:   history,
		parser:    parser,
		submitter: submitter,
		blobs:     blobs,
		log:       log,
	}
}

func (s *Service) Create(ctx context.Context, r *Referral) error {
	if r.CarrierID == nil && deref(r.CarrierNameRaw) != "" {
		carrier, err := s.FindOrCreateCarrier(ctx, *r.CarrierNameRaw)
		if err != nil {
			return err
		}
		r.CarrierID = &carrier.ID
	}
	return s.repos.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repos.GetByID(ctx, id)
}

func (s *Service) GetByEmailID(ctx context.Context, emailID uuid.UUID) (*Referral, error) {
	return s.repos.GetByEmailID(ctx, emailID)
}

func (s *Service) Update(ctx context.Context, r *Referral) error {
	return s.repos.Update(ctx, r)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repos.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, page pagination.Params) ([]Referral, int, error) {
	return s.repos.List(ctx, filter, page)
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repos.CountByStatus(ctx)
}

// Transition moves a referral to a new status, records the change in the
// audit trail, and stamps the matching timestamp column.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, toStatus string, actor, note *string) (*Referral, error) {
	r, err := s.repos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, toStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, toStatus)
	}

	from := r.Status
	r.Status = toStatus
	now := time.Now().UTC()
	switch toStatus {
	case StatusValidated:
		r.ValidatedAt = &now
	case StatusScheduled:
		r.ScheduledAt = &now
	case StatusCompleted:
		r.CompletedAt = &now
	case StatusSubmittedFileMaker:
		r.SubmittedAt = &now
	case StatusRejected:
		r.RejectReason = note
	}

	if err := s.repos.Update(ctx, r); err != nil {
		return nil, err
	}
	if err := s.history.Add(ctx, &StatusChange{
		ReferralID: r.ID,
		FromStatus: from,
		ToStatus:   toStatus,
		Actor:      actor,
		Note:       note,
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("referral_id", r.ID.String()).
		Str("from", from).
		Str("to", toStatus).
		Msg("referral status changed")
	return r, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	return s.history.ListByReferral(ctx, id)
}

// FindOrCreateCarrier matches a carrier by name (case-insensitive) or
// registers a new one.
func (s *Service) FindOrCreateCarrier(ctx context.Context, name string) (*Carrier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("referral: carrier name is empty")
	}
	carrier, err := s.carriers.GetByName(ctx, name)
	if err == nil {
		return carrier, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	carrier = &Carrier{Name: name}
	if err := s.carriers.Create(ctx, carrier); err != nil {
		return nil, err
	}
	return carrier, nil
}

// ParseServiceText runs the line-item parser against free text for a
// referral, without persisting anything.
func (s *Service) ParseServiceText(ctx context.Context, r *Referral, serviceText string, confidence float64) (*ParseResult, error) {
	return s.parser.Parse(ctx, serviceText, r.ICD10Code, r.ICD10Description, confidence)
}

// AddLineItem appends a manually entered line item at the next free line
// number.
func (s *Service) AddLineItem(ctx context.Context, referralID uuid.UUID, item *LineItem) error {
	if _, err := s.repos.GetByID(ctx, referralID); err != nil {
		return err
	}
	next, err := s.lineItems.NextLineNumber(ctx, referralID)
	if err != nil {
		return err
	}
	item.ReferralID = referralID
	item.LineNumber = next
	if item.Source == "" {
		item.Source = "manual"
	}
	return s.lineItems.Create(ctx, item)
}

func (s *Service) ListLineItems(ctx context.Context, referralID uuid.UUID) ([]LineItem, error) {
	return s.lineItems.ListByReferral(ctx, referralID)
}

func (s *Service) UpdateLineItem(ctx context.Context, item *LineItem) error {
	return s.lineItems.Update(ctx, item)
}

func (s *Service) DeleteLineItem(ctx context.Context, id uuid.UUID) error {
	return s.lineItems.Delete(ctx, id)
}

// SubmitToFileMaker validates a completed referral, pushes it downstream,
// and records the returned record id. Validation errors block submission.
func (s *Service) SubmitToFileMaker(ctx context.Context, id uuid.UUID, actor *string) (*Referral, error) {
	r, err := s.repos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusSubmittedFileMaker)
	}
	if errs := Validate(r); len(errs) > 0 {
		return nil, fmt.Errorf("referral: not submittable: %s", strings.Join(errs, "; "))
	}
	if s.submitter == nil {
		return nil, errors.New("referral: no downstream submitter configured")
	}

	intake := s.buildIntake(r)
	recordID, err := s.submitter.CreateRecord(ctx, intake.FieldData())
	if err != nil {
		return nil, fmt.Errorf("referral: filemaker submission: %w", err)
	}
	r.FileMakerRecordID = &recordID
	if err := s.repos.Update(ctx, r); err != nil {
		return nil, err
	}

	note := "record " + recordID
	return s.Transition(ctx, id, StatusSubmittedFileMaker, actor, &note)
}

func (s *Service) buildIntake(r *Referral) *filemaker.Intake {
	return &filemaker.Intake{
		ClientFirstName:     deref(r.PatientFirstName),
		ClientLastName:      deref(r.PatientLastName),
		ClaimNumber:         deref(r.ClaimNumber),
		ClientCompany:       deref(r.CarrierNameRaw),
		DOB:                 deref(r.PatientDOB),
		DOI:                 deref(r.DateOfInjury),
		ClientPhone:         deref(r.PatientPhone),
		ClientEmail:         deref(r.PatientEmail),
		Instructions:        deref(r.ServiceSummary),
		InjuryDesc:          deref(r.BodyParts),
		PatientFirstName:    deref(r.PatientFirstName),
		PatientLastName:     deref(r.PatientLastName),
		PatientPhone:        deref(r.PatientPhone),
		PatientEmail:        deref(r.PatientEmail),
		PatientEmployer:     deref(r.EmployerName),
		PatientAddress1:     deref(r.PatientAddress1),
		PatientAddress2:     deref(r.PatientAddress2),
		PatientCity:         deref(r.PatientCity),
		PatientState:        deref(r.PatientState),
		PatientZip:          deref(r.PatientZip),
		PatientGender:       deref(r.PatientGender),
		PatientSSN:          deref(r.PatientSSN),
		PatientJobTitle:     deref(r.PatientJobTitle),
		EmployerAddress1:    deref(r.EmployerAddress),
		PhysicianName:       deref(r.PhysicianName),
		PhysicianNPI:        deref(r.PhysicianNPI),
		JurisdictionState:   deref(r.JurisdictionState),
		OrderType:           deref(r.OrderType),
		ICD10Code:           deref(r.ICD10Code),
		ICD10Description:    deref(r.ICD10Description),
		ICD10Category:       deref(r.ICD10Category),
		ProcedureCode:       deref(r.ProcedureCode),
		SuggestedProviders:  deref(r.SuggestedProviders),
		SpecialRequirements: deref(r.SpecialRequirements),
		AdjusterName:        deref(r.AdjusterName),
		AdjusterEmail:       deref(r.AdjusterEmail),
		AdjusterPhone:       deref(r.AdjusterPhone),
	}
}

// ArtifactLinks returns presigned URLs for the stored source artifacts of
// a referral (original email, extraction output, attachments).
func (s *Service) ArtifactLinks(ctx context.Context, id uuid.UUID, expiry time.Duration) (map[string]string, error) {
	if _, err := s.repos.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return map[string]string{}, nil
	}
	keys, err := s.blobs.List(ctx, blobstore.ReferralPrefix(id.String()))
	if err != nil {
		return nil, err
	}
	links := make(map[string]string, len(keys))
	for _, key := range keys {
		url, err := s.blobs.Presign(ctx, key, expiry)
		if err != nil {
			return nil, err
		}
		links[key] = url
	}
	return links, nil
}
