package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refcrm/refcrm/internal/platform/db"
	"github.com/refcrm/refcrm/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func pick(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Referral Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const referralCols = `id, email_id, carrier_id, carrier_name_raw, claim_number,
	patient_first_name, patient_last_name, patient_dob, patient_phone, patient_email,
	patient_address_1, patient_address_2, patient_city, patient_state, patient_zip,
	patient_gender, patient_ssn, patient_job_title,
	employer_name, employer_address,
	date_of_injury, body_parts, service_summary, jurisdiction_state, order_type,
	icd10_code, icd10_description, icd10_category, procedure_code,
	physician_name, physician_npi,
	suggested_providers, special_requirements, authorization_number,
	adjuster_name, adjuster_email, adjuster_phone,
	priority, status, reject_reason, extraction_confidence, needs_human_review,
	extraction_data, filemaker_record_id,
	received_at, validated_at, scheduled_at, completed_at, submitted_at,
	created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(
		&r.ID, &r.EmailID, &r.CarrierID, &r.CarrierNameRaw, &r.ClaimNumber,
		&r.PatientFirstName, &r.PatientLastName, &r.PatientDOB, &r.PatientPhone, &r.PatientEmail,
		&r.PatientAddress1, &r.PatientAddress2, &r.PatientCity, &r.PatientState, &r.PatientZip,
		&r.PatientGender, &r.PatientSSN, &r.PatientJobTitle,
		&r.EmployerName, &r.EmployerAddress,
		&r.DateOfInjury, &r.BodyParts, &r.ServiceSummary, &r.JurisdictionState, &r.OrderType,
		&r.ICD10Code, &r.ICD10Description, &r.ICD10Category, &r.ProcedureCode,
		&r.PhysicianName, &r.PhysicianNPI,
		&r.SuggestedProviders, &r.SpecialRequirements, &r.AuthorizationNumber,
		&r.AdjusterName, &r.AdjusterEmail, &r.AdjusterPhone,
		&r.Priority, &r.Status, &r.RejectReason, &r.ExtractionConfidence, &r.NeedsHumanReview,
		&r.ExtractionData, &r.FileMakerRecordID,
		&r.ReceivedAt, &r.ValidatedAt, &r.ScheduledAt, &r.CompletedAt, &r.SubmittedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (s *repoPG) conn(ctx context.Context) queryable { return pick(ctx, s.pool) }

func (s *repoPG) Create(ctx context.Context, r *Referral) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO referral (
			id, email_id, carrier_id, carrier_name_raw, claim_number,
			patient_first_name, patient_last_name, patient_dob, patient_phone, patient_email,
			patient_address_1, patient_address_2, patient_city, patient_state, patient_zip,
			patient_gender, patient_ssn, patient_job_title,
			employer_name, employer_address,
			date_of_injury, body_parts, service_summary, jurisdiction_state, order_type,
			icd10_code, icd10_description, icd10_category, procedure_code,
			physician_name, physician_npi,
			suggested_providers, special_requirements, authorization_number,
			adjuster_name, adjuster_email, adjuster_phone,
			priority, status, reject_reason, extraction_confidence, needs_human_review,
			extraction_data, filemaker_record_id, received_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,
			$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,
			$41,$42,$43,$44,COALESCE($45, now())
		)
		RETURNING received_at, created_at, updated_at`,
		r.ID, r.EmailID, r.CarrierID, r.CarrierNameRaw, r.ClaimNumber,
		r.PatientFirstName, r.PatientLastName, r.PatientDOB, r.PatientPhone, r.PatientEmail,
		r.PatientAddress1, r.PatientAddress2, r.PatientCity, r.PatientState, r.PatientZip,
		r.PatientGender, r.PatientSSN, r.PatientJobTitle,
		r.EmployerName, r.EmployerAddress,
		r.DateOfInjury, r.BodyParts, r.ServiceSummary, r.JurisdictionState, r.OrderType,
		r.ICD10Code, r.ICD10Description, r.ICD10Category, r.ProcedureCode,
		r.PhysicianName, r.PhysicianNPI,
		r.SuggestedProviders, r.SpecialRequirements, r.AuthorizationNumber,
		r.AdjusterName, r.AdjusterEmail, r.AdjusterPhone,
		r.Priority, r.Status, r.RejectReason, r.ExtractionConfidence, r.NeedsHumanReview,
		r.ExtractionData, r.FileMakerRecordID, nullTime(r.ReceivedAt),
	)
	return row.Scan(&r.ReceivedAt, &r.CreatedAt, &r.UpdatedAt)
}

func (s *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referral WHERE id = $1`, id)
	return scanReferral(row)
}

func (s *repoPG) GetByEmailID(ctx context.Context, emailID uuid.UUID) (*Referral, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referral WHERE email_id = $1`, emailID)
	return scanReferral(row)
}

func (s *repoPG) Update(ctx context.Context, r *Referral) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE referral SET
			email_id=$2, carrier_id=$3, carrier_name_raw=$4, claim_number=$5,
			patient_first_name=$6, patient_last_name=$7, patient_dob=$8, patient_phone=$9, patient_email=$10,
			patient_address_1=$11, patient_address_2=$12, patient_city=$13, patient_state=$14, patient_zip=$15,
			patient_gender=$16, patient_ssn=$17, patient_job_title=$18,
			employer_name=$19, employer_address=$20,
			date_of_injury=$21, body_parts=$22, service_summary=$23, jurisdiction_state=$24, order_type=$25,
			icd10_code=$26, icd10_description=$27, icd10_category=$28, procedure_code=$29,
			physician_name=$30, physician_npi=$31,
			suggested_providers=$32, special_requirements=$33, authorization_number=$34,
			adjuster_name=$35, adjuster_email=$36, adjuster_phone=$37,
			priority=$38, status=$39, reject_reason=$40, extraction_confidence=$41, needs_human_review=$42,
			extraction_data=$43, filemaker_record_id=$44,
			validated_at=$45, scheduled_at=$46, completed_at=$47, submitted_at=$48,
			updated_at=now()
		WHERE id = $1`,
		r.ID, r.EmailID, r.CarrierID, r.CarrierNameRaw, r.ClaimNumber,
		r.PatientFirstName, r.PatientLastName, r.PatientDOB, r.PatientPhone, r.PatientEmail,
		r.PatientAddress1, r.PatientAddress2, r.PatientCity, r.PatientState, r.PatientZip,
		r.PatientGender, r.PatientSSN, r.PatientJobTitle,
		r.EmployerName, r.EmployerAddress,
		r.DateOfInjury, r.BodyParts, r.ServiceSummary, r.JurisdictionState, r.OrderType,
		r.ICD10Code, r.ICD10Description, r.ICD10Category, r.ProcedureCode,
		r.PhysicianName, r.PhysicianNPI,
		r.SuggestedProviders, r.SpecialRequirements, r.AuthorizationNumber,
		r.AdjusterName, r.AdjusterEmail, r.AdjusterPhone,
		r.Priority, r.Status, r.RejectReason, r.ExtractionConfidence, r.NeedsHumanReview,
		r.ExtractionData, r.FileMakerRecordID,
		r.ValidatedAt, r.ScheduledAt, r.CompletedAt, r.SubmittedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM referral WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *repoPG) List(ctx context.Context, filter ListFilter, page pagination.Params) ([]Referral, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Priority != "" {
		add("priority = $%d", filter.Priority)
	}
	if filter.NeedsHumanReview != nil {
		add("needs_human_review = $%d", *filter.NeedsHumanReview)
	}
	if filter.CarrierID != nil {
		add("carrier_id = $%d", *filter.CarrierID)
	}
	if filter.Search != "" {
		add("(claim_number ILIKE $%[1]d OR patient_first_name ILIKE $%[1]d OR patient_last_name ILIKE $%[1]d)", "%"+filter.Search+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM referral WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+referralCols+` FROM referral WHERE `+cond+
			fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

func (s *repoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT status, count(*) FROM referral GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =========== Line Item Repository ===========

type lineItemRepoPG struct{ pool *pgxpool.Pool }

func NewLineItemRepoPG(pool *pgxpool.Pool) LineItemRepository {
	return &lineItemRepoPG{pool: pool}
}

func (s *lineItemRepoPG) conn(ctx context.Context) queryable { return pick(ctx, s.pool) }

const lineItemCols = `id, referral_id, line_number, service_description, modality, service_type,
	body_region, body_group, laterality, with_contrast, quantity,
	icd10_code, icd10_description, procedure_code, procedure_description,
	status, confidence, source, needs_review, created_at, updated_at`

func scanLineItem(row pgx.Row) (*LineItem, error) {
	var li LineItem
	err := row.Scan(
		&li.ID, &li.ReferralID, &li.LineNumber, &li.ServiceDescription, &li.Modality, &li.ServiceType,
		&li.BodyRegion, &li.BodyGroup, &li.Laterality, &li.WithContrast, &li.Quantity,
		&li.ICD10Code, &li.ICD10Description, &li.ProcedureCode, &li.ProcedureDesc,
		&li.Status, &li.Confidence, &li.Source, &li.NeedsReview, &li.CreatedAt, &li.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &li, err
}

func (s *lineItemRepoPG) Create(ctx context.Context, item *LineItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = LineItemPending
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO referral_line_item (
			id, referral_id, line_number, service_description, modality, service_type,
			body_region, body_group, laterality, with_contrast, quantity,
			icd10_code, icd10_description, procedure_code, procedure_description,
			status, confidence, source, needs_review
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		item.ID, item.ReferralID, item.LineNumber, item.ServiceDescription, item.Modality, item.ServiceType,
		item.BodyRegion, item.BodyGroup, item.Laterality, item.WithContrast, item.Quantity,
		item.ICD10Code, item.ICD10Description, item.ProcedureCode, item.ProcedureDesc,
		item.Status, item.Confidence, item.Source, item.NeedsReview,
	)
	return row.Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (s *lineItemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+lineItemCols+` FROM referral_line_item WHERE id = $1`, id)
	return scanLineItem(row)
}

func (s *lineItemRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]LineItem, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+lineItemCols+` FROM referral_line_item
		 WHERE referral_id = $1 ORDER BY line_number ASC`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *li)
	}
	return out, rows.Err()
}

func (s *lineItemRepoPG) Update(ctx context.Context, item *LineItem) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE referral_line_item SET
			line_number=$2, service_description=$3, modality=$4, service_type=$5,
			body_region=$6, body_group=$7, laterality=$8, with_contrast=$9, quantity=$10,
			icd10_code=$11, icd10_description=$12, procedure_code=$13, procedure_description=$14,
			status=$15, confidence=$16, source=$17, needs_review=$18, updated_at=now()
		WHERE id = $1`,
		item.ID, item.LineNumber, item.ServiceDescription, item.Modality, item.ServiceType,
		item.BodyRegion, item.BodyGroup, item.Laterality, item.WithContrast, item.Quantity,
		item.ICD10Code, item.ICD10Description, item.ProcedureCode, item.ProcedureDesc,
		item.Status, item.Confidence, item.Source, item.NeedsReview,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *lineItemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM referral_line_item WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *lineItemRepoPG) NextLineNumber(ctx context.Context, referralID uuid.UUID) (int, error) {
	var next int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(line_number), 0) + 1 FROM referral_line_item WHERE referral_id = $1`,
		referralID).Scan(&next)
	return next, err
}

// =========== Carrier Repository ===========

type carrierRepoPG struct{ pool *pgxpool.Pool }

func NewCarrierRepoPG(pool *pgxpool.Pool) CarrierRepository {
	return &carrierRepoPG{pool: pool}
}

func (s *carrierRepoPG) conn(ctx context.Context) queryable { return pick(ctx, s.pool) }

const carrierCols = `id, name, code, contact_email, contact_phone, notes, is_active, created_at, updated_at`

func scanCarrier(row pgx.Row) (*Carrier, error) {
	var c Carrier
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.ContactEmail, &c.ContactPhone,
		&c.Notes, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (s *carrierRepoPG) Create(ctx context.Context, c *Carrier) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO carrier (id, name, code, contact_email, contact_phone, notes, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,TRUE)
		RETURNING is_active, created_at, updated_at`,
		c.ID, c.Name, c.Code, c.ContactEmail, c.ContactPhone, c.Notes,
	)
	return row.Scan(&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
}

func (s *carrierRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Carrier, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+carrierCols+` FROM carrier WHERE id = $1`, id)
	return scanCarrier(row)
}

func (s *carrierRepoPG) GetByName(ctx context.Context, name string) (*Carrier, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+carrierCols+` FROM carrier WHERE LOWER(name) = LOWER($1) AND is_active`, name)
	return scanCarrier(row)
}

func (s *carrierRepoPG) List(ctx context.Context) ([]Carrier, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+carrierCols+` FROM carrier WHERE is_active ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Carrier
	for rows.Next() {
		c, err := scanCarrier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// =========== Status History Repository ===========

type statusHistoryRepoPG struct{ pool *pgxpool.Pool }

func NewStatusHistoryRepoPG(pool *pgxpool.Pool) StatusHistoryRepository {
	return &statusHistoryRepoPG{pool: pool}
}

func (s *statusHistoryRepoPG) conn(ctx context.Context) queryable { return pick(ctx, s.pool) }

func (s *statusHistoryRepoPG) Add(ctx context.Context, change *StatusChange) error {
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO referral_status_history (id, referral_id, from_status, to_status, actor, note)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		change.ID, change.ReferralID, change.FromStatus, change.ToStatus, change.Actor, change.Note,
	)
	return row.Scan(&change.CreatedAt)
}

func (s *statusHistoryRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]StatusChange, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, referral_id, from_status, to_status, actor, note, created_at
		FROM referral_status_history
		WHERE referral_id = $1 ORDER BY created_at ASC`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.ReferralID, &c.FromStatus, &c.ToStatus, &c.Actor, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
