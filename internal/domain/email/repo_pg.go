package email

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refcrm/refcrm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const emailCols = `id, graph_id, conversation_id, subject, sender, body_text, status,
	attempt_count, error_message, received_at, processed_at, created_at, updated_at`

func (r *repoPG) scanEmail(row pgx.Row) (*Email, error) {
	var e Email
	err := row.Scan(&e.ID, &e.GraphID, &e.ConversationID, &e.Subject, &e.Sender,
		&e.BodyText, &e.Status, &e.AttemptCount, &e.ErrorMessage,
		&e.ReceivedAt, &e.ProcessedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Email) error {
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = StatusReceived
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO email (id, graph_id, conversation_id, subject, sender, body_text,
			status, attempt_count, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.GraphID, e.ConversationID, e.Subject, e.Sender, e.BodyText,
		e.Status, e.AttemptCount, e.ReceivedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Email, error) {
	return r.scanEmail(r.conn(ctx).QueryRow(ctx, `SELECT `+emailCols+` FROM email WHERE id = $1`, id))
}

func (r *repoPG) GetByGraphID(ctx context.Context, graphID string) (*Email, error) {
	return r.scanEmail(r.conn(ctx).QueryRow(ctx, `SELECT `+emailCols+` FROM email WHERE graph_id = $1`, graphID))
}

func (r *repoPG) Update(ctx context.Context, e *Email) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE email SET status=$2, attempt_count=$3, error_message=$4, body_text=$5,
			processed_at=$6, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Status, e.AttemptCount, e.ErrorMessage, e.BodyText, e.ProcessedAt)
	return err
}

func (r *repoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Email, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM email WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+emailCols+` FROM email WHERE status = $1 ORDER BY received_at ASC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Email
	for rows.Next() {
		e, err := r.scanEmail(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

// =========== Attachment Repository ===========

type attachmentRepoPG struct{ pool *pgxpool.Pool }

func NewAttachmentRepoPG(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepoPG{pool: pool}
}

func (r *attachmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const attachmentCols = `id, email_id, referral_id, filename, content_type, size_bytes,
	storage_key, text_key, is_relevant, document_type, created_at`

func (r *attachmentRepoPG) scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.EmailID, &a.ReferralID, &a.Filename, &a.ContentType,
		&a.SizeBytes, &a.StorageKey, &a.TextKey, &a.IsRelevant, &a.DocumentType, &a.CreatedAt)
	return &a, err
}

func (r *attachmentRepoPG) Create(ctx context.Context, a *Attachment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO attachment (id, email_id, referral_id, filename, content_type,
			size_bytes, storage_key, text_key, is_relevant, document_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.EmailID, a.ReferralID, a.Filename, a.ContentType,
		a.SizeBytes, a.StorageKey, a.TextKey, a.IsRelevant, a.DocumentType)
	return err
}

func (r *attachmentRepoPG) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]*Attachment, error) {
	return r.list(ctx, `SELECT `+attachmentCols+` FROM attachment WHERE email_id = $1 ORDER BY created_at`, emailID)
}

func (r *attachmentRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Attachment, error) {
	return r.list(ctx, `SELECT `+attachmentCols+` FROM attachment WHERE referral_id = $1 ORDER BY created_at`, referralID)
}

func (r *attachmentRepoPG) list(ctx context.Context, sql string, arg interface{}) ([]*Attachment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Attachment
	for rows.Next() {
		a, err := r.scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, nil
}
