package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// =========== Queue Repository ===========

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository {
	return &queueRepoPG{pool: pool}
}

func (r *queueRepoPG) conn(ctx context.Context) queryable { return pick(ctx, r.pool) }

const queueCols = `id, name, type, description, sla_minutes, auto_assign, created_at, updated_at`

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	err := row.Scan(&q.ID, &q.Name, &q.Type, &q.Description, &q.SLAMinutes,
		&q.AutoAssign, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &q, err
}

func (r *queueRepoPG) Create(ctx context.Context, q *Queue) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue (id, name, type, description, sla_minutes, auto_assign)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (type) DO UPDATE SET
			name=EXCLUDED.name, description=EXCLUDED.description,
			sla_minutes=EXCLUDED.sla_minutes, auto_assign=EXCLUDED.auto_assign,
			updated_at=now()
		RETURNING id, created_at, updated_at`,
		q.ID, q.Name, q.Type, q.Description, q.SLAMinutes, q.AutoAssign,
	)
	return row.Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+queueCols+` FROM queue WHERE id = $1`, id)
	return scanQueue(row)
}

func (r *queueRepoPG) GetByType(ctx context.Context, queueType string) (*Queue, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+queueCols+` FROM queue WHERE type = $1`, queueType)
	return scanQueue(row)
}

func (r *queueRepoPG) List(ctx context.Context) ([]Queue, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+queueCols+` FROM queue ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// =========== Queue Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

func (r *itemRepoPG) conn(ctx context.Context) queryable { return pick(ctx, r.pool) }

const itemCols = `id, queue_id, email_id, referral_id, status, priority, assigned_to, note,
	entered_queue_at, due_at, assigned_at, started_at, completed_at,
	attempt_count, last_error, created_at, updated_at`

func scanItem(row pgx.Row) (*QueueItem, error) {
	var qi QueueItem
	err := row.Scan(&qi.ID, &qi.QueueID, &qi.EmailID, &qi.ReferralID, &qi.Status,
		&qi.Priority, &qi.AssignedTo, &qi.Note,
		&qi.EnteredQueueAt, &qi.DueAt, &qi.AssignedAt, &qi.StartedAt, &qi.CompletedAt,
		&qi.AttemptCount, &qi.LastError, &qi.CreatedAt, &qi.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &qi, err
}

func (r *itemRepoPG) Create(ctx context.Context, item *QueueItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = ItemPending
	}
	if item.Priority == "" {
		item.Priority = "medium"
	}
	if item.EnteredQueueAt.IsZero() {
		item.EnteredQueueAt = time.Now().UTC()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_item (
			id, queue_id, email_id, referral_id, status, priority, assigned_to, note,
			entered_queue_at, due_at, attempt_count, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		item.ID, item.QueueID, item.EmailID, item.ReferralID, item.Status,
		item.Priority, item.AssignedTo, item.Note,
		item.EnteredQueueAt, item.DueAt, item.AttemptCount, item.LastError,
	)
	return row.Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueItem, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM queue_item WHERE id = $1`, id)
	return scanItem(row)
}

func (r *itemRepoPG) getOpen(ctx context.Context, queueID uuid.UUID, column string, target uuid.UUID) (*QueueItem, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+itemCols+` FROM queue_item
		WHERE queue_id = $1 AND `+column+` = $2 AND status IN ('pending','in_progress')
		ORDER BY entered_queue_at ASC
		LIMIT 1`, queueID, target)
	qi, err := scanItem(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoOpenItem
	}
	return qi, err
}

func (r *itemRepoPG) GetOpenByEmail(ctx context.Context, queueID, emailID uuid.UUID) (*QueueItem, error) {
	return r.getOpen(ctx, queueID, "email_id", emailID)
}

func (r *itemRepoPG) GetOpenByReferral(ctx context.Context, queueID, referralID uuid.UUID) (*QueueItem, error) {
	return r.getOpen(ctx, queueID, "referral_id", referralID)
}

func (r *itemRepoPG) Update(ctx context.Context, item *QueueItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_item SET
			status=$2, priority=$3, assigned_to=$4, note=$5, due_at=$6,
			assigned_at=$7, started_at=$8, completed_at=$9,
			attempt_count=$10, last_error=$11, updated_at=now()
		WHERE id = $1`,
		item.ID, item.Status, item.Priority, item.AssignedTo, item.Note, item.DueAt,
		item.AssignedAt, item.StartedAt, item.CompletedAt,
		item.AttemptCount, item.LastError,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim is the one compare-and-set in the system: the status predicate in
// the UPDATE guarantees at most one claimant wins.
func (r *itemRepoPG) Claim(ctx context.Context, id uuid.UUID, user string, now time.Time) (*QueueItem, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_item SET
			status='in_progress', assigned_to=$2, assigned_at=$3, started_at=$3, updated_at=now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+itemCols, id, user, now)
	qi, err := scanItem(row)
	if errors.Is(err, ErrNotFound) {
		// distinguish a lost race from a bad id
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyClaimed
	}
	return qi, err
}

// ClaimNext claims the oldest pending item in the queue. SKIP LOCKED keeps
// concurrent pollers from serializing on the same row.
func (r *itemRepoPG) ClaimNext(ctx context.Context, queueID uuid.UUID, user string, now time.Time) (*QueueItem, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_item SET
			status='in_progress', assigned_to=$2, assigned_at=$3, started_at=$3, updated_at=now()
		WHERE id = (
			SELECT id FROM queue_item
			WHERE queue_id = $1 AND status = 'pending'
			ORDER BY entered_queue_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemCols, queueID, user, now)
	qi, err := scanItem(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoOpenItem
	}
	return qi, err
}

func (r *itemRepoPG) Release(ctx context.Context, id uuid.UUID, user string) (*QueueItem, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_item SET
			status='pending', assigned_to=NULL, assigned_at=NULL, started_at=NULL, updated_at=now()
		WHERE id = $1 AND status = 'in_progress' AND assigned_to = $2
		RETURNING `+itemCols, id, user)
	qi, err := scanItem(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotClaimant
	}
	return qi, err
}

func (r *itemRepoPG) ListByQueue(ctx context.Context, queueID uuid.UUID, status string, page pagination.Params) ([]QueueItem, int, error) {
	where := []string{"queue_id = $1"}
	args := []interface{}{queueID}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM queue_item WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM queue_item WHERE `+cond+
			fmt.Sprintf(` ORDER BY entered_queue_at ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		qi, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *qi)
	}
	return out, total, rows.Err()
}

func (r *itemRepoPG) ListOverdue(ctx context.Context, queueID uuid.UUID, now time.Time) ([]QueueItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM queue_item
		WHERE queue_id = $1 AND due_at IS NOT NULL AND due_at < $2
		  AND status IN ('pending','in_progress')
		ORDER BY due_at ASC`, queueID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		qi, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *qi)
	}
	return out, rows.Err()
}

func (r *itemRepoPG) Stats(ctx context.Context, queueID uuid.UUID, now time.Time) (*QueueStats, error) {
	stats := &QueueStats{QueueID: queueID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'in_progress'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'skipped'),
			count(*) FILTER (WHERE due_at IS NOT NULL AND due_at < $2
				AND status IN ('pending','in_progress')),
			COALESCE(avg(EXTRACT(EPOCH FROM (COALESCE(started_at, $2) - entered_queue_at)) / 60), 0),
			COALESCE(avg(EXTRACT(EPOCH FROM (completed_at - started_at)) / 60)
				FILTER (WHERE started_at IS NOT NULL AND completed_at IS NOT NULL), 0)
		FROM queue_item WHERE queue_id = $1`, queueID, now).Scan(
		&stats.Pending, &stats.InProgress, &stats.Completed, &stats.Failed,
		&stats.Skipped, &stats.Overdue, &stats.AvgWaitMins, &stats.AvgWorkMins)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
