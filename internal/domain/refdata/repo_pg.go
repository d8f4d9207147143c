package refdata

import (
	"context"
	"errors"
	"strings"

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

// =========== Diagnosis Repository ===========

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pool: pool}
}

func (r *diagnosisRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const diagnosisCols = `id, code, description, category, body_region, is_active, created_at, updated_at`

func (r *diagnosisRepoPG) scanDiagnosis(row pgx.Row) (*DiagnosisCode, error) {
	var d DiagnosisCode
	err := row.Scan(&d.ID, &d.Code, &d.Description, &d.Category, &d.BodyRegion,
		&d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *diagnosisRepoPG) Upsert(ctx context.Context, d *DiagnosisCode) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnosis_code (id, code, description, category, body_region, is_active)
		VALUES ($1,$2,$3,$4,$5,TRUE)
		ON CONFLICT (code) DO UPDATE SET
			description=EXCLUDED.description, category=EXCLUDED.category,
			body_region=EXCLUDED.body_region, is_active=TRUE, updated_at=NOW()`,
		d.ID, d.Code, d.Description, d.Category, d.BodyRegion)
	return err
}

func (r *diagnosisRepoPG) GetByCode(ctx context.Context, code string) (*DiagnosisCode, error) {
	return r.scanDiagnosis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+diagnosisCols+` FROM diagnosis_code WHERE UPPER(code) = UPPER($1) AND is_active`, code))
}

func (r *diagnosisRepoPG) ListByCategory(ctx context.Context, category string) ([]*DiagnosisCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+diagnosisCols+` FROM diagnosis_code
		 WHERE LOWER(category) = LOWER($1) AND is_active ORDER BY code`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DiagnosisCode
	for rows.Next() {
		d, err := r.scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, nil
}

// =========== Procedure Repository ===========

type procedureRepoPG struct{ pool *pgxpool.Pool }

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

func (r *procedureRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const procedureCols = `id, code, description, service_type, modality, body_region,
	with_contrast, requires_auth, is_active, created_at, updated_at`

func (r *procedureRepoPG) scanProcedure(row pgx.Row) (*ProcedureCode, error) {
	var p ProcedureCode
	err := row.Scan(&p.ID, &p.Code, &p.Description, &p.ServiceType, &p.Modality,
		&p.BodyRegion, &p.WithContrast, &p.RequiresAuth, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *procedureRepoPG) Upsert(ctx context.Context, p *ProcedureCode) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO procedure_code (id, code, description, service_type, modality,
			body_region, with_contrast, requires_auth, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
		ON CONFLICT (code) DO UPDATE SET
			description=EXCLUDED.description, service_type=EXCLUDED.service_type,
			modality=EXCLUDED.modality, body_region=EXCLUDED.body_region,
			with_contrast=EXCLUDED.with_contrast, requires_auth=EXCLUDED.requires_auth,
			is_active=TRUE, updated_at=NOW()`,
		p.ID, p.Code, p.Description, p.ServiceType, p.Modality,
		p.BodyRegion, p.WithContrast, p.RequiresAuth)
	return err
}

func (r *procedureRepoPG) GetByCode(ctx context.Context, code string) (*ProcedureCode, error) {
	return r.scanProcedure(r.conn(ctx).QueryRow(ctx,
		`SELECT `+procedureCols+` FROM procedure_code WHERE UPPER(code) = UPPER($1) AND is_active`, code))
}

func (r *procedureRepoPG) ListByServiceTypes(ctx context.Context, serviceTypes []string, withContrast *bool) ([]*ProcedureCode, error) {
	lowered := make([]string, len(serviceTypes))
	for i, s := range serviceTypes {
		lowered[i] = strings.ToLower(s)
	}

	sql := `SELECT ` + procedureCols + ` FROM procedure_code
		WHERE LOWER(service_type) = ANY($1) AND is_active`
	args := []interface{}{lowered}
	if withContrast != nil {
		sql += ` AND with_contrast = $2`
		args = append(args, *withContrast)
	}
	sql += ` ORDER BY code`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ProcedureCode
	for rows.Next() {
		p, err := r.scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}
