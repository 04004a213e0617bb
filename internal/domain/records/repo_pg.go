package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository { return &configRepoPG{pool: pool} }

func (r *configRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *configRepoPG) Get(ctx context.Context, module Module) (*ModuleConfig, bool, error) {
	var cfg ModuleConfig
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT module, requires_authorization, default_service_type, updated_at
		FROM module_config WHERE module = $1`, module).
		Scan(&cfg.Module, &cfg.RequiresAuthorization, &cfg.DefaultServiceType, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (r *configRepoPG) Set(ctx context.Context, cfg *ModuleConfig) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO module_config (module, requires_authorization, default_service_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (module) DO UPDATE
			SET requires_authorization = EXCLUDED.requires_authorization,
				default_service_type = EXCLUDED.default_service_type,
				updated_at = NOW()`,
		cfg.Module, cfg.RequiresAuthorization, cfg.DefaultServiceType)
	return err
}

func (r *configRepoPG) List(ctx context.Context) ([]*ModuleConfig, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT module, requires_authorization, default_service_type, updated_at
		FROM module_config ORDER BY module`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ModuleConfig
	for rows.Next() {
		var cfg ModuleConfig
		if err := rows.Scan(&cfg.Module, &cfg.RequiresAuthorization, &cfg.DefaultServiceType, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, patient_id, module, description, authorization_code, authorization_status,
	request_id, created_by, created_at, updated_at`

func scanRecord(row pgx.Row) (*ClinicalRecord, error) {
	var cr ClinicalRecord
	err := row.Scan(&cr.ID, &cr.PatientID, &cr.Module, &cr.Description, &cr.AuthorizationCode,
		&cr.AuthorizationStatus, &cr.RequestID, &cr.CreatedBy, &cr.CreatedAt, &cr.UpdatedAt)
	return &cr, err
}

func (r *recordRepoPG) Create(ctx context.Context, cr *ClinicalRecord) error {
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record
			(id, patient_id, module, description, authorization_code, authorization_status, request_id, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		cr.ID, cr.PatientID, cr.Module, cr.Description, cr.AuthorizationCode,
		cr.AuthorizationStatus, cr.RequestID, cr.CreatedBy)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	cr, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM clinical_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinical record %s not found", id)
	}
	return cr, err
}

func (r *recordRepoPG) Update(ctx context.Context, cr *ClinicalRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record
		SET authorization_code=$2, authorization_status=$3, request_id=$4, description=$5, updated_at=NOW()
		WHERE id = $1`,
		cr.ID, cr.AuthorizationCode, cr.AuthorizationStatus, cr.RequestID, cr.Description)
	return err
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM clinical_record WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecords(rows, total)
}

func (r *recordRepoPG) ListByStatus(ctx context.Context, status AuthorizationStatus, limit, offset int) ([]*ClinicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_record WHERE authorization_status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM clinical_record WHERE authorization_status = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecords(rows, total)
}

func collectRecords(rows pgx.Rows, total int) ([]*ClinicalRecord, int, error) {
	var items []*ClinicalRecord
	for rows.Next() {
		cr, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cr)
	}
	return items, total, rows.Err()
}
