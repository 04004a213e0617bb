package authorization

import (
	"context"
	"errors"
	"time"

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

// =========== Code Repository ===========

type codeRepoPG struct{ pool *pgxpool.Pool }

func NewCodeRepoPG(pool *pgxpool.Pool) CodeRepository { return &codeRepoPG{pool: pool} }

func (r *codeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const codeCols = `code, patient_id, service_type, service_description, amount, expiry_date,
	status, generated_by, generated_at, used_at, notes, updated_at`

func scanCode(row pgx.Row) (*AuthorizationCode, error) {
	var a AuthorizationCode
	err := row.Scan(&a.Code, &a.PatientID, &a.ServiceType, &a.ServiceDescription, &a.Amount,
		&a.ExpiryDate, &a.Status, &a.GeneratedBy, &a.GeneratedAt, &a.UsedAt, &a.Notes, &a.UpdatedAt)
	return &a, err
}

func (r *codeRepoPG) Create(ctx context.Context, c *AuthorizationCode) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO authorization_code
			(code, patient_id, service_type, service_description, amount, expiry_date, status, generated_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.Code, c.PatientID, c.ServiceType, c.ServiceDescription, c.Amount, c.ExpiryDate,
		c.Status, c.GeneratedBy, c.Notes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

func (r *codeRepoPG) Get(ctx context.Context, code string) (*AuthorizationCode, error) {
	c, err := scanCode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+codeCols+` FROM authorization_code WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	return c, err
}

func (r *codeRepoPG) UpdateStatus(ctx context.Context, code string, status Status, usedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_code SET status=$2, used_at=COALESCE($3, used_at), updated_at=NOW()
		WHERE code = $1`,
		code, status, usedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCodeNotFound
	}
	return nil
}

func (r *codeRepoPG) MarkUsed(ctx context.Context, code string, usedAt time.Time) (*AuthorizationCode, bool, error) {
	c, err := scanCode(r.conn(ctx).QueryRow(ctx, `
		UPDATE authorization_code SET status=$2, used_at=$3, updated_at=NOW()
		WHERE code = $1 AND status = $4
		RETURNING `+codeCols,
		code, StatusUsed, usedAt, StatusActive))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	// Lost the race or the code was not active; report the current row.
	c, err = r.Get(ctx, code)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (r *codeRepoPG) AppendNotes(ctx context.Context, code string, note string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_code
		SET notes = CASE WHEN notes IS NULL OR notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at = NOW()
		WHERE code = $1`,
		code, note)
	return err
}

func (r *codeRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationCode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_code WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+codeCols+` FROM authorization_code WHERE patient_id = $1 ORDER BY generated_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCodes(rows, total)
}

func (r *codeRepoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*AuthorizationCode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_code WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+codeCols+` FROM authorization_code WHERE status = $1 ORDER BY generated_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCodes(rows, total)
}

func (r *codeRepoPG) FindConsumable(ctx context.Context, patientID uuid.UUID, serviceType ServiceType, today time.Time) (*AuthorizationCode, error) {
	c, err := scanCode(r.conn(ctx).QueryRow(ctx, `
		SELECT `+codeCols+` FROM authorization_code
		WHERE patient_id = $1 AND status = $2 AND expiry_date >= $3
			AND (service_type = $4 OR service_type = $5)
		ORDER BY generated_at
		LIMIT 1`,
		patientID, StatusActive, today, serviceType, ServiceGeneral))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	return c, err
}

func (r *codeRepoPG) ExpireOverdue(ctx context.Context, today time.Time) ([]*AuthorizationCode, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE authorization_code SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3) AND expiry_date < $4
		RETURNING `+codeCols,
		StatusExpired, StatusPending, StatusActive, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	expired, _, err := collectCodes(rows, 0)
	return expired, err
}

func collectCodes(rows pgx.Rows, total int) ([]*AuthorizationCode, int, error) {
	var items []*AuthorizationCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, patient_id, module, requested_by, requested_at, status, linked_code, justification, updated_at`

func scanRequest(row pgx.Row) (*AuthorizationRequest, error) {
	var a AuthorizationRequest
	err := row.Scan(&a.ID, &a.PatientID, &a.Module, &a.RequestedBy, &a.RequestedAt,
		&a.Status, &a.LinkedCode, &a.Justification, &a.UpdatedAt)
	return &a, err
}

func (r *requestRepoPG) Create(ctx context.Context, req *AuthorizationRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO authorization_request (id, patient_id, module, requested_by, status, justification)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		req.ID, req.PatientID, req.Module, req.RequestedBy, req.Status, req.Justification)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRequest
	}
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AuthorizationRequest, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM authorization_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (r *requestRepoPG) FindPending(ctx context.Context, patientID uuid.UUID, module ServiceType) (*AuthorizationRequest, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		SELECT `+requestCols+` FROM authorization_request
		WHERE patient_id = $1 AND module = $2 AND status = $3
		ORDER BY requested_at
		LIMIT 1`,
		patientID, module, RequestPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (r *requestRepoPG) Update(ctx context.Context, req *AuthorizationRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_request SET status=$2, linked_code=$3, justification=$4, updated_at=NOW()
		WHERE id = $1`,
		req.ID, req.Status, req.LinkedCode, req.Justification)
	return err
}

func (r *requestRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_request WHERE status = $1`, RequestPending).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM authorization_request WHERE status = $1 ORDER BY requested_at LIMIT $2 OFFSET $3`,
		RequestPending, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRequests(rows, total)
}

func (r *requestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_request WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM authorization_request WHERE patient_id = $1 ORDER BY requested_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRequests(rows, total)
}

func collectRequests(rows pgx.Rows, total int) ([]*AuthorizationRequest, int, error) {
	var items []*AuthorizationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}
