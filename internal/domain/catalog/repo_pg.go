package catalog

import (
	"context"
	"errors"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, code, name, category, price, nhia_covered, description, active, created_at, updated_at`

func scanItem(row pgx.Row) (*ServiceItem, error) {
	var it ServiceItem
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Price, &it.NHIACovered,
		&it.Description, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *repoPG) Create(ctx context.Context, item *ServiceItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service_item (id, code, name, category, price, nhia_covered, description, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.Code, item.Name, item.Category, item.Price, item.NHIACovered, item.Description, item.Active)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ServiceItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM service_item WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*ServiceItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM service_item WHERE code = $1`, code))
}

func (r *repoPG) Update(ctx context.Context, item *ServiceItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE service_item SET name=$2, category=$3, price=$4, nhia_covered=$5,
			description=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		item.ID, item.Name, item.Category, item.Price, item.NHIACovered, item.Description, item.Active)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM service_item WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*ServiceItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service_item`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM service_item ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func (r *repoPG) ListByCategory(ctx context.Context, category string, limit, offset int) ([]*ServiceItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service_item WHERE category = $1`, category).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM service_item WHERE category = $1 ORDER BY code LIMIT $2 OFFSET $3`, category, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func (r *repoPG) Search(ctx context.Context, query string, limit, offset int) ([]*ServiceItem, int, error) {
	pattern := "%" + query + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM service_item WHERE name ILIKE $1 OR code ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM service_item WHERE name ILIKE $1 OR code ILIKE $1 ORDER BY code LIMIT $2 OFFSET $3`,
		pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func collect(rows pgx.Rows, total int) ([]*ServiceItem, int, error) {
	var items []*ServiceItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository { return &mappingRepoPG{pool: pool} }

func (r *mappingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *mappingRepoPG) Get(ctx context.Context, category string) (*CategoryMapping, bool, error) {
	var m CategoryMapping
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT category, service_type FROM category_service_type WHERE category = $1`, category).
		Scan(&m.Category, &m.ServiceType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

func (r *mappingRepoPG) Set(ctx context.Context, m *CategoryMapping) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO category_service_type (category, service_type) VALUES ($1, $2)
		ON CONFLICT (category) DO UPDATE SET service_type = EXCLUDED.service_type`,
		m.Category, m.ServiceType)
	return err
}

func (r *mappingRepoPG) List(ctx context.Context) ([]*CategoryMapping, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT category, service_type FROM category_service_type ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CategoryMapping
	for rows.Next() {
		var m CategoryMapping
		if err := rows.Scan(&m.Category, &m.ServiceType); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
