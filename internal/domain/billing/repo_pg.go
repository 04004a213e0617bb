package billing

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

const invoiceCols = `id, invoice_no, patient_id, status, subtotal, discount_rate, total,
	created_by, created_at, issued_at, paid_at, updated_at`

const itemCols = `id, invoice_id, service_item_id, description, category, quantity, unit_price, line_total`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNo, &inv.PatientID, &inv.Status, &inv.Subtotal,
		&inv.DiscountRate, &inv.Total, &inv.CreatedBy, &inv.CreatedAt,
		&inv.IssuedAt, &inv.PaidAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO invoice (id, invoice_no, patient_id, status, subtotal, discount_rate, total, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		inv.ID, inv.InvoiceNo, inv.PatientID, inv.Status, inv.Subtotal, inv.DiscountRate, inv.Total, inv.CreatedBy)
	if err != nil {
		return err
	}
	for _, item := range inv.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.InvoiceID = inv.ID
		_, err := q.Exec(ctx, `
			INSERT INTO invoice_item (id, invoice_id, service_item_id, description, category, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, item.InvoiceID, item.ServiceItemID, item.Description, item.Category,
			item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r.loadItems(ctx, inv)
}

func (r *repoPG) GetByNumber(ctx context.Context, invoiceNo string) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE invoice_no = $1`, invoiceNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s not found", invoiceNo)
	}
	if err != nil {
		return nil, err
	}
	return r.loadItems(ctx, inv)
}

func (r *repoPG) loadItems(ctx context.Context, inv *Invoice) (*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM invoice_item WHERE invoice_id = $1 ORDER BY description`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.ServiceItemID, &item.Description,
			&item.Category, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, &item)
	}
	return inv, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice
		SET status=$2, issued_at=$3, paid_at=$4, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.Status, inv.IssuedAt, inv.PaidAt)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectInvoices(rows, total)
}

func (r *repoPG) ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectInvoices(rows, total)
}

func collectInvoices(rows pgx.Rows, total int) ([]*Invoice, int, error) {
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}
