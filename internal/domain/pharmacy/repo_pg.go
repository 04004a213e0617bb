package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgBase struct{ pool *pgxpool.Pool }

func (r pgBase) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

type medicationRepoPG struct{ pgBase }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pgBase{pool: pool}}
}

const medicationCols = `id, code, name, form, unit, active, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Form, &m.Unit, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication (id, code, name, form, unit, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.Code, m.Name, m.Form, m.Unit, m.Active)
	return err
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	m, err := scanMedication(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("medication %s not found", id)
	}
	return m, err
}

func (r *medicationRepoPG) GetByCode(ctx context.Context, code string) (*Medication, error) {
	m, err := scanMedication(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("medication %s not found", code)
	}
	return m, err
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET code=$2, name=$3, form=$4, unit=$5, active=$6, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Code, m.Name, m.Form, m.Unit, m.Active)
	return err
}

func (r *medicationRepoPG) List(ctx context.Context, limit, offset int) ([]*Medication, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMedications(rows, total)
}

func (r *medicationRepoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Medication, int, error) {
	pattern := "%" + query + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication WHERE active AND (name ILIKE $1 OR code ILIKE $1)`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicationCols+` FROM medication
		 WHERE active AND (name ILIKE $1 OR code ILIKE $1)
		 ORDER BY name LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMedications(rows, total)
}

func collectMedications(rows pgx.Rows, total int) ([]*Medication, int, error) {
	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

type dispensaryRepoPG struct{ pgBase }

func NewDispensaryRepoPG(pool *pgxpool.Pool) DispensaryRepository {
	return &dispensaryRepoPG{pgBase{pool: pool}}
}

const dispensaryCols = `id, name, location, has_active_store, active, created_at, updated_at`

func scanDispensary(row pgx.Row) (*Dispensary, error) {
	var d Dispensary
	err := row.Scan(&d.ID, &d.Name, &d.Location, &d.HasActiveStore, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *dispensaryRepoPG) Create(ctx context.Context, d *Dispensary) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dispensary (id, name, location, has_active_store, active)
		VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.Name, d.Location, d.HasActiveStore, d.Active)
	return err
}

func (r *dispensaryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dispensary, error) {
	d, err := scanDispensary(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dispensaryCols+` FROM dispensary WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dispensary %s not found", id)
	}
	return d, err
}

func (r *dispensaryRepoPG) Update(ctx context.Context, d *Dispensary) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE dispensary SET name=$2, location=$3, has_active_store=$4, active=$5, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Location, d.HasActiveStore, d.Active)
	return err
}

func (r *dispensaryRepoPG) List(ctx context.Context, limit, offset int) ([]*Dispensary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dispensary WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dispensaryCols+` FROM dispensary WHERE active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Dispensary
	for rows.Next() {
		d, err := scanDispensary(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

type inventoryRepoPG struct{ pgBase }

func NewInventoryRepoPG(pool *pgxpool.Pool) InventoryRepository {
	return &inventoryRepoPG{pgBase{pool: pool}}
}

const bulkCols = `id, medication_id, batch, quantity, expiry_date, unit_cost, received_at`

func scanBulk(row pgx.Row) (*BulkInventory, error) {
	var b BulkInventory
	err := row.Scan(&b.ID, &b.MedicationID, &b.Batch, &b.Quantity, &b.ExpiryDate, &b.UnitCost, &b.ReceivedAt)
	return &b, err
}

func (r *inventoryRepoPG) CreateBulk(ctx context.Context, row *BulkInventory) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bulk_inventory (id, medication_id, batch, quantity, expiry_date, unit_cost, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		row.ID, row.MedicationID, row.Batch, row.Quantity, row.ExpiryDate, row.UnitCost, row.ReceivedAt)
	return err
}

func (r *inventoryRepoPG) BulkRowsFIFO(ctx context.Context, medicationID uuid.UUID, today time.Time) ([]*BulkInventory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bulkCols+` FROM bulk_inventory
		WHERE medication_id = $1 AND quantity > 0 AND expiry_date >= $2
		ORDER BY expiry_date, received_at
		FOR UPDATE`, medicationID, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BulkInventory
	for rows.Next() {
		b, err := scanBulk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *inventoryRepoPG) DebitBulk(ctx context.Context, rowID uuid.UUID, qty decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bulk_inventory SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2`, rowID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bulk row %s: insufficient quantity for debit of %s", rowID, qty)
	}
	return nil
}

func (r *inventoryRepoPG) CreditActive(ctx context.Context, dispensaryID uuid.UUID, src *BulkInventory, qty decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO active_inventory (id, dispensary_id, medication_id, batch, quantity, expiry_date, unit_cost, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (dispensary_id, medication_id, batch) DO UPDATE
			SET quantity = active_inventory.quantity + EXCLUDED.quantity`,
		uuid.New(), dispensaryID, src.MedicationID, src.Batch, qty, src.ExpiryDate, src.UnitCost, src.ReceivedAt)
	return err
}

func (r *inventoryRepoPG) ActiveQuantity(ctx context.Context, dispensaryID, medicationID uuid.UUID) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM active_inventory
		WHERE dispensary_id = $1 AND medication_id = $2`, dispensaryID, medicationID).Scan(&qty)
	return qty, err
}

func (r *inventoryRepoPG) DebitActive(ctx context.Context, dispensaryID, medicationID uuid.UUID, qty decimal.Decimal, today time.Time) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, quantity FROM active_inventory
		WHERE dispensary_id = $1 AND medication_id = $2 AND quantity > 0 AND expiry_date >= $3
		ORDER BY expiry_date, received_at
		FOR UPDATE`, dispensaryID, medicationID, today)
	if err != nil {
		return err
	}
	type slice struct {
		id  uuid.UUID
		qty decimal.Decimal
	}
	var batches []slice
	for rows.Next() {
		var s slice
		if err := rows.Scan(&s.id, &s.qty); err != nil {
			rows.Close()
			return err
		}
		batches = append(batches, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	remaining := qty
	for _, b := range batches {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, b.qty)
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE active_inventory SET quantity = quantity - $2 WHERE id = $1`, b.id, take); err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return fmt.Errorf("active store short by %s for medication %s", remaining, medicationID)
	}
	return nil
}

func (r *inventoryRepoPG) ListActive(ctx context.Context, dispensaryID uuid.UUID, limit, offset int) ([]*ActiveInventory, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM active_inventory WHERE dispensary_id = $1 AND quantity > 0`, dispensaryID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, dispensary_id, medication_id, batch, quantity, expiry_date, unit_cost, received_at
		FROM active_inventory
		WHERE dispensary_id = $1 AND quantity > 0
		ORDER BY expiry_date LIMIT $2 OFFSET $3`, dispensaryID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ActiveInventory
	for rows.Next() {
		var a ActiveInventory
		if err := rows.Scan(&a.ID, &a.DispensaryID, &a.MedicationID, &a.Batch, &a.Quantity,
			&a.ExpiryDate, &a.UnitCost, &a.ReceivedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &a)
	}
	return items, total, rows.Err()
}

func (r *inventoryRepoPG) ListBulk(ctx context.Context, medicationID uuid.UUID, limit, offset int) ([]*BulkInventory, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bulk_inventory WHERE medication_id = $1 AND quantity > 0`, medicationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bulkCols+` FROM bulk_inventory
		 WHERE medication_id = $1 AND quantity > 0
		 ORDER BY expiry_date LIMIT $2 OFFSET $3`, medicationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BulkInventory
	for rows.Next() {
		b, err := scanBulk(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *inventoryRepoPG) RecordTransfer(ctx context.Context, t *MedicationTransfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_transfer (id, medication_id, dispensary_id, batch, quantity, unit_cost, pack_order_id, transferred_by, transferred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.MedicationID, t.DispensaryID, t.Batch, t.Quantity, t.UnitCost, t.PackOrderID, t.TransferredBy, t.TransferredAt)
	return err
}

type packRepoPG struct{ pgBase }

func NewPackRepoPG(pool *pgxpool.Pool) PackRepository {
	return &packRepoPG{pgBase{pool: pool}}
}

func (r *packRepoPG) Create(ctx context.Context, p *MedicalPack) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO medical_pack (id, name, module, active) VALUES ($1,$2,$3,$4)`,
		p.ID, p.Name, p.Module, p.Active)
	if err != nil {
		return err
	}
	for _, item := range p.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PackID = p.ID
		_, err := q.Exec(ctx, `
			INSERT INTO pack_item (id, pack_id, medication_id, quantity, critical, sort_order)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			item.ID, item.PackID, item.MedicationID, item.Quantity, item.Critical, item.SortOrder)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *packRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalPack, error) {
	var p MedicalPack
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, module, active, created_at, updated_at FROM medical_pack WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Module, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("medical pack %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, pack_id, medication_id, quantity, critical, sort_order
		FROM pack_item WHERE pack_id = $1 ORDER BY sort_order, medication_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PackItem
		if err := rows.Scan(&item.ID, &item.PackID, &item.MedicationID, &item.Quantity,
			&item.Critical, &item.SortOrder); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, &item)
	}
	return &p, rows.Err()
}

func (r *packRepoPG) List(ctx context.Context, limit, offset int) ([]*MedicalPack, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_pack WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, module, active, created_at, updated_at
		FROM medical_pack WHERE active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalPack
	for rows.Next() {
		var p MedicalPack
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &p)
	}
	return items, total, rows.Err()
}

type packOrderRepoPG struct{ pgBase }

func NewPackOrderRepoPG(pool *pgxpool.Pool) PackOrderRepository {
	return &packOrderRepoPG{pgBase{pool: pool}}
}

const orderCols = `id, pack_id, patient_id, record_id, dispensary_id, status, prescription_id,
	ordered_by, ordered_at, processed_by, updated_at`

func scanOrder(row pgx.Row) (*PackOrder, error) {
	var o PackOrder
	err := row.Scan(&o.ID, &o.PackID, &o.PatientID, &o.RecordID, &o.DispensaryID, &o.Status,
		&o.PrescriptionID, &o.OrderedBy, &o.OrderedAt, &o.ProcessedBy, &o.UpdatedAt)
	return &o, err
}

func (r *packOrderRepoPG) Create(ctx context.Context, o *PackOrder) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pack_order (id, pack_id, patient_id, record_id, dispensary_id, status, ordered_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.PackID, o.PatientID, o.RecordID, o.DispensaryID, o.Status, o.OrderedBy)
	return err
}

func (r *packOrderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PackOrder, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM pack_order WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pack order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, pack_order_id, medication_id, requested, transferred
		FROM pack_order_shortfall WHERE pack_order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Shortfall
		if err := rows.Scan(&s.ID, &s.PackOrderID, &s.MedicationID, &s.Requested, &s.Transferred); err != nil {
			return nil, err
		}
		o.Shortfalls = append(o.Shortfalls, &s)
	}
	return o, rows.Err()
}

func (r *packOrderRepoPG) Update(ctx context.Context, o *PackOrder) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pack_order
		SET status=$2, dispensary_id=$3, prescription_id=$4, processed_by=$5, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Status, o.DispensaryID, o.PrescriptionID, o.ProcessedBy)
	return err
}

func (r *packOrderRepoPG) AddShortfall(ctx context.Context, s *Shortfall) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pack_order_shortfall (id, pack_order_id, medication_id, requested, transferred)
		VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.PackOrderID, s.MedicationID, s.Requested, s.Transferred)
	return err
}

func (r *packOrderRepoPG) ListByStatus(ctx context.Context, status PackOrderStatus, limit, offset int) ([]*PackOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pack_order WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM pack_order WHERE status = $1 ORDER BY ordered_at LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectOrders(rows, total)
}

func (r *packOrderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PackOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pack_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM pack_order WHERE patient_id = $1 ORDER BY ordered_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectOrders(rows, total)
}

func collectOrders(rows pgx.Rows, total int) ([]*PackOrder, int, error) {
	var items []*PackOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

type prescriptionRepoPG struct{ pgBase }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pgBase{pool: pool}}
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO prescription (id, patient_id, record_id, created_by)
		VALUES ($1,$2,$3,$4)`,
		p.ID, p.PatientID, p.RecordID, p.CreatedBy)
	if err != nil {
		return err
	}
	for _, item := range p.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PrescriptionID = p.ID
		_, err := q.Exec(ctx, `
			INSERT INTO prescription_item (id, prescription_id, medication_id, quantity, unit_cost, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			item.ID, item.PrescriptionID, item.MedicationID, item.Quantity, item.UnitCost, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	var p Prescription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, record_id, created_by, created_at FROM prescription WHERE id = $1`, id).
		Scan(&p.ID, &p.PatientID, &p.RecordID, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prescription %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, medication_id, quantity, unit_cost, line_total
		FROM prescription_item WHERE prescription_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PrescriptionItem
		if err := rows.Scan(&item.ID, &item.PrescriptionID, &item.MedicationID, &item.Quantity,
			&item.UnitCost, &item.LineTotal); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, &item)
	}
	return &p, rows.Err()
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, record_id, created_by, created_at
		FROM prescription WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.RecordID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &p)
	}
	return items, total, rows.Err()
}
