package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	GetByCode(ctx context.Context, code string) (*Medication, error)
	Update(ctx context.Context, m *Medication) error
	List(ctx context.Context, limit, offset int) ([]*Medication, int, error)
	Search(ctx context.Context, query string, limit, offset int) ([]*Medication, int, error)
}

type DispensaryRepository interface {
	Create(ctx context.Context, d *Dispensary) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispensary, error)
	Update(ctx context.Context, d *Dispensary) error
	List(ctx context.Context, limit, offset int) ([]*Dispensary, int, error)
}

type InventoryRepository interface {
	CreateBulk(ctx context.Context, row *BulkInventory) error
	// BulkRowsFIFO returns unexpired bulk rows with stock for a medication,
	// earliest expiry first, then earliest received.
	BulkRowsFIFO(ctx context.Context, medicationID uuid.UUID, today time.Time) ([]*BulkInventory, error)
	// DebitBulk subtracts qty from a bulk row. Quantities never go
	// negative; callers must not over-debit.
	DebitBulk(ctx context.Context, rowID uuid.UUID, qty decimal.Decimal) error
	// CreditActive adds qty to the active-store row matching the batch,
	// creating it with the batch metadata when absent.
	CreditActive(ctx context.Context, dispensaryID uuid.UUID, src *BulkInventory, qty decimal.Decimal) error
	// ActiveQuantity sums a medication's stock across a dispensary's
	// active-store batches.
	ActiveQuantity(ctx context.Context, dispensaryID, medicationID uuid.UUID) (decimal.Decimal, error)
	DebitActive(ctx context.Context, dispensaryID, medicationID uuid.UUID, qty decimal.Decimal, today time.Time) error
	ListActive(ctx context.Context, dispensaryID uuid.UUID, limit, offset int) ([]*ActiveInventory, int, error)
	ListBulk(ctx context.Context, medicationID uuid.UUID, limit, offset int) ([]*BulkInventory, int, error)
	RecordTransfer(ctx context.Context, t *MedicationTransfer) error
}

type PackRepository interface {
	// Create inserts the pack together with its items.
	Create(ctx context.Context, p *MedicalPack) error
	// GetByID loads a pack with its items ordered by sort order.
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalPack, error)
	List(ctx context.Context, limit, offset int) ([]*MedicalPack, int, error)
}

type PackOrderRepository interface {
	Create(ctx context.Context, o *PackOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*PackOrder, error)
	Update(ctx context.Context, o *PackOrder) error
	AddShortfall(ctx context.Context, s *Shortfall) error
	ListByStatus(ctx context.Context, status PackOrderStatus, limit, offset int) ([]*PackOrder, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PackOrder, int, error)
}

type PrescriptionRepository interface {
	// Create inserts the prescription together with its items.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
}
