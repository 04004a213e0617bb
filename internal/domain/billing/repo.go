package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the invoice together with its items.
	Create(ctx context.Context, inv *Invoice) error
	// GetByID loads an invoice with its items.
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, invoiceNo string) (*Invoice, error)
	// UpdateStatus stamps the status and its matching timestamp column.
	UpdateStatus(ctx context.Context, inv *Invoice) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error)
}
