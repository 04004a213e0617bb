package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusIssued    InvoiceStatus = "issued"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

var validTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:  {StatusIssued, StatusCancelled},
	StatusIssued: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether an invoice may move between two statuses.
// Paid and cancelled are terminal.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Invoice maps to the invoice table. Total is Subtotal after the gate's
// discount rate, when one applied at creation time.
type Invoice struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	InvoiceNo    string           `db:"invoice_no" json:"invoice_no"`
	PatientID    uuid.UUID        `db:"patient_id" json:"patient_id"`
	Status       InvoiceStatus    `db:"status" json:"status"`
	Subtotal     decimal.Decimal  `db:"subtotal" json:"subtotal"`
	DiscountRate *decimal.Decimal `db:"discount_rate" json:"discount_rate,omitempty"`
	Total        decimal.Decimal  `db:"total" json:"total"`
	CreatedBy    string           `db:"created_by" json:"created_by"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	IssuedAt     *time.Time       `db:"issued_at" json:"issued_at,omitempty"`
	PaidAt       *time.Time       `db:"paid_at" json:"paid_at,omitempty"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`

	Items []*InvoiceItem `db:"-" json:"items,omitempty"`
}

// InvoiceItem is one billed line. Category drives the auto-issuance path:
// on payment, each line whose category maps to a service type produces one
// pending authorization code for NHIA patients.
type InvoiceItem struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	InvoiceID     uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	ServiceItemID *uuid.UUID      `db:"service_item_id" json:"service_item_id,omitempty"`
	Description   string          `db:"description" json:"description"`
	Category      string          `db:"category" json:"category"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal     decimal.Decimal `db:"line_total" json:"line_total"`
}
