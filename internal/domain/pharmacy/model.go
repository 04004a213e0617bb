package pharmacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/records"
)

// Medication maps to the medication table.
type Medication struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Form      *string   `db:"form" json:"form,omitempty"`
	Unit      string    `db:"unit" json:"unit"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Dispensary is a pharmacy outlet. Pack orders can only be processed
// against a dispensary with a configured active store.
type Dispensary struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Location       *string   `db:"location" json:"location,omitempty"`
	HasActiveStore bool      `db:"has_active_store" json:"has_active_store"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// BulkInventory is one batch row in the hospital's central bulk store.
type BulkInventory struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	MedicationID uuid.UUID       `db:"medication_id" json:"medication_id"`
	Batch        string          `db:"batch" json:"batch"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	ExpiryDate   time.Time       `db:"expiry_date" json:"expiry_date"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ReceivedAt   time.Time       `db:"received_at" json:"received_at"`
}

// ActiveInventory is one batch row in a dispensary's active store.
type ActiveInventory struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	DispensaryID uuid.UUID       `db:"dispensary_id" json:"dispensary_id"`
	MedicationID uuid.UUID       `db:"medication_id" json:"medication_id"`
	Batch        string          `db:"batch" json:"batch"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	ExpiryDate   time.Time       `db:"expiry_date" json:"expiry_date"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ReceivedAt   time.Time       `db:"received_at" json:"received_at"`
}

// MedicationTransfer is the audit row written for every bulk-to-active
// movement.
type MedicationTransfer struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	MedicationID  uuid.UUID       `db:"medication_id" json:"medication_id"`
	DispensaryID  uuid.UUID       `db:"dispensary_id" json:"dispensary_id"`
	Batch         string          `db:"batch" json:"batch"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost      decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	PackOrderID   *uuid.UUID      `db:"pack_order_id" json:"pack_order_id,omitempty"`
	TransferredBy string          `db:"transferred_by" json:"transferred_by"`
	TransferredAt time.Time       `db:"transferred_at" json:"transferred_at"`
}

// MedicalPack is a predefined set of medications for a surgical or labor
// procedure.
type MedicalPack struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Module    records.Module `db:"module" json:"module"`
	Active    bool           `db:"active" json:"active"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`

	Items []*PackItem `db:"-" json:"items,omitempty"`
}

// PackItem is one line of a pack. Critical items abort processing when
// stock cannot cover them; non-critical items record a shortfall instead.
type PackItem struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	PackID       uuid.UUID       `db:"pack_id" json:"pack_id"`
	MedicationID uuid.UUID       `db:"medication_id" json:"medication_id"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	Critical     bool            `db:"critical" json:"critical"`
	SortOrder    int             `db:"sort_order" json:"sort_order"`
}

type PackOrderStatus string

const (
	OrderOrdered    PackOrderStatus = "ordered"
	OrderProcessing PackOrderStatus = "processing"
	OrderReady      PackOrderStatus = "ready"
	OrderDispensed  PackOrderStatus = "dispensed"
	OrderCancelled  PackOrderStatus = "cancelled"
)

var orderTransitions = map[PackOrderStatus][]PackOrderStatus{
	OrderOrdered:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderReady, OrderCancelled},
	OrderReady:      {OrderDispensed, OrderCancelled},
}

func CanTransition(from, to PackOrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PackOrder requests materialisation of a pack for a patient, linked to
// the originating surgical or labor clinical record.
type PackOrder struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PackID         uuid.UUID       `db:"pack_id" json:"pack_id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	RecordID       uuid.UUID       `db:"record_id" json:"record_id"`
	DispensaryID   *uuid.UUID      `db:"dispensary_id" json:"dispensary_id,omitempty"`
	Status         PackOrderStatus `db:"status" json:"status"`
	PrescriptionID *uuid.UUID      `db:"prescription_id" json:"prescription_id,omitempty"`
	OrderedBy      string          `db:"ordered_by" json:"ordered_by"`
	OrderedAt      time.Time       `db:"ordered_at" json:"ordered_at"`
	ProcessedBy    *string         `db:"processed_by" json:"processed_by,omitempty"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Shortfalls []*Shortfall `db:"-" json:"shortfalls,omitempty"`
}

// Shortfall records a non-critical pack item the bulk store could not
// fully cover. Surfaced as a warning, never a failure.
type Shortfall struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	PackOrderID  uuid.UUID       `db:"pack_order_id" json:"pack_order_id"`
	MedicationID uuid.UUID       `db:"medication_id" json:"medication_id"`
	Requested    decimal.Decimal `db:"requested" json:"requested"`
	Transferred  decimal.Decimal `db:"transferred" json:"transferred"`
}

// Prescription is the dispensable output of pack processing, priced per
// line for the patient's classification.
type Prescription struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	RecordID  *uuid.UUID `db:"record_id" json:"record_id,omitempty"`
	CreatedBy string     `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`

	Items []*PrescriptionItem `db:"-" json:"items,omitempty"`
}

type PrescriptionItem struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PrescriptionID uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	MedicationID   uuid.UUID       `db:"medication_id" json:"medication_id"`
	Quantity       decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost       decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineTotal      decimal.Decimal `db:"line_total" json:"line_total"`
}
