package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
)

// ServiceItem maps to the service_item table. Price is the full tariff;
// payer-specific amounts are derived from it at billing time. Category is a
// free billing tag; the category_service_type table maps it onto the
// authorization service-type enum for gating and auto-issuance.
type ServiceItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Code        string          `db:"code" json:"code"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	Price       decimal.Decimal `db:"price" json:"price"`
	NHIACovered bool            `db:"nhia_covered" json:"nhia_covered"`
	Description *string         `db:"description" json:"description,omitempty"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// CategoryMapping maps a billing category onto the service-type enum. Paid
// invoice lines in unmapped categories are skipped by auto-issuance.
type CategoryMapping struct {
	Category    string                    `db:"category" json:"category"`
	ServiceType authorization.ServiceType `db:"service_type" json:"service_type"`
}

// DefaultCategoryMappings seed the category_service_type table. Categories
// whose names match a service type map onto it directly; billing-specific
// tags are spelled out.
func DefaultCategoryMappings() []CategoryMapping {
	mappings := []CategoryMapping{
		{Category: "surgery", ServiceType: authorization.ServiceTheatre},
		{Category: "admission", ServiceType: authorization.ServiceInpatient},
		{Category: "delivery", ServiceType: authorization.ServiceLabor},
	}
	for t := range authorization.KnownServiceTypes {
		if t == authorization.ServiceGeneral {
			continue
		}
		mappings = append(mappings, CategoryMapping{Category: string(t), ServiceType: t})
	}
	return mappings
}
