package patient

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PatientType classifies how a patient's care is paid for.
type PatientType string

const (
	TypeRegular      PatientType = "regular"
	TypeNHIA         PatientType = "nhia"
	TypeRetainership PatientType = "retainership"
)

// Patient maps to the patient table.
type Patient struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	HospitalNo    string          `db:"hospital_no" json:"hospital_no"`
	GivenName     string          `db:"given_name" json:"given_name"`
	FamilyName    string          `db:"family_name" json:"family_name"`
	BirthDate     *time.Time      `db:"birth_date" json:"birth_date,omitempty"`
	Gender        *string         `db:"gender" json:"gender,omitempty"`
	Phone         *string         `db:"phone" json:"phone,omitempty"`
	Email         *string         `db:"email" json:"email,omitempty"`
	Address       *string         `db:"address" json:"address,omitempty"`
	Type          PatientType     `db:"patient_type" json:"patient_type"`
	NHIANumber    *string         `db:"nhia_number" json:"nhia_number,omitempty"`
	RetainerOrg   *string         `db:"retainer_org" json:"retainer_org,omitempty"`
	ContractRate  decimal.Decimal `db:"contract_rate" json:"contract_rate"`
	Active        bool            `db:"active" json:"active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsNHIA reports whether the patient is insured under the national scheme.
func (p *Patient) IsNHIA() bool { return p.Type == TypeNHIA }

// IsRetainership reports whether the patient is covered by a corporate
// retainership contract.
func (p *Patient) IsRetainership() bool { return p.Type == TypeRetainership }

// FullName returns the display name used on invoices and notifications.
func (p *Patient) FullName() string {
	if p.GivenName == "" {
		return p.FamilyName
	}
	if p.FamilyName == "" {
		return p.GivenName
	}
	return p.GivenName + " " + p.FamilyName
}
