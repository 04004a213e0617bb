package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

var validTypes = map[PatientType]bool{
	TypeRegular: true, TypeNHIA: true, TypeRetainership: true,
}

// Register creates a new patient record. NHIA patients must carry their card
// number; retainership patients must name the contract organisation.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if p.HospitalNo == "" {
		return fmt.Errorf("hospital_no is required")
	}
	if p.GivenName == "" && p.FamilyName == "" {
		return fmt.Errorf("patient name is required")
	}
	if p.Type == "" {
		p.Type = TypeRegular
	}
	if !validTypes[p.Type] {
		return fmt.Errorf("invalid patient type: %s", p.Type)
	}
	if err := validateCoverage(p); err != nil {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func validateCoverage(p *Patient) error {
	switch p.Type {
	case TypeNHIA:
		if p.NHIANumber == nil || *p.NHIANumber == "" {
			return fmt.Errorf("nhia_number is required for NHIA patients")
		}
	case TypeRetainership:
		if p.RetainerOrg == nil || *p.RetainerOrg == "" {
			return fmt.Errorf("retainer_org is required for retainership patients")
		}
		if p.ContractRate.IsNegative() {
			return fmt.Errorf("contract_rate cannot be negative")
		}
	default:
		p.NHIANumber = nil
		p.RetainerOrg = nil
		p.ContractRate = decimal.Zero
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetByHospitalNo(ctx context.Context, hospitalNo string) (*Patient, error) {
	return s.patients.GetByHospitalNo(ctx, hospitalNo)
}

func (s *Service) GetByNHIANumber(ctx context.Context, nhiaNumber string) (*Patient, error) {
	return s.patients.GetByNHIANumber(ctx, nhiaNumber)
}

// Update modifies an existing patient. Coverage fields are re-validated so a
// patient cannot be switched to NHIA without a card number.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	if !validTypes[p.Type] {
		return fmt.Errorf("invalid patient type: %s", p.Type)
	}
	if err := validateCoverage(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	return s.patients.Update(ctx, p)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) ListByType(ctx context.Context, t PatientType, limit, offset int) ([]*Patient, int, error) {
	if !validTypes[t] {
		return nil, 0, fmt.Errorf("invalid patient type: %s", t)
	}
	return s.patients.ListByType(ctx, t, limit, offset)
}
