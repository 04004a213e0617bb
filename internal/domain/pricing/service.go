package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/patient"
)

// CodeValidator is the slice of the authorization service the resolver
// needs. *authorization.Service satisfies it.
type CodeValidator interface {
	Validate(ctx context.Context, code string) (authorization.ValidationResult, error)
}

// Service resolves the payable price of a service for a patient. It never
// gates: callers must have consulted the service gate first, and an NHIA
// patient arriving here without a valid code is a caller bug surfaced as
// ErrAuthorizationMissing.
type Service struct {
	auth     CodeValidator
	nhiaRate decimal.Decimal
}

func NewService(auth CodeValidator, nhiaRate decimal.Decimal) *Service {
	if nhiaRate.IsZero() {
		nhiaRate = decimal.RequireFromString("0.10")
	}
	return &Service{auth: auth, nhiaRate: nhiaRate}
}

// PriceFor computes the payable amount for one unit of a service. All
// results carry two decimal places, rounded with banker's rounding.
func (s *Service) PriceFor(ctx context.Context, basePrice decimal.Decimal, p *patient.Patient, serviceType authorization.ServiceType, linkedCode *string) (decimal.Decimal, error) {
	if basePrice.IsNegative() {
		return decimal.Decimal{}, &authorization.ValidationError{Field: "base_price", Reason: "must not be negative"}
	}

	switch {
	case p.IsRetainership():
		return basePrice.Mul(p.ContractRate).RoundBank(2), nil
	case p.IsNHIA():
		if linkedCode == nil {
			return decimal.Decimal{}, authorization.ErrAuthorizationMissing
		}
		res, err := s.auth.Validate(ctx, *linkedCode)
		if err != nil {
			return decimal.Decimal{}, &authorization.StoreUnavailableError{Op: "code validation", Err: err}
		}
		if !res.Valid || res.Code.PatientID != p.ID || !res.Code.ServiceType.Covers(serviceType) {
			return decimal.Decimal{}, authorization.ErrAuthorizationMissing
		}
		return basePrice.Mul(s.nhiaRate).RoundBank(2), nil
	default:
		return basePrice.RoundBank(2), nil
	}
}
