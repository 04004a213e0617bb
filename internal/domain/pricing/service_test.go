package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/patient"
)

type mockValidator struct {
	results map[string]authorization.ValidationResult
}

func (m *mockValidator) Validate(_ context.Context, code string) (authorization.ValidationResult, error) {
	res, ok := m.results[authorization.NormalizeCode(code)]
	if !ok {
		return authorization.ValidationResult{Valid: false, Reason: authorization.ReasonNotFound}, nil
	}
	return res, nil
}

func newPatients() (*patient.Patient, *patient.Patient, *patient.Patient) {
	nhiaNo := "NHIA-10001"
	org := "Acme Oil Services"
	nhia := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0001", GivenName: "Amina", FamilyName: "Bello",
		Type: patient.TypeNHIA, NHIANumber: &nhiaNo, Active: true,
	}
	regular := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0002", GivenName: "Chidi", FamilyName: "Okafor",
		Type: patient.TypeRegular, Active: true,
	}
	retainership := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0003", GivenName: "Ngozi", FamilyName: "Eze",
		Type: patient.TypeRetainership, RetainerOrg: &org,
		ContractRate: decimal.RequireFromString("0.75"), Active: true,
	}
	return nhia, regular, retainership
}

func newService(v *mockValidator) *Service {
	return NewService(v, decimal.Decimal{})
}

func activeCode(v *mockValidator, code string, patientID uuid.UUID, serviceType authorization.ServiceType) {
	normalized := authorization.NormalizeCode(code)
	v.results[normalized] = authorization.ValidationResult{
		Valid:  true,
		Reason: authorization.ReasonOK,
		Code: &authorization.AuthorizationCode{
			Code:        normalized,
			PatientID:   patientID,
			ServiceType: serviceType,
			ExpiryDate:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			Status:      authorization.StatusActive,
		},
	}
}

func TestPriceFor_RegularFullPrice(t *testing.T) {
	_, regular, _ := newPatients()
	svc := newService(&mockValidator{results: map[string]authorization.ValidationResult{}})

	got, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), regular, authorization.ServiceLaboratory, nil)
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("5000")) {
		t.Fatalf("price = %s, want 5000", got)
	}
}

func TestPriceFor_NHIATenPercent(t *testing.T) {
	nhia, _, _ := newPatients()
	v := &mockValidator{results: map[string]authorization.ValidationResult{}}
	activeCode(v, "AUTH-20260301-ABCDEF", nhia.ID, authorization.ServiceLaboratory)
	svc := newService(v)
	code := "AUTH-20260301-ABCDEF"

	got, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), nhia, authorization.ServiceLaboratory, &code)
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("price = %s, want 500.00", got)
	}
}

func TestPriceFor_NHIAWithoutCodeRefuses(t *testing.T) {
	nhia, _, _ := newPatients()
	svc := newService(&mockValidator{results: map[string]authorization.ValidationResult{}})

	_, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), nhia, authorization.ServiceLaboratory, nil)
	if !errors.Is(err, authorization.ErrAuthorizationMissing) {
		t.Fatalf("expected ErrAuthorizationMissing, got %v", err)
	}
}

func TestPriceFor_NHIAIncompatibleCodeRefuses(t *testing.T) {
	nhia, _, _ := newPatients()
	v := &mockValidator{results: map[string]authorization.ValidationResult{}}
	activeCode(v, "AUTH-20260301-DENTAL", nhia.ID, authorization.ServiceDental)
	svc := newService(v)
	code := "AUTH-20260301-DENTAL"

	_, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), nhia, authorization.ServiceTheatre, &code)
	if !errors.Is(err, authorization.ErrAuthorizationMissing) {
		t.Fatalf("expected ErrAuthorizationMissing, got %v", err)
	}
}

func TestPriceFor_NHIAGeneralCodeCompatible(t *testing.T) {
	nhia, _, _ := newPatients()
	v := &mockValidator{results: map[string]authorization.ValidationResult{}}
	activeCode(v, "AUTH-20260301-GGGGGG", nhia.ID, authorization.ServiceGeneral)
	svc := newService(v)
	code := "AUTH-20260301-GGGGGG"

	got, err := svc.PriceFor(context.Background(), decimal.RequireFromString("1200"), nhia, authorization.ServiceTheatre, &code)
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("120.00")) {
		t.Fatalf("price = %s, want 120.00", got)
	}
}

func TestPriceFor_RetainershipContractRate(t *testing.T) {
	_, _, retainership := newPatients()
	svc := newService(&mockValidator{results: map[string]authorization.ValidationResult{}})

	got, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), retainership, authorization.ServiceRadiology, nil)
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("3750.00")) {
		t.Fatalf("price = %s, want 3750.00", got)
	}
}

func TestPriceFor_RetainershipZeroRateFullyCovered(t *testing.T) {
	_, _, retainership := newPatients()
	retainership.ContractRate = decimal.Decimal{}
	svc := newService(&mockValidator{results: map[string]authorization.ValidationResult{}})

	got, err := svc.PriceFor(context.Background(), decimal.RequireFromString("5000"), retainership, authorization.ServiceRadiology, nil)
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("price = %s, want 0", got)
	}
}

func TestPriceFor_BankersRounding(t *testing.T) {
	nhia, _, _ := newPatients()
	v := &mockValidator{results: map[string]authorization.ValidationResult{}}
	activeCode(v, "AUTH-20260301-ABCDEF", nhia.ID, authorization.ServiceGeneral)
	svc := newService(v)
	code := "AUTH-20260301-ABCDEF"

	cases := []struct {
		base string
		want string
	}{
		// 10% of the base lands on a half-cent; ties round to even.
		{"101.25", "10.12"},
		{"101.35", "10.14"},
		{"101.30", "10.13"},
	}
	for _, tc := range cases {
		got, err := svc.PriceFor(context.Background(), decimal.RequireFromString(tc.base), nhia, authorization.ServiceLaboratory, &code)
		if err != nil {
			t.Fatalf("PriceFor(%s): %v", tc.base, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("PriceFor(%s) = %s, want %s", tc.base, got, tc.want)
		}
	}
}

func TestPriceFor_NegativeBaseRejected(t *testing.T) {
	_, regular, _ := newPatients()
	svc := newService(&mockValidator{results: map[string]authorization.ValidationResult{}})

	_, err := svc.PriceFor(context.Background(), decimal.RequireFromString("-1"), regular, authorization.ServiceLaboratory, nil)
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
