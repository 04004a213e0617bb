package records

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/patient"
)

var testToday = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type mockConfigRepo struct {
	configs map[Module]*ModuleConfig
	failGet bool
}

func newMockConfigRepo() *mockConfigRepo {
	m := &mockConfigRepo{configs: make(map[Module]*ModuleConfig)}
	for _, d := range DefaultModuleConfigs() {
		d := d
		m.configs[d.Module] = &d
	}
	return m
}

func (m *mockConfigRepo) Get(_ context.Context, module Module) (*ModuleConfig, bool, error) {
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	cfg, ok := m.configs[module]
	return cfg, ok, nil
}

func (m *mockConfigRepo) Set(_ context.Context, cfg *ModuleConfig) error {
	m.configs[cfg.Module] = cfg
	return nil
}

func (m *mockConfigRepo) List(_ context.Context) ([]*ModuleConfig, error) {
	out := make([]*ModuleConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out, nil
}

type mockRecordRepo struct {
	records map[uuid.UUID]*ClinicalRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*ClinicalRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, cr *ClinicalRecord) error {
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}
	cp := *cr
	m.records[cr.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	cr, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("clinical record %s not found", id)
	}
	cp := *cr
	return &cp, nil
}

func (m *mockRecordRepo) Update(_ context.Context, cr *ClinicalRecord) error {
	if _, ok := m.records[cr.ID]; !ok {
		return fmt.Errorf("clinical record %s not found", cr.ID)
	}
	cp := *cr
	m.records[cr.ID] = &cp
	return nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*ClinicalRecord, int, error) {
	var out []*ClinicalRecord
	for _, cr := range m.records {
		if cr.PatientID == patientID {
			out = append(out, cr)
		}
	}
	return out, len(out), nil
}

func (m *mockRecordRepo) ListByStatus(_ context.Context, status AuthorizationStatus, _, _ int) ([]*ClinicalRecord, int, error) {
	var out []*ClinicalRecord
	for _, cr := range m.records {
		if cr.AuthorizationStatus == status {
			out = append(out, cr)
		}
	}
	return out, len(out), nil
}

type mockPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s not found", id)
	}
	return p, nil
}

func (m *mockPatientRepo) GetByHospitalNo(_ context.Context, hospitalNo string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.HospitalNo == hospitalNo {
			return p, nil
		}
	}
	return nil, fmt.Errorf("patient %s not found", hospitalNo)
}

func (m *mockPatientRepo) GetByNHIANumber(_ context.Context, nhiaNumber string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.NHIANumber != nil && *p.NHIANumber == nhiaNumber {
			return p, nil
		}
	}
	return nil, fmt.Errorf("patient %s not found", nhiaNumber)
}

func (m *mockPatientRepo) Update(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, _, _ int) ([]*patient.Patient, int, error) {
	var out []*patient.Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockPatientRepo) ListByType(_ context.Context, t patient.PatientType, _, _ int) ([]*patient.Patient, int, error) {
	var out []*patient.Patient
	for _, p := range m.patients {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

// mockValidator serves canned validation results keyed by normalised code.
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

type fixture struct {
	svc       *Service
	configs   *mockConfigRepo
	records   *mockRecordRepo
	validator *mockValidator
	nhia      *patient.Patient
	regular   *patient.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	configs := newMockConfigRepo()
	records := newMockRecordRepo()
	validator := &mockValidator{results: make(map[string]authorization.ValidationResult)}

	nhiaNo := "NHIA-10001"
	nhia := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0001",
		GivenName: "Amina", FamilyName: "Bello",
		Type: patient.TypeNHIA, NHIANumber: &nhiaNo, Active: true,
	}
	regular := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0002",
		GivenName: "Chidi", FamilyName: "Okafor",
		Type: patient.TypeRegular, Active: true,
	}
	patients := &mockPatientRepo{patients: map[uuid.UUID]*patient.Patient{
		nhia.ID: nhia, regular.ID: regular,
	}}

	return &fixture{
		svc:       NewService(configs, records, patients, validator),
		configs:   configs,
		records:   records,
		validator: validator,
		nhia:      nhia,
		regular:   regular,
	}
}

func (f *fixture) validCode(code string, patientID uuid.UUID, serviceType authorization.ServiceType) {
	normalized := authorization.NormalizeCode(code)
	f.validator.results[normalized] = authorization.ValidationResult{
		Valid:  true,
		Reason: authorization.ReasonOK,
		Code: &authorization.AuthorizationCode{
			Code:        normalized,
			PatientID:   patientID,
			ServiceType: serviceType,
			Amount:      decimal.RequireFromString("5000"),
			ExpiryDate:  testToday.AddDate(0, 0, 30),
			Status:      authorization.StatusActive,
		},
	}
}

func TestRegisterRecord_RegularPatientNotRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.regular.ID,
		Module:    ModuleFor(authorization.ServiceLaboratory),
	}, "lab-tech")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthNotRequired {
		t.Fatalf("status = %s, want %s", cr.AuthorizationStatus, AuthNotRequired)
	}
}

func TestRegisterRecord_NHIAGatedModuleRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceRadiology),
	}, "radiographer")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthRequired {
		t.Fatalf("status = %s, want %s", cr.AuthorizationStatus, AuthRequired)
	}
}

func TestRegisterRecord_NHIAOpenModuleNotRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleConsultation,
	}, "physician-1")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthNotRequired {
		t.Fatalf("status = %s, want %s", cr.AuthorizationStatus, AuthNotRequired)
	}
}

func TestRegisterRecord_ConsultationOverrideGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID:       f.nhia.ID,
		Module:          ModuleConsultation,
		RequireOverride: true,
	}, "physician-1")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthRequired {
		t.Fatalf("status = %s, want %s", cr.AuthorizationStatus, AuthRequired)
	}
}

func TestRegisterRecord_WithValidCodeAuthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.validCode("AUTH-20260301-ABCDEF", f.nhia.ID, authorization.ServiceLaboratory)

	code := "auth-20260301-abcdef"
	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID:         f.nhia.ID,
		Module:            ModuleFor(authorization.ServiceLaboratory),
		AuthorizationCode: &code,
	}, "lab-tech")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthAuthorized {
		t.Fatalf("status = %s, want %s", cr.AuthorizationStatus, AuthAuthorized)
	}
	if cr.AuthorizationCode == nil || *cr.AuthorizationCode != "AUTH-20260301-ABCDEF" {
		t.Fatalf("code not normalised onto record: %v", cr.AuthorizationCode)
	}
}

func TestRegisterRecord_WithInvalidCodeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := "AUTH-20260301-ABCDEF"
	_, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID:         f.nhia.ID,
		Module:            ModuleFor(authorization.ServiceLaboratory),
		AuthorizationCode: &code,
	}, "lab-tech")
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLinkCode_AuthorizesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.validCode("AUTH-20260301-ABCDEF", f.nhia.ID, authorization.ServiceRadiology)

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceRadiology),
	}, "radiographer")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}

	linked, err := f.svc.LinkCode(ctx, cr.ID, "auth-20260301-abcdef")
	if err != nil {
		t.Fatalf("LinkCode: %v", err)
	}
	if linked.AuthorizationStatus != AuthAuthorized {
		t.Fatalf("status = %s, want %s", linked.AuthorizationStatus, AuthAuthorized)
	}
}

func TestLinkCode_GeneralCodeCoversAnyModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.validCode("AUTH-20260301-GGGGGG", f.nhia.ID, authorization.ServiceGeneral)

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceTheatre),
	}, "surgeon")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if _, err := f.svc.LinkCode(ctx, cr.ID, "AUTH-20260301-GGGGGG"); err != nil {
		t.Fatalf("LinkCode with general code: %v", err)
	}
}

func TestLinkCode_WrongServiceTypeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.validCode("AUTH-20260301-DENTAL", f.nhia.ID, authorization.ServiceDental)

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceTheatre),
	}, "surgeon")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	_, err = f.svc.LinkCode(ctx, cr.ID, "AUTH-20260301-DENTAL")
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLinkCode_WrongPatientRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.validCode("AUTH-20260301-ABCDEF", f.regular.ID, authorization.ServiceRadiology)

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceRadiology),
	}, "radiographer")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	_, err = f.svc.LinkCode(ctx, cr.ID, "AUTH-20260301-ABCDEF")
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAttachRequest_MovesToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceICU),
	}, "nurse-1")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	requestID := uuid.New()
	pending, err := f.svc.AttachRequest(ctx, cr.ID, requestID)
	if err != nil {
		t.Fatalf("AttachRequest: %v", err)
	}
	if pending.AuthorizationStatus != AuthPending {
		t.Fatalf("status = %s, want %s", pending.AuthorizationStatus, AuthPending)
	}
	if pending.RequestID == nil || *pending.RequestID != requestID {
		t.Fatalf("request id not recorded: %v", pending.RequestID)
	}
}

func TestMarkRejected_AppendsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceOncology),
	}, "physician-2")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	rejected, err := f.svc.MarkRejected(ctx, cr.ID, "not covered by plan")
	if err != nil {
		t.Fatalf("MarkRejected: %v", err)
	}
	if rejected.AuthorizationStatus != AuthRejected {
		t.Fatalf("status = %s, want %s", rejected.AuthorizationStatus, AuthRejected)
	}
	if rejected.Description == nil || *rejected.Description != "rejected: not covered by plan" {
		t.Fatalf("reason not recorded: %v", rejected.Description)
	}
}

func TestModuleConfigFor_StoreFaultSurfaces(t *testing.T) {
	f := newFixture(t)
	f.configs.failGet = true

	_, err := f.svc.ModuleConfigFor(context.Background(), ModuleFor(authorization.ServiceLaboratory))
	var unavailable *authorization.StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected store unavailable error, got %v", err)
	}
}

func TestSetModuleConfig_TogglesGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.SetModuleConfig(ctx, &ModuleConfig{
		Module:                ModuleFor(authorization.ServiceDental),
		RequiresAuthorization: false,
		DefaultServiceType:    authorization.ServiceDental,
	})
	if err != nil {
		t.Fatalf("SetModuleConfig: %v", err)
	}
	if cfg.RequiresAuthorization {
		t.Fatal("expected gating off after update")
	}

	cr, err := f.svc.RegisterRecord(ctx, RegisterRecordParams{
		PatientID: f.nhia.ID,
		Module:    ModuleFor(authorization.ServiceDental),
	}, "dentist")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	if cr.AuthorizationStatus != AuthNotRequired {
		t.Fatalf("status = %s, want %s after gating disabled", cr.AuthorizationStatus, AuthNotRequired)
	}
}

func TestSetModuleConfig_UnknownServiceTypeRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetModuleConfig(context.Background(), &ModuleConfig{
		Module:             Module("dental"),
		DefaultServiceType: authorization.ServiceType("cardio"),
	})
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListByStatus_UnknownStatusRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.ListByStatus(context.Background(), AuthorizationStatus("archived"), 20, 0)
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
