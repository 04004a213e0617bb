package gate

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
	"github.com/hms/hms/internal/domain/records"
)

type mockPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
	fail     bool
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if m.fail {
		return nil, errors.New("connection refused")
	}
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

type mockConfigSource struct {
	configs map[records.Module]*records.ModuleConfig
	records map[uuid.UUID]*records.ClinicalRecord
}

func newMockConfigSource() *mockConfigSource {
	m := &mockConfigSource{
		configs: make(map[records.Module]*records.ModuleConfig),
		records: make(map[uuid.UUID]*records.ClinicalRecord),
	}
	for _, d := range records.DefaultModuleConfigs() {
		d := d
		m.configs[d.Module] = &d
	}
	return m
}

func (m *mockConfigSource) ModuleConfigFor(_ context.Context, module records.Module) (*records.ModuleConfig, error) {
	if cfg, ok := m.configs[module]; ok {
		return cfg, nil
	}
	return &records.ModuleConfig{Module: module, DefaultServiceType: module.ServiceType()}, nil
}

func (m *mockConfigSource) Get(_ context.Context, id uuid.UUID) (*records.ClinicalRecord, error) {
	cr, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("clinical record %s not found", id)
	}
	return cr, nil
}

// mockAuthorizer mirrors the broker's dedup guarantee: one pending request
// per (patient, module).
type mockAuthorizer struct {
	results map[string]authorization.ValidationResult
	pending map[string]*authorization.AuthorizationRequest
	raises  int
	fail    bool
}

func newMockAuthorizer() *mockAuthorizer {
	return &mockAuthorizer{
		results: make(map[string]authorization.ValidationResult),
		pending: make(map[string]*authorization.AuthorizationRequest),
	}
}

func (m *mockAuthorizer) Validate(_ context.Context, code string) (authorization.ValidationResult, error) {
	res, ok := m.results[authorization.NormalizeCode(code)]
	if !ok {
		return authorization.ValidationResult{Valid: false, Reason: authorization.ReasonNotFound}, nil
	}
	return res, nil
}

func (m *mockAuthorizer) RaiseRequest(_ context.Context, patientID uuid.UUID, module authorization.ServiceType, requestedBy, justification string) (*authorization.AuthorizationRequest, error) {
	if m.fail {
		return nil, errors.New("connection refused")
	}
	key := patientID.String() + "/" + string(module)
	if req, ok := m.pending[key]; ok {
		return req, nil
	}
	m.raises++
	req := &authorization.AuthorizationRequest{
		ID:          uuid.New(),
		PatientID:   patientID,
		Module:      module,
		RequestedBy: requestedBy,
		Status:      authorization.RequestPending,
	}
	if justification != "" {
		req.Justification = &justification
	}
	m.pending[key] = req
	return req, nil
}

type fixture struct {
	svc          *Service
	patients     *mockPatientRepo
	configs      *mockConfigSource
	auth         *mockAuthorizer
	nhia         *patient.Patient
	regular      *patient.Patient
	retainership *patient.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	nhiaNo := "NHIA-10001"
	org := "Acme Oil Services"
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
	retainership := &patient.Patient{
		ID: uuid.New(), HospitalNo: "HOSP-0003",
		GivenName: "Ngozi", FamilyName: "Eze",
		Type: patient.TypeRetainership, RetainerOrg: &org,
		ContractRate: decimal.RequireFromString("0.75"), Active: true,
	}
	patients := &mockPatientRepo{patients: map[uuid.UUID]*patient.Patient{
		nhia.ID: nhia, regular.ID: regular, retainership.ID: retainership,
	}}
	configs := newMockConfigSource()
	authz := newMockAuthorizer()
	return &fixture{
		svc:          NewService(patients, configs, authz, decimal.Decimal{}),
		patients:     patients,
		configs:      configs,
		auth:         authz,
		nhia:         nhia,
		regular:      regular,
		retainership: retainership,
	}
}

func (f *fixture) activeCode(code string, patientID uuid.UUID, serviceType authorization.ServiceType) {
	normalized := authorization.NormalizeCode(code)
	f.auth.results[normalized] = authorization.ValidationResult{
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

func TestEvaluate_RegularPermitted(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.regular.ID,
		Module:    records.Module(authorization.ServiceLaboratory),
		Action:    ActionCreateRecord,
	}, "lab-tech")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != Permitted {
		t.Fatalf("kind = %s, want %s", d.Kind, Permitted)
	}
	if !d.Allowed() {
		t.Fatal("expected an allowing decision")
	}
}

func TestEvaluate_RetainershipContractRate(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.retainership.ID,
		Module:    records.Module(authorization.ServiceRadiology),
		Action:    ActionGenerateInvoice,
	}, "billing-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != PermittedWithDiscount {
		t.Fatalf("kind = %s, want %s", d.Kind, PermittedWithDiscount)
	}
	if d.DiscountRate == nil || !d.DiscountRate.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("discount rate = %v, want contract rate 0.75", d.DiscountRate)
	}
}

func TestEvaluate_InactivePatientBlocked(t *testing.T) {
	f := newFixture(t)
	f.regular.Active = false

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.regular.ID,
		Module:    records.Module(authorization.ServiceLaboratory),
		Action:    ActionCreateRecord,
	}, "lab-tech")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedRejected {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedRejected)
	}
}

func TestEvaluate_NHIAWithValidCodeDiscounted(t *testing.T) {
	f := newFixture(t)
	f.activeCode("AUTH-20260301-ABCDEF", f.nhia.ID, authorization.ServiceLaboratory)
	code := "auth-20260301-abcdef"

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID:  f.nhia.ID,
		Module:     records.Module(authorization.ServiceLaboratory),
		Action:     ActionGenerateInvoice,
		LinkedCode: &code,
	}, "billing-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != PermittedWithDiscount {
		t.Fatalf("kind = %s, want %s", d.Kind, PermittedWithDiscount)
	}
	if d.DiscountRate == nil || !d.DiscountRate.Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("discount rate = %v, want 0.10", d.DiscountRate)
	}
}

func TestEvaluate_NHIACodeForOtherPatientIgnored(t *testing.T) {
	f := newFixture(t)
	f.activeCode("AUTH-20260301-ABCDEF", f.regular.ID, authorization.ServiceLaboratory)
	code := "AUTH-20260301-ABCDEF"

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID:  f.nhia.ID,
		Module:     records.Module(authorization.ServiceLaboratory),
		Action:     ActionCreateRecord,
		LinkedCode: &code,
	}, "lab-tech")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedPending {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedPending)
	}
}

func TestEvaluate_NHIAGatedModuleRaisesRequest(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.Module(authorization.ServiceTheatre),
		Action:    ActionCreateRecord,
	}, "surgeon")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedPending {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedPending)
	}
	if d.RequestID == nil {
		t.Fatal("expected a raised request id")
	}
	if d.Reason != "NHIA Authorization Required" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEvaluate_RepeatBlockReusesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := Input{
		PatientID: f.nhia.ID,
		Module:    records.Module(authorization.ServiceTheatre),
		Action:    ActionCreateRecord,
	}

	first, err := f.svc.Evaluate(ctx, in, "surgeon")
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	second, err := f.svc.Evaluate(ctx, in, "surgeon")
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if *first.RequestID != *second.RequestID {
		t.Fatal("expected the pending request to be reused")
	}
	if f.auth.raises != 1 {
		t.Fatalf("raises = %d, want 1", f.auth.raises)
	}
}

func TestEvaluate_NHIAOpenModulePermitted(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.ModuleConsultation,
		Action:    ActionCreateRecord,
	}, "physician-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != Permitted {
		t.Fatalf("kind = %s, want %s", d.Kind, Permitted)
	}
}

func TestEvaluate_FlaggedConsultingRoomGates(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID:       f.nhia.ID,
		Module:          records.ModuleConsultation,
		Action:          ActionCreateRecord,
		RequireOverride: true,
	}, "physician-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedPending {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedPending)
	}
}

func TestEvaluate_SideEffectAlwaysBlockedWithoutCode(t *testing.T) {
	f := newFixture(t)

	// Dispensing is blocked even in a module that is open for record
	// creation.
	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.ModuleConsultation,
		Action:    ActionDispense,
	}, "pharmacist-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedPending {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedPending)
	}
}

func TestEvaluate_RejectedRecordTerminal(t *testing.T) {
	f := newFixture(t)
	recordID := uuid.New()
	f.configs.records[recordID] = &records.ClinicalRecord{
		ID:                  recordID,
		PatientID:           f.nhia.ID,
		Module:              records.Module(authorization.ServiceOncology),
		AuthorizationStatus: records.AuthRejected,
	}

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.Module(authorization.ServiceOncology),
		Action:    ActionGenerateInvoice,
		RecordID:  &recordID,
	}, "billing-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedRejected {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedRejected)
	}
}

func TestEvaluate_StoreFaultSurfaces(t *testing.T) {
	f := newFixture(t)
	f.patients.fail = true

	_, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.Module(authorization.ServiceLaboratory),
		Action:    ActionCreateRecord,
	}, "lab-tech")
	var unavailable *authorization.StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected store unavailable error, got %v", err)
	}
}

func TestEvaluate_RequestFaultStillBlocks(t *testing.T) {
	f := newFixture(t)
	f.auth.fail = true

	d, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.nhia.ID,
		Module:    records.Module(authorization.ServiceTheatre),
		Action:    ActionCreateRecord,
	}, "surgeon")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != BlockedPending {
		t.Fatalf("kind = %s, want %s", d.Kind, BlockedPending)
	}
	if d.RequestID != nil {
		t.Fatal("expected no request id when the raise failed")
	}
}

func TestEvaluate_UnknownActionRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Evaluate(context.Background(), Input{
		PatientID: f.regular.ID,
		Module:    records.Module(authorization.ServiceLaboratory),
		Action:    Action("discharge"),
	}, "lab-tech")
	var validation *authorization.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
