package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/patient"
)

// CodeValidator is the slice of the authorization service the registry
// needs when linking codes. *authorization.Service satisfies it.
type CodeValidator interface {
	Validate(ctx context.Context, code string) (authorization.ValidationResult, error)
}

// Service keeps the clinical record registry and the per-module gating
// configuration. Clinical modules register a record here when an NHIA
// patient touches them; the desk office works the resulting queues.
type Service struct {
	configs  ConfigRepository
	records  RecordRepository
	patients patient.Repository
	auth     CodeValidator
}

func NewService(configs ConfigRepository, records RecordRepository, patients patient.Repository, auth CodeValidator) *Service {
	return &Service{configs: configs, records: records, patients: patients, auth: auth}
}

// ModuleConfigFor resolves the gating configuration for a module, falling
// back to the built-in defaults when no row has been stored yet.
func (s *Service) ModuleConfigFor(ctx context.Context, module Module) (*ModuleConfig, error) {
	cfg, ok, err := s.configs.Get(ctx, module)
	if err != nil {
		return nil, &authorization.StoreUnavailableError{Op: "module config lookup", Err: err}
	}
	if ok {
		return cfg, nil
	}
	for _, d := range DefaultModuleConfigs() {
		if d.Module == module {
			d := d
			return &d, nil
		}
	}
	// Unknown modules are treated as unconfigured and open.
	return &ModuleConfig{Module: module, RequiresAuthorization: false, DefaultServiceType: module.ServiceType()}, nil
}

func (s *Service) SetModuleConfig(ctx context.Context, cfg *ModuleConfig) (*ModuleConfig, error) {
	if cfg.Module == "" {
		return nil, &authorization.ValidationError{Field: "module", Reason: "is required"}
	}
	if cfg.DefaultServiceType == "" {
		cfg.DefaultServiceType = cfg.Module.ServiceType()
	}
	if !authorization.KnownServiceTypes[cfg.DefaultServiceType] {
		return nil, &authorization.ValidationError{Field: "default_service_type", Reason: fmt.Sprintf("unknown service type %q", cfg.DefaultServiceType)}
	}
	if err := s.configs.Set(ctx, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("module", string(cfg.Module)).
		Bool("requires_authorization", cfg.RequiresAuthorization).
		Msg("module gating configuration updated")
	return cfg, nil
}

func (s *Service) ListModuleConfigs(ctx context.Context) ([]*ModuleConfig, error) {
	stored, err := s.configs.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[Module]bool, len(stored))
	for _, cfg := range stored {
		seen[cfg.Module] = true
	}
	for _, d := range DefaultModuleConfigs() {
		if !seen[d.Module] {
			d := d
			stored = append(stored, &d)
		}
	}
	return stored, nil
}

// RegisterRecordParams carries what a clinical module hands over when a
// patient item enters the registry. RequireOverride forces gating on for
// modules that are open by default, such as flagged consulting rooms.
type RegisterRecordParams struct {
	PatientID         uuid.UUID `json:"patient_id"`
	Module            Module    `json:"module"`
	Description       *string   `json:"description,omitempty"`
	AuthorizationCode *string   `json:"authorization_code,omitempty"`
	RequireOverride   bool      `json:"require_override,omitempty"`
}

// RegisterRecord creates a registry row with its initial authorization
// status derived from the patient classification and module configuration.
func (s *Service) RegisterRecord(ctx context.Context, params RegisterRecordParams, createdBy string) (*ClinicalRecord, error) {
	if params.Module == "" {
		return nil, &authorization.ValidationError{Field: "module", Reason: "is required"}
	}
	p, err := s.patients.GetByID(ctx, params.PatientID)
	if err != nil {
		return nil, err
	}

	cr := &ClinicalRecord{
		PatientID:           p.ID,
		Module:              params.Module,
		Description:         params.Description,
		AuthorizationStatus: AuthNotRequired,
		CreatedBy:           createdBy,
	}

	if p.IsNHIA() {
		cfg, err := s.ModuleConfigFor(ctx, params.Module)
		if err != nil {
			return nil, err
		}
		if cfg.RequiresAuthorization || params.RequireOverride {
			cr.AuthorizationStatus = AuthRequired
			if params.AuthorizationCode != nil {
				if err := s.checkCode(ctx, *params.AuthorizationCode, p.ID, cfg.DefaultServiceType); err != nil {
					return nil, err
				}
				normalized := authorization.NormalizeCode(*params.AuthorizationCode)
				cr.AuthorizationCode = &normalized
				cr.AuthorizationStatus = AuthAuthorized
			}
		}
	}

	if err := s.records.Create(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// LinkCode attaches a validated authorization code to a registry row and
// marks it authorized. The code must belong to the same patient and cover
// the record's module.
func (s *Service) LinkCode(ctx context.Context, recordID uuid.UUID, codeStr string) (*ClinicalRecord, error) {
	cr, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.ModuleConfigFor(ctx, cr.Module)
	if err != nil {
		return nil, err
	}
	if err := s.checkCode(ctx, codeStr, cr.PatientID, cfg.DefaultServiceType); err != nil {
		return nil, err
	}
	normalized := authorization.NormalizeCode(codeStr)
	cr.AuthorizationCode = &normalized
	cr.AuthorizationStatus = AuthAuthorized
	if err := s.records.Update(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *Service) checkCode(ctx context.Context, codeStr string, patientID uuid.UUID, serviceType authorization.ServiceType) error {
	res, err := s.auth.Validate(ctx, codeStr)
	if err != nil {
		return err
	}
	if !res.Valid {
		return &authorization.ValidationError{Field: "authorization_code", Reason: string(res.Reason)}
	}
	if res.Code.PatientID != patientID {
		return &authorization.ValidationError{Field: "authorization_code", Reason: "belongs to a different patient"}
	}
	if !res.Code.ServiceType.Covers(serviceType) {
		return &authorization.ValidationError{Field: "authorization_code", Reason: fmt.Sprintf("covers %s, not %s", res.Code.ServiceType, serviceType)}
	}
	return nil
}

// AttachRequest ties a raised authorization request to a registry row and
// moves the row to pending.
func (s *Service) AttachRequest(ctx context.Context, recordID, requestID uuid.UUID) (*ClinicalRecord, error) {
	cr, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	cr.RequestID = &requestID
	cr.AuthorizationStatus = AuthPending
	if err := s.records.Update(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// MarkRejected flags a registry row as rejected by the desk office. The
// owning module's gate reads this as a hard block.
func (s *Service) MarkRejected(ctx context.Context, recordID uuid.UUID, reason string) (*ClinicalRecord, error) {
	cr, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	cr.AuthorizationStatus = AuthRejected
	if reason != "" {
		if cr.Description != nil {
			combined := *cr.Description + "\nrejected: " + reason
			cr.Description = &combined
		} else {
			note := "rejected: " + reason
			cr.Description = &note
		}
	}
	if err := s.records.Update(ctx, cr); err != nil {
		return nil, err
	}
	log.Info().Str("record_id", recordID.String()).Str("reason", reason).Msg("clinical record authorization rejected")
	return cr, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

// ListByStatus backs the desk-office queues, most notably pending and
// required rows awaiting a code.
func (s *Service) ListByStatus(ctx context.Context, status AuthorizationStatus, limit, offset int) ([]*ClinicalRecord, int, error) {
	switch status {
	case AuthNotRequired, AuthRequired, AuthPending, AuthAuthorized, AuthRejected:
	default:
		return nil, 0, &authorization.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.records.ListByStatus(ctx, status, limit, offset)
}
