package gate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/records"
)

// Authorizer is the slice of the authorization service the gate consults.
// *authorization.Service satisfies it.
type Authorizer interface {
	Validate(ctx context.Context, code string) (authorization.ValidationResult, error)
	RaiseRequest(ctx context.Context, patientID uuid.UUID, module authorization.ServiceType, requestedBy, justification string) (*authorization.AuthorizationRequest, error)
}

// ModuleConfigSource resolves per-module gating configuration.
// *records.Service satisfies it.
type ModuleConfigSource interface {
	ModuleConfigFor(ctx context.Context, module records.Module) (*records.ModuleConfig, error)
	Get(ctx context.Context, id uuid.UUID) (*records.ClinicalRecord, error)
}

// Service is the single decision point every clinical module consults
// before touching a patient. It never returns an error for a business
// refusal; those come back as blocked decisions. Errors are reserved for
// infrastructure faults, which callers treat the same as a pending block.
type Service struct {
	patients patient.Repository
	configs  ModuleConfigSource
	auth     Authorizer
	nhiaRate decimal.Decimal
}

func NewService(patients patient.Repository, configs ModuleConfigSource, auth Authorizer, nhiaRate decimal.Decimal) *Service {
	if nhiaRate.IsZero() {
		nhiaRate = decimal.RequireFromString("0.10")
	}
	return &Service{patients: patients, configs: configs, auth: auth, nhiaRate: nhiaRate}
}

// Input carries one proposed action for evaluation. RecordID refers to an
// existing registry row, when the action concerns one; RequireOverride
// forces gating for modules open by default, such as flagged consulting
// rooms.
type Input struct {
	PatientID       uuid.UUID      `json:"patient_id"`
	Module          records.Module `json:"module"`
	Action          Action         `json:"action"`
	LinkedCode      *string        `json:"linked_code,omitempty"`
	RecordID        *uuid.UUID     `json:"record_id,omitempty"`
	RequireOverride bool           `json:"require_override,omitempty"`
	Justification   string         `json:"justification,omitempty"`
}

// Evaluate applies the gating rules in order: classification first, then
// linked code, then the module's configuration. Patient classification is
// re-read on every call; it is never cached across an episode.
func (s *Service) Evaluate(ctx context.Context, in Input, evaluatedBy string) (Decision, error) {
	if !knownActions[in.Action] {
		return Decision{}, &authorization.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", in.Action)}
	}
	if in.Module == "" {
		return Decision{}, &authorization.ValidationError{Field: "module", Reason: "is required"}
	}

	p, err := s.patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return Decision{}, &authorization.StoreUnavailableError{Op: "patient lookup", Err: err}
	}
	if !p.Active {
		return blockedRejected("patient record is inactive"), nil
	}

	if in.RecordID != nil {
		cr, err := s.configs.Get(ctx, *in.RecordID)
		if err != nil {
			return Decision{}, &authorization.StoreUnavailableError{Op: "clinical record lookup", Err: err}
		}
		if cr.AuthorizationStatus == records.AuthRejected {
			return blockedRejected("authorization rejected for this episode"), nil
		}
	}

	switch {
	case p.IsRetainership():
		return permittedWithDiscount(p.ContractRate), nil
	case p.IsNHIA():
		return s.evaluateNHIA(ctx, p, in, evaluatedBy)
	default:
		return permitted(), nil
	}
}

func (s *Service) evaluateNHIA(ctx context.Context, p *patient.Patient, in Input, evaluatedBy string) (Decision, error) {
	cfg, err := s.configs.ModuleConfigFor(ctx, in.Module)
	if err != nil {
		return Decision{}, err
	}

	if in.LinkedCode != nil {
		res, err := s.auth.Validate(ctx, *in.LinkedCode)
		if err != nil {
			return Decision{}, &authorization.StoreUnavailableError{Op: "code validation", Err: err}
		}
		if res.Valid && res.Code.PatientID == p.ID && res.Code.ServiceType.Covers(cfg.DefaultServiceType) {
			return permittedWithDiscount(s.nhiaRate), nil
		}
		log.Debug().Str("patient_id", p.ID.String()).Str("module", string(in.Module)).
			Str("reason", string(res.Reason)).Msg("linked code not consumable, falling through")
	}

	gated := cfg.RequiresAuthorization || in.RequireOverride

	switch {
	case sideEffectActions[in.Action]:
		// Side effects never proceed without a valid code, even when the
		// record itself was allowed through at creation time.
		return s.block(ctx, p, cfg, in, evaluatedBy)
	case gated:
		return s.block(ctx, p, cfg, in, evaluatedBy)
	default:
		return permitted(), nil
	}
}

// block raises (or reuses) the pending request for this patient and module
// so the desk office sees exactly one worklist entry, then returns the
// pending decision carrying its id.
func (s *Service) block(ctx context.Context, p *patient.Patient, cfg *records.ModuleConfig, in Input, evaluatedBy string) (Decision, error) {
	justification := in.Justification
	if justification == "" {
		justification = fmt.Sprintf("%s blocked in %s", in.Action, in.Module)
	}
	req, err := s.auth.RaiseRequest(ctx, p.ID, cfg.DefaultServiceType, evaluatedBy, justification)
	if err != nil {
		// The block stands even when the request cannot be recorded.
		log.Warn().Err(err).Str("patient_id", p.ID.String()).
			Str("module", string(in.Module)).Msg("failed to raise authorization request")
		return blockedPending(nil), nil
	}
	return blockedPending(&req.ID), nil
}
