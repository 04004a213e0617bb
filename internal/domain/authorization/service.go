package authorization

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/platform/clock"
	"github.com/hms/hms/internal/platform/notification"
)

// deskOfficeQueue is the notification recipient for the NHIA desk office
// worklist. Auto-issued codes notify the serving department's group instead.
const deskOfficeQueue = "desk-office"

type Service struct {
	codes        CodeRepository
	requests     RequestRepository
	patients     patient.Repository
	notifier     *notification.NotificationManager
	clock        clock.Clock
	validityDays int
}

func NewService(codes CodeRepository, requests RequestRepository, patients patient.Repository,
	notifier *notification.NotificationManager, clk clock.Clock, validityDays int) *Service {
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		codes:        codes,
		requests:     requests,
		patients:     patients,
		notifier:     notifier,
		clock:        clk,
		validityDays: validityDays,
	}
}

// CreateCodeParams carries the desk-office inputs for issuing a code. Code
// is the optional operator-entered string; when empty one is generated.
// A zero ExpiryDate defaults to the configured validity window.
type CreateCodeParams struct {
	PatientID          uuid.UUID       `json:"patient_id"`
	ServiceType        ServiceType     `json:"service_type"`
	ServiceDescription string          `json:"service_description"`
	Amount             decimal.Decimal `json:"amount"`
	ExpiryDate         time.Time       `json:"expiry_date"`
	Notes              string          `json:"notes"`
	Code               string          `json:"code"`
}

// CreateCode issues an authorization code from the desk office. Desk-office
// codes start active: the patient leaves the desk holding a usable code.
func (s *Service) CreateCode(ctx context.Context, params CreateCodeParams, generatedBy string) (*AuthorizationCode, error) {
	p, err := s.patients.GetByID(ctx, params.PatientID)
	if err != nil {
		return nil, err
	}
	if !p.IsNHIA() {
		return nil, &ValidationError{Field: "patient", Reason: "authorization codes can only be issued to NHIA patients"}
	}
	// The patient is handed the code at the desk; nothing is enqueued.
	return s.createCode(ctx, params, StatusActive, generatedBy)
}

func (s *Service) createCode(ctx context.Context, params CreateCodeParams, status Status, generatedBy string) (*AuthorizationCode, error) {
	if !KnownServiceTypes[params.ServiceType] {
		return nil, &ValidationError{Field: "service_type", Reason: "unknown service type: " + string(params.ServiceType)}
	}
	if params.Amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}
	expiry := params.ExpiryDate
	if expiry.IsZero() {
		expiry = s.clock.Today().AddDate(0, 0, s.validityDays)
	} else if expiry.Before(s.clock.Today()) {
		return nil, &ValidationError{Field: "expiry_date", Reason: "expiry date is in the past"}
	}

	code := &AuthorizationCode{
		PatientID:   params.PatientID,
		ServiceType: params.ServiceType,
		Amount:      params.Amount,
		ExpiryDate:  expiry,
		Status:      status,
		GeneratedBy: generatedBy,
	}
	if params.ServiceDescription != "" {
		code.ServiceDescription = &params.ServiceDescription
	}
	if params.Notes != "" {
		code.Notes = &params.Notes
	}

	if params.Code != "" {
		// Manual path: the operator typed a code issued out of band.
		code.Code = NormalizeCode(params.Code)
		if !IsValidManual(code.Code) {
			return nil, &ValidationError{Field: "code", Reason: "manual codes must be uppercase alphanumeric"}
		}
		if err := s.codes.Create(ctx, code); err != nil {
			return nil, err
		}
		return code, nil
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		generated, err := GenerateCode(now)
		if err != nil {
			return nil, err
		}
		code.Code = generated
		err = s.codes.Create(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// Lookup finds a code by its string, matching case-insensitively.
func (s *Service) Lookup(ctx context.Context, code string) (*AuthorizationCode, error) {
	return s.codes.Get(ctx, NormalizeCode(code))
}

// Validate answers whether a code can be consumed today and, if not, why.
func (s *Service) Validate(ctx context.Context, code string) (ValidationResult, error) {
	c, err := s.codes.Get(ctx, NormalizeCode(code))
	if errors.Is(err, ErrCodeNotFound) {
		return ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return ValidationResult{}, err
	}
	switch {
	case c.Status == StatusExpired, c.Status == StatusActive && c.IsExpired(s.clock.Today()):
		return ValidationResult{Valid: false, Reason: ReasonExpired, Code: c}, nil
	case c.Status != StatusActive:
		return ValidationResult{Valid: false, Reason: ReasonWrongStatus, Code: c}, nil
	default:
		return ValidationResult{Valid: true, Reason: ReasonOK, Code: c}, nil
	}
}

// MarkUsed consumes an active code. Marking an already-used code again is a
// no-op so that retried or racing consumers observe success.
func (s *Service) MarkUsed(ctx context.Context, codeStr string) (*AuthorizationCode, error) {
	normalized := NormalizeCode(codeStr)
	c, err := s.codes.Get(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusUsed {
		return c, nil
	}
	if c.Status != StatusActive || c.IsExpired(s.clock.Today()) {
		return nil, &InvalidTransitionError{Code: c.Code, From: c.Status, To: StatusUsed}
	}
	c, transitioned, err := s.codes.MarkUsed(ctx, normalized, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !transitioned && c.Status != StatusUsed {
		return nil, &InvalidTransitionError{Code: c.Code, From: c.Status, To: StatusUsed}
	}
	return c, nil
}

// Cancel voids a pending or active code, recording the operator's reason.
func (s *Service) Cancel(ctx context.Context, codeStr, reason string) (*AuthorizationCode, error) {
	c, err := s.codes.Get(ctx, NormalizeCode(codeStr))
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{Code: c.Code, From: c.Status, To: StatusCancelled}
	}
	if err := s.codes.UpdateStatus(ctx, c.Code, StatusCancelled, nil); err != nil {
		return nil, err
	}
	if reason != "" {
		if err := s.codes.AppendNotes(ctx, c.Code, "cancelled: "+reason); err != nil {
			return nil, err
		}
	}
	c.Status = StatusCancelled
	return c, nil
}

// CollectCode activates a pending auto-issued code when the serving unit
// picks it up. Pending codes are not directly consumable.
func (s *Service) CollectCode(ctx context.Context, codeStr string) (*AuthorizationCode, error) {
	c, err := s.codes.Get(ctx, NormalizeCode(codeStr))
	if err != nil {
		return nil, err
	}
	if c.IsExpired(s.clock.Today()) || !CanTransition(c.Status, StatusActive) {
		return nil, &InvalidTransitionError{Code: c.Code, From: c.Status, To: StatusActive}
	}
	if err := s.codes.UpdateStatus(ctx, c.Code, StatusActive, nil); err != nil {
		return nil, err
	}
	c.Status = StatusActive
	return c, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationCode, int, error) {
	return s.codes.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*AuthorizationCode, int, error) {
	switch status {
	case StatusPending, StatusActive, StatusUsed, StatusExpired, StatusCancelled:
	default:
		return nil, 0, &ValidationError{Field: "status", Reason: "unknown code status: " + string(status)}
	}
	return s.codes.ListByStatus(ctx, status, limit, offset)
}

// FindConsumable returns an active, unexpired code of the patient covering
// the given service area, or ErrAuthorizationMissing.
func (s *Service) FindConsumable(ctx context.Context, patientID uuid.UUID, serviceType ServiceType) (*AuthorizationCode, error) {
	c, err := s.codes.FindConsumable(ctx, patientID, serviceType, s.clock.Today())
	if errors.Is(err, ErrCodeNotFound) {
		return nil, ErrAuthorizationMissing
	}
	return c, err
}

// RaiseRequest files an authorization request with the desk office. At most
// one pending request exists per (patient, module); filing again returns the
// existing request unchanged.
func (s *Service) RaiseRequest(ctx context.Context, patientID uuid.UUID, module ServiceType, requestedBy, justification string) (*AuthorizationRequest, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !p.IsNHIA() {
		return nil, &ValidationError{Field: "patient", Reason: "authorization requests are only for NHIA patients"}
	}
	if !KnownServiceTypes[module] {
		return nil, &ValidationError{Field: "module", Reason: "unknown service type: " + string(module)}
	}
	if existing, err := s.requests.FindPending(ctx, patientID, module); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}
	req := &AuthorizationRequest{
		PatientID:   patientID,
		Module:      module,
		RequestedBy: requestedBy,
		Status:      RequestPending,
	}
	if justification != "" {
		req.Justification = &justification
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// A concurrent worker filed first; the unique index on pending
			// (patient, module) rejected ours. Return the winner and skip
			// the desk-office notification, which the winner already sent.
			return s.requests.FindPending(ctx, patientID, module)
		}
		return nil, err
	}
	nhia := ""
	if p.NHIANumber != nil {
		nhia = *p.NHIANumber
	}
	s.notify(ctx, "authorization-requested", deskOfficeQueue, map[string]string{
		"patient_name":   p.FullName(),
		"service_module": string(module),
		"nhia_number":    nhia,
	})
	return req, nil
}

// FulfillRequest links a desk-office issued code to a pending request. The
// code must belong to the same patient and cover the requested module.
func (s *Service) FulfillRequest(ctx context.Context, requestID uuid.UUID, codeStr string) (*AuthorizationRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return nil, &ValidationError{Field: "request", Reason: "request is already " + string(req.Status)}
	}
	c, err := s.codes.Get(ctx, NormalizeCode(codeStr))
	if err != nil {
		return nil, err
	}
	if c.PatientID != req.PatientID {
		return nil, &ValidationError{Field: "code", Reason: "code belongs to a different patient"}
	}
	if !c.ServiceType.Covers(req.Module) {
		return nil, &ValidationError{Field: "code", Reason: "code service type does not cover " + string(req.Module)}
	}
	req.Status = RequestFulfilled
	req.LinkedCode = &c.Code
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// WithdrawRequest retires a pending request, freeing the patient's dedup
// slot for the module. The requesting module calls this when its record is
// deleted or the episode ends.
func (s *Service) WithdrawRequest(ctx context.Context, requestID uuid.UUID) (*AuthorizationRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return nil, &ValidationError{Field: "request", Reason: "request is already " + string(req.Status)}
	}
	req.Status = RequestWithdrawn
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*AuthorizationRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListPendingRequests(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error) {
	return s.requests.ListPending(ctx, limit, offset)
}

func (s *Service) ListRequestsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationRequest, int, error) {
	return s.requests.ListByPatient(ctx, patientID, limit, offset)
}

// AutoIssue creates a pending code for a paid invoice line and notifies the
// serving department. Billing calls this inside the invoice-paid transaction,
// so the code lands or reverts together with the payment. This path is the
// sole producer of pending codes.
func (s *Service) AutoIssue(ctx context.Context, patientID uuid.UUID, serviceType ServiceType, amount decimal.Decimal, description, generatedBy string) (*AuthorizationCode, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	code, err := s.createCode(ctx, CreateCodeParams{
		PatientID:          patientID,
		ServiceType:        serviceType,
		ServiceDescription: description,
		Amount:             amount,
	}, StatusPending, generatedBy)
	if err != nil {
		return nil, err
	}
	log.Info().Str("code", code.Code).Str("service_type", string(serviceType)).
		Str("patient", p.HospitalNo).Msg("auto-issued authorization code")
	s.notify(ctx, "authorization-issued", string(serviceType), map[string]string{
		"patient_name":   p.FullName(),
		"service_module": string(serviceType),
		"code":           code.Code,
		"expiry_date":    code.ExpiryDate.Format("2006-01-02"),
	})
	return code, nil
}

// SweepExpired flips every overdue non-terminal code to expired, notifies
// the holders, and returns how many were swept.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.codes.ExpireOverdue(ctx, s.clock.Today())
	if err != nil {
		return 0, err
	}
	for _, c := range expired {
		p, err := s.patients.GetByID(ctx, c.PatientID)
		if err != nil {
			continue
		}
		s.notify(ctx, "authorization-expired", p.HospitalNo, map[string]string{
			"patient_name":   p.FullName(),
			"service_module": string(c.ServiceType),
			"code":           c.Code,
			"expiry_date":    c.ExpiryDate.Format("2006-01-02"),
		})
	}
	return len(expired), nil
}

func (s *Service) notify(ctx context.Context, templateID, recipient string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.SendFromTemplate(ctx, templateID, data, recipient); err != nil {
		log.Warn().Err(err).Str("template", templateID).Str("recipient", recipient).
			Msg("authorization notification failed")
	}
}
