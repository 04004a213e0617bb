package authorization

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServiceType scopes an authorization code to a hospital service area. A code
// issued for laboratory work cannot pay for a radiology scan; a general code
// covers every area. The values are stable wire values.
type ServiceType string

const (
	ServiceLaboratory     ServiceType = "laboratory"
	ServiceRadiology      ServiceType = "radiology"
	ServiceTheatre        ServiceType = "theatre"
	ServiceInpatient      ServiceType = "inpatient"
	ServiceDental         ServiceType = "dental"
	ServiceOphthalmic     ServiceType = "ophthalmic"
	ServiceENT            ServiceType = "ent"
	ServiceOncology       ServiceType = "oncology"
	ServiceGynaeEmergency ServiceType = "gynae_emergency"
	ServiceLabor          ServiceType = "labor"
	ServiceSCBU           ServiceType = "scbu"
	ServiceICU            ServiceType = "icu"
	ServiceGeneral        ServiceType = "general"
	ServiceOther          ServiceType = "other"
)

var KnownServiceTypes = map[ServiceType]bool{
	ServiceLaboratory: true, ServiceRadiology: true, ServiceTheatre: true,
	ServiceInpatient: true, ServiceDental: true, ServiceOphthalmic: true,
	ServiceENT: true, ServiceOncology: true, ServiceGynaeEmergency: true,
	ServiceLabor: true, ServiceSCBU: true, ServiceICU: true,
	ServiceGeneral: true, ServiceOther: true,
}

// Covers reports whether a code of this service type can pay for a service
// in the given area.
func (t ServiceType) Covers(other ServiceType) bool {
	return t == ServiceGeneral || t == other
}

// Status is the lifecycle state of an authorization code.
//
// Desk-office issued codes start active. The payment-triggered auto-issuance
// path is the sole producer of pending codes, which the serving unit collects
// into active before use. An active code is consumed exactly once, expires
// when its validity window passes, or is cancelled by an operator.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var validTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusExpired, StatusCancelled},
	StatusActive:  {StatusUsed, StatusExpired, StatusCancelled},
}

// CanTransition reports whether the lifecycle connects from and to.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists from s.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// AuthorizationCode maps to the authorization_code table. The code string is
// the primary key: codes are stored uppercase and matched case-insensitively.
type AuthorizationCode struct {
	Code               string          `db:"code" json:"code"`
	PatientID          uuid.UUID       `db:"patient_id" json:"patient_id"`
	ServiceType        ServiceType     `db:"service_type" json:"service_type"`
	ServiceDescription *string         `db:"service_description" json:"service_description,omitempty"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	ExpiryDate         time.Time       `db:"expiry_date" json:"expiry_date"`
	Status             Status          `db:"status" json:"status"`
	GeneratedBy        string          `db:"generated_by" json:"generated_by"`
	GeneratedAt        time.Time       `db:"generated_at" json:"generated_at"`
	UsedAt             *time.Time      `db:"used_at" json:"used_at,omitempty"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the code's validity window has passed as of
// today. The expiry date itself is still valid.
func (a *AuthorizationCode) IsExpired(today time.Time) bool {
	return a.ExpiryDate.Before(today)
}

// Consumable reports whether the code can pay for a service right now.
func (a *AuthorizationCode) Consumable(today time.Time) bool {
	return a.Status == StatusActive && !a.IsExpired(today)
}

// ValidationReason explains a validation outcome.
type ValidationReason string

const (
	ReasonOK          ValidationReason = "ok"
	ReasonNotFound    ValidationReason = "not_found"
	ReasonWrongStatus ValidationReason = "wrong_status"
	ReasonExpired     ValidationReason = "expired"
)

// ValidationResult is the answer to "can this code be consumed today".
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Reason ValidationReason   `json:"reason"`
	Code   *AuthorizationCode `json:"code,omitempty"`
}

// RequestStatus is the state of a desk-office authorization request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestWithdrawn RequestStatus = "withdrawn"
)

// AuthorizationRequest maps to the authorization_request table. Requests are
// the desk office work queue: a gated clinical module raises one when an NHIA
// patient has no code, and the desk office fulfils it by linking the code it
// issues. At most one pending request exists per (patient, module).
type AuthorizationRequest struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	Module        ServiceType   `db:"module" json:"module"`
	RequestedBy   string        `db:"requested_by" json:"requested_by"`
	RequestedAt   time.Time     `db:"requested_at" json:"requested_at"`
	Status        RequestStatus `db:"status" json:"status"`
	LinkedCode    *string       `db:"linked_code" json:"linked_code,omitempty"`
	Justification *string       `db:"justification" json:"justification,omitempty"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}
