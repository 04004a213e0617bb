package authorization

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateCode is returned when a manual code is already taken or a
	// freshly generated code collides with one already stored.
	ErrDuplicateCode = errors.New("authorization code already exists")

	// ErrCodeSpaceExhausted is returned when code generation keeps colliding
	// after the retry budget is spent.
	ErrCodeSpaceExhausted = errors.New("authorization code space exhausted")

	// ErrCodeNotFound is returned when a lookup by code string finds nothing.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationMissing is returned by the pricing resolver when asked
	// to price an NHIA service without a valid code. It indicates a caller
	// contract breach: the service gate must run first.
	ErrAuthorizationMissing = errors.New("no valid authorization code")

	// ErrRequestNotFound is returned when an authorization request lookup
	// finds nothing.
	ErrRequestNotFound = errors.New("authorization request not found")

	// ErrDuplicateRequest is returned when an insert collides with the
	// partial unique index on pending (patient, module) rows. The caller
	// re-reads the winning row.
	ErrDuplicateRequest = errors.New("pending authorization request already exists")
)

// InvalidTransitionError reports an attempt to move a code between two states
// the lifecycle does not connect.
type InvalidTransitionError struct {
	Code string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("authorization code %s: invalid transition %s -> %s", e.Code, e.From, e.To)
}

// ValidationError reports operator input the store cannot accept.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientCriticalStockError aborts pack-order processing when the bulk
// store cannot cover a critical pack item.
type InsufficientCriticalStockError struct {
	MedicationID uuid.UUID
	Medication   string
	Required     decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientCriticalStockError) Error() string {
	return fmt.Sprintf("insufficient stock for critical item %s: need %s, have %s",
		e.Medication, e.Required, e.Available)
}

// StoreUnavailableError wraps an infrastructure fault. Gated callers treat
// it as a block, never as permission.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
