package authorization

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CodeRepository interface {
	// Create inserts a new code row. It returns ErrDuplicateCode when the
	// code string is already taken, in any state.
	Create(ctx context.Context, c *AuthorizationCode) error
	// Get looks up a code by its normalised string, ErrCodeNotFound when
	// absent.
	Get(ctx context.Context, code string) (*AuthorizationCode, error)
	// UpdateStatus moves a code to the given status, stamping used_at when
	// provided.
	UpdateStatus(ctx context.Context, code string, status Status, usedAt *time.Time) error
	// MarkUsed performs the conditional consume: rows already used are left
	// untouched so retried calls stay idempotent. It returns the row after
	// the attempt and whether this call performed the transition.
	MarkUsed(ctx context.Context, code string, usedAt time.Time) (*AuthorizationCode, bool, error)
	// AppendNotes adds an operator note line to the code.
	AppendNotes(ctx context.Context, code string, note string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationCode, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*AuthorizationCode, int, error)
	// FindConsumable returns the oldest active, unexpired code covering the
	// given service type for the patient, or ErrCodeNotFound.
	FindConsumable(ctx context.Context, patientID uuid.UUID, serviceType ServiceType, today time.Time) (*AuthorizationCode, error)
	// ExpireOverdue flips every non-terminal code whose expiry date has
	// passed to expired and returns the affected codes.
	ExpireOverdue(ctx context.Context, today time.Time) ([]*AuthorizationCode, error)
}

type RequestRepository interface {
	// Create inserts a new request row. It returns ErrDuplicateRequest when
	// a pending row for the same (patient, module) already exists.
	Create(ctx context.Context, r *AuthorizationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*AuthorizationRequest, error)
	// FindPending returns the open request for (patient, module) if one
	// exists, or ErrRequestNotFound. At most one such row exists.
	FindPending(ctx context.Context, patientID uuid.UUID, module ServiceType) (*AuthorizationRequest, error)
	Update(ctx context.Context, r *AuthorizationRequest) error
	ListPending(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AuthorizationRequest, int, error)
}
