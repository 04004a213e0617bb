package records

import (
	"context"

	"github.com/google/uuid"
)

type ConfigRepository interface {
	// Get returns ok=false for modules with no explicit configuration.
	Get(ctx context.Context, module Module) (*ModuleConfig, bool, error)
	Set(ctx context.Context, cfg *ModuleConfig) error
	List(ctx context.Context) ([]*ModuleConfig, error)
}

type RecordRepository interface {
	Create(ctx context.Context, r *ClinicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)
	Update(ctx context.Context, r *ClinicalRecord) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error)
	ListByStatus(ctx context.Context, status AuthorizationStatus, limit, offset int) ([]*ClinicalRecord, int, error)
}
