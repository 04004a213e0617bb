package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByHospitalNo(ctx context.Context, hospitalNo string) (*Patient, error)
	GetByNHIANumber(ctx context.Context, nhiaNumber string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	ListByType(ctx context.Context, t PatientType, limit, offset int) ([]*Patient, int, error)
}
