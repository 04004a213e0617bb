package catalog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, item *ServiceItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceItem, error)
	GetByCode(ctx context.Context, code string) (*ServiceItem, error)
	Update(ctx context.Context, item *ServiceItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*ServiceItem, int, error)
	ListByCategory(ctx context.Context, category string, limit, offset int) ([]*ServiceItem, int, error)
	// Search matches name or code, case-insensitively.
	Search(ctx context.Context, query string, limit, offset int) ([]*ServiceItem, int, error)
}

type MappingRepository interface {
	// Get returns ok=false for unmapped categories.
	Get(ctx context.Context, category string) (*CategoryMapping, bool, error)
	Set(ctx context.Context, m *CategoryMapping) error
	List(ctx context.Context) ([]*CategoryMapping, error)
}
