package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/authorization"
)

type Service struct {
	items    Repository
	mappings MappingRepository
}

func NewService(items Repository, mappings MappingRepository) *Service {
	return &Service{items: items, mappings: mappings}
}

func (s *Service) CreateItem(ctx context.Context, item *ServiceItem) error {
	if item.Code == "" {
		return fmt.Errorf("code is required")
	}
	if item.Name == "" {
		return fmt.Errorf("name is required")
	}
	if item.Category == "" {
		return fmt.Errorf("category is required")
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("price cannot be negative")
	}
	item.Active = true
	return s.items.Create(ctx, item)
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*ServiceItem, error) {
	return s.items.GetByID(ctx, id)
}

func (s *Service) GetItemByCode(ctx context.Context, code string) (*ServiceItem, error) {
	return s.items.GetByCode(ctx, code)
}

func (s *Service) UpdateItem(ctx context.Context, item *ServiceItem) error {
	if item.Category == "" {
		return fmt.Errorf("category is required")
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("price cannot be negative")
	}
	return s.items.Update(ctx, item)
}

func (s *Service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return s.items.Delete(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]*ServiceItem, int, error) {
	return s.items.List(ctx, limit, offset)
}

func (s *Service) ListItemsByCategory(ctx context.Context, category string, limit, offset int) ([]*ServiceItem, int, error) {
	return s.items.ListByCategory(ctx, category, limit, offset)
}

func (s *Service) SearchItems(ctx context.Context, query string, limit, offset int) ([]*ServiceItem, int, error) {
	if query == "" {
		return s.items.List(ctx, limit, offset)
	}
	return s.items.Search(ctx, query, limit, offset)
}

// ServiceTypeForCategory resolves a billing category to its authorization
// service type. Unmapped categories report ok=false; auto-issuance skips
// such invoice lines.
func (s *Service) ServiceTypeForCategory(ctx context.Context, category string) (authorization.ServiceType, bool, error) {
	m, ok, err := s.mappings.Get(ctx, category)
	if err != nil || !ok {
		return "", false, err
	}
	return m.ServiceType, true, nil
}

func (s *Service) SetCategoryMapping(ctx context.Context, m *CategoryMapping) error {
	if m.Category == "" {
		return fmt.Errorf("category is required")
	}
	if !authorization.KnownServiceTypes[m.ServiceType] {
		return fmt.Errorf("unknown service type: %s", m.ServiceType)
	}
	return s.mappings.Set(ctx, m)
}

func (s *Service) ListCategoryMappings(ctx context.Context) ([]*CategoryMapping, error) {
	return s.mappings.List(ctx)
}
