package materials

import (
	"context"

	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
)

// Service owns the material directory.
type Service struct {
	repo Repository
}

// NewService builds the material service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a page of materials plus the total match count.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one material.
func (s *Service) Get(ctx context.Context, id int64) (Material, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new material.
func (s *Service) Create(ctx context.Context, m Material) (Material, error) {
	if err := validate(m); err != nil {
		return Material{}, err
	}
	return s.repo.Create(ctx, m)
}

// Update edits an existing material. Quantity and cost are ledger-owned and
// ignored here.
func (s *Service) Update(ctx context.Context, id int64, m Material) (Material, error) {
	if err := validate(m); err != nil {
		return Material{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Material{}, err
	}
	m.ID = id
	if err := s.repo.Update(ctx, m); err != nil {
		return Material{}, err
	}
	return s.repo.Get(ctx, id)
}
