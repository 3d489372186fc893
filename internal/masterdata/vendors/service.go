package vendors

import (
	"context"
	"fmt"
	"strings"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/procurement"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Service owns the vendor directory.
type Service struct {
	repo Repository
}

// NewService builds the vendor service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a page of vendors plus the total match count.
func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Vendor, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one vendor.
func (s *Service) Get(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new vendor.
func (s *Service) Create(ctx context.Context, v Vendor) (Vendor, error) {
	if err := validate(v); err != nil {
		return Vendor{}, err
	}
	return s.repo.Create(ctx, v)
}

// Update edits an existing vendor.
func (s *Service) Update(ctx context.Context, id int64, v Vendor) (Vendor, error) {
	if err := validate(v); err != nil {
		return Vendor{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Vendor{}, err
	}
	v.ID = id
	if err := s.repo.Update(ctx, v); err != nil {
		return Vendor{}, err
	}
	return s.repo.Get(ctx, id)
}

// Contact resolves the contact details purchase order dispatch needs. This
// is the procurement.VendorDirectory implementation.
func (s *Service) Contact(ctx context.Context, vendorID int64) (procurement.VendorContact, error) {
	v, err := s.repo.Get(ctx, vendorID)
	if err != nil {
		return procurement.VendorContact{}, err
	}
	return procurement.VendorContact{ID: v.ID, Name: v.Name, Email: v.Email}, nil
}

func validate(v Vendor) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: vendor name required", shared.ErrValidation)
	}
	if v.Email != "" && !strings.Contains(v.Email, "@") {
		return fmt.Errorf("%w: vendor email %q is not an address", shared.ErrValidation, v.Email)
	}
	return nil
}
