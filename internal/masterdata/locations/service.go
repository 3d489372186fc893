package locations

import (
	"context"
	"fmt"
	"strings"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Service owns the location directory. It is the archived/active authority
// the transfer and receiving paths consult through IsActive.
type Service struct {
	repo Repository
}

// NewService builds the location service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a page of locations plus the total match count.
func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Location, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one location.
func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new location.
func (s *Service) Create(ctx context.Context, loc Location) (Location, error) {
	if err := validate(loc); err != nil {
		return Location{}, err
	}
	return s.repo.Create(ctx, loc)
}

// Update edits name, type and address. The archived flag only changes via
// Archive and Restore.
func (s *Service) Update(ctx context.Context, id int64, loc Location) (Location, error) {
	if err := validate(loc); err != nil {
		return Location{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Location{}, err
	}
	current.Name = loc.Name
	current.Type = loc.Type
	current.Address = loc.Address
	if err := s.repo.Update(ctx, current); err != nil {
		return Location{}, err
	}
	return s.repo.Get(ctx, id)
}

// Archive makes a location reject new stock movements.
func (s *Service) Archive(ctx context.Context, id int64) error {
	return s.repo.SetArchived(ctx, id, true)
}

// Restore re-activates an archived location.
func (s *Service) Restore(ctx context.Context, id int64) error {
	return s.repo.SetArchived(ctx, id, false)
}

// IsActive reports whether a location exists and is not archived. This is
// the stock.LocationDirectory implementation used by transfers and
// receiving.
func (s *Service) IsActive(ctx context.Context, locationID int64) (bool, error) {
	loc, err := s.repo.Get(ctx, locationID)
	if err != nil {
		return false, err
	}
	return !loc.Archived, nil
}

func validate(loc Location) error {
	if strings.TrimSpace(loc.Name) == "" {
		return fmt.Errorf("%w: location name required", shared.ErrValidation)
	}
	if !ValidType(loc.Type) {
		return fmt.Errorf("%w: unknown location type %q", shared.ErrValidation, loc.Type)
	}
	return nil
}
