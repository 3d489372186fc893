package locations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

type memoryRepo struct {
	locations map[int64]Location
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{locations: make(map[int64]Location)}
}

func (r *memoryRepo) List(ctx context.Context, filters mdshared.ListFilters) ([]Location, int, error) {
	result := []Location{}
	for _, loc := range r.locations {
		result = append(result, loc)
	}
	return result, len(result), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Location, error) {
	loc, ok := r.locations[id]
	if !ok {
		return Location{}, shared.NotFoundErr("location %d", id)
	}
	return loc, nil
}

func (r *memoryRepo) Create(ctx context.Context, loc Location) (Location, error) {
	r.nextID++
	loc.ID = r.nextID
	r.locations[loc.ID] = loc
	return loc, nil
}

func (r *memoryRepo) Update(ctx context.Context, loc Location) error {
	r.locations[loc.ID] = loc
	return nil
}

func (r *memoryRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	loc, ok := r.locations[id]
	if !ok {
		return shared.NotFoundErr("location %d", id)
	}
	loc.Archived = archived
	r.locations[id] = loc
	return nil
}

func TestCreateValidatesNameAndType(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Location{Type: TypeStorage})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, Location{Name: "Yard", Type: "garage"})
	require.ErrorIs(t, err, shared.ErrValidation)

	loc, err := svc.Create(ctx, Location{Name: "Yard", Type: TypeStorage})
	require.NoError(t, err)
	require.False(t, loc.Archived)
}

func TestArchiveRestoreDrivesIsActive(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	loc, err := svc.Create(ctx, Location{Name: "Site 12", Type: TypeJobSite})
	require.NoError(t, err)

	active, err := svc.IsActive(ctx, loc.ID)
	require.NoError(t, err)
	require.True(t, active)

	require.NoError(t, svc.Archive(ctx, loc.ID))
	active, err = svc.IsActive(ctx, loc.ID)
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, svc.Restore(ctx, loc.ID))
	active, err = svc.IsActive(ctx, loc.ID)
	require.NoError(t, err)
	require.True(t, active)

	_, err = svc.IsActive(ctx, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
