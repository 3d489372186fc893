package locations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Repository abstracts location persistence.
type Repository interface {
	List(ctx context.Context, filters mdshared.ListFilters) ([]Location, int, error)
	Get(ctx context.Context, id int64) (Location, error)
	Create(ctx context.Context, loc Location) (Location, error)
	Update(ctx context.Context, loc Location) error
	SetArchived(ctx context.Context, id int64, archived bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, name, location_type, COALESCE(address,''), archived, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var loc Location
	err := row.Scan(&loc.ID, &loc.Name, &loc.Type, &loc.Address, &loc.Archived, &loc.CreatedAt, &loc.UpdatedAt)
	return loc, err
}

var sortColumns = map[string]bool{"name": true, "location_type": true, "updated_at": true}

func (r *repository) List(ctx context.Context, filters mdshared.ListFilters) ([]Location, int, error) {
	cond := "1=1"
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		cond += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM locations WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM locations WHERE %s ORDER BY %s",
		columns, cond, mdshared.SortClause(sortColumns, filters.SortBy, filters.SortDir, "name"))
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, filters.Offset())
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	result := []Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, loc)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Location, error) {
	loc, err := scanLocation(r.pool.QueryRow(ctx, "SELECT "+columns+" FROM locations WHERE id=$1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.NotFoundErr("location %d", id)
		}
		return Location{}, err
	}
	return loc, nil
}

func (r *repository) Create(ctx context.Context, loc Location) (Location, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO locations (name, location_type, address, archived, created_at, updated_at)
VALUES ($1,$2,$3,false,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		loc.Name, string(loc.Type), loc.Address).
		Scan(&loc.ID, &loc.CreatedAt, &loc.UpdatedAt)
	return loc, err
}

func (r *repository) Update(ctx context.Context, loc Location) error {
	_, err := r.pool.Exec(ctx, `UPDATE locations SET name=$2, location_type=$3, address=$4, updated_at=NOW() WHERE id=$1`,
		loc.ID, loc.Name, string(loc.Type), loc.Address)
	return err
}

func (r *repository) SetArchived(ctx context.Context, id int64, archived bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE locations SET archived=$2, updated_at=NOW() WHERE id=$1`, id, archived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundErr("location %d", id)
	}
	return nil
}
