package materials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Repository abstracts material persistence.
type Repository interface {
	List(ctx context.Context, filters mdshared.ListFilters) ([]Material, int, error)
	Get(ctx context.Context, id int64) (Material, error)
	Create(ctx context.Context, m Material) (Material, error)
	Update(ctx context.Context, m Material) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, name, sku, COALESCE(category,''), COALESCE(unit,''), min_qty, reorder_point, reorder_qty, total_qty, unit_cost, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Name, &m.SKU, &m.Category, &m.Unit, &m.MinQuantity, &m.ReorderPoint, &m.ReorderQty, &m.TotalQuantity, &m.UnitCost, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

var sortColumns = map[string]bool{"name": true, "sku": true, "category": true, "total_qty": true, "updated_at": true}

func (r *repository) List(ctx context.Context, filters mdshared.ListFilters) ([]Material, int, error) {
	cond := "1=1"
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		cond += fmt.Sprintf(" AND (name ILIKE $%d OR sku ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM materials WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM materials WHERE %s ORDER BY %s",
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
	result := []Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, m)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, "SELECT "+columns+" FROM materials WHERE id=$1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.NotFoundErr("material %d", id)
		}
		return Material{}, err
	}
	return m, nil
}

func (r *repository) Create(ctx context.Context, m Material) (Material, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO materials (name, sku, category, unit, min_qty, reorder_point, reorder_qty, total_qty, unit_cost, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		m.Name, m.SKU, m.Category, m.Unit, m.MinQuantity, m.ReorderPoint, m.ReorderQty).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *repository) Update(ctx context.Context, m Material) error {
	_, err := r.pool.Exec(ctx, `UPDATE materials SET name=$2, sku=$3, category=$4, unit=$5, min_qty=$6, reorder_point=$7, reorder_qty=$8, updated_at=NOW() WHERE id=$1`,
		m.ID, m.Name, m.SKU, m.Category, m.Unit, m.MinQuantity, m.ReorderPoint, m.ReorderQty)
	return err
}
