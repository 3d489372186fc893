package vendors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Repository abstracts vendor persistence.
type Repository interface {
	List(ctx context.Context, filters mdshared.ListFilters) ([]Vendor, int, error)
	Get(ctx context.Context, id int64) (Vendor, error)
	Create(ctx context.Context, v Vendor) (Vendor, error)
	Update(ctx context.Context, v Vendor) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(contact,''), COALESCE(address,''), created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.Name, &v.Email, &v.Phone, &v.Contact, &v.Address, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

var sortColumns = map[string]bool{"name": true, "email": true, "updated_at": true}

func (r *repository) List(ctx context.Context, filters mdshared.ListFilters) ([]Vendor, int, error) {
	cond := "1=1"
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		cond += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vendors WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM vendors WHERE %s ORDER BY %s",
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
	result := []Vendor{}
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, v)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Vendor, error) {
	v, err := scanVendor(r.pool.QueryRow(ctx, "SELECT "+columns+" FROM vendors WHERE id=$1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, shared.NotFoundErr("vendor %d", id)
		}
		return Vendor{}, err
	}
	return v, nil
}

func (r *repository) Create(ctx context.Context, v Vendor) (Vendor, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO vendors (name, email, phone, contact, address, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		v.Name, v.Email, v.Phone, v.Contact, v.Address).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *repository) Update(ctx context.Context, v Vendor) error {
	_, err := r.pool.Exec(ctx, `UPDATE vendors SET name=$2, email=$3, phone=$4, contact=$5, address=$6, updated_at=NOW() WHERE id=$1`,
		v.ID, v.Name, v.Email, v.Phone, v.Contact, v.Address)
	return err
}
