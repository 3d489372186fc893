package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestar-erp/lodestar-erp/internal/platform/db"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetMaterialForUpdate(ctx context.Context, materialID int64) (MaterialBalance, error)
	UpdateMaterialBalance(ctx context.Context, balance MaterialBalance) error
	GetLocationStockForUpdate(ctx context.Context, materialID, locationID int64) (LocationStock, error)
	UpsertLocationStock(ctx context.Context, row LocationStock) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. Receiving uses this to
// post ledger credits in the same transaction as its own rows.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ErrLocationStockNotFound indicates no stock row exists yet for the
// (material, location) pair. Callers receive a seeded zero-quantity row.
var ErrLocationStockNotFound = errors.New("location stock not found")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListMovements returns movement history for a material, optionally scoped
// to one location and a time window.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref_code, movement_type, material_id, COALESCE(from_location_id, 0), COALESCE(to_location_id, 0), qty, unit_cost, balance_after, note, COALESCE(actor_id, 0), occurred_at
FROM stock_movements
WHERE material_id=$1
  AND ($2::bigint = 0 OR from_location_id=$2 OR to_location_id=$2)
  AND occurred_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY occurred_at ASC, id ASC
LIMIT $5`, filter.MaterialID, filter.LocationID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.RefCode, &mv.Type, &mv.MaterialID, &mv.FromLocationID, &mv.ToLocationID, &mv.Quantity, &mv.UnitCost, &mv.BalanceAfter, &mv.Note, &mv.ActorID, &mv.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// ListLocationStock returns per-location rows for one material.
func (r *Repository) ListLocationStock(ctx context.Context, materialID int64) ([]LocationStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id, location_id, qty, last_counted_at
FROM location_stock WHERE material_id=$1 ORDER BY location_id ASC`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []LocationStock{}
	for rows.Next() {
		var row LocationStock
		if err := rows.Scan(&row.MaterialID, &row.LocationID, &row.Quantity, &row.LastCountedAt); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ListOverview summarises every material with its low-stock flags.
func (r *Repository) ListOverview(ctx context.Context) ([]MaterialOverview, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, sku, total_qty, unit_cost, min_qty, reorder_point
FROM materials ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []MaterialOverview{}
	for rows.Next() {
		var o MaterialOverview
		if err := rows.Scan(&o.MaterialID, &o.Name, &o.SKU, &o.TotalQuantity, &o.UnitCost, &o.MinQuantity, &o.ReorderPoint); err != nil {
			return nil, err
		}
		o.LowStock = IsLowStock(o.TotalQuantity, o.MinQuantity)
		o.NeedsReorder = NeedsReorder(o.TotalQuantity, o.ReorderPoint)
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *txRepository) GetMaterialForUpdate(ctx context.Context, materialID int64) (MaterialBalance, error) {
	var bal MaterialBalance
	var lastPurchase *time.Time
	err := r.tx.QueryRow(ctx, `SELECT id, total_qty, unit_cost, last_purchase_date, updated_at FROM materials WHERE id=$1 FOR UPDATE`, materialID).
		Scan(&bal.MaterialID, &bal.TotalQuantity, &bal.UnitCost, &lastPurchase, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialBalance{}, shared.NotFoundErr("stock: material %d", materialID)
		}
		return MaterialBalance{}, err
	}
	if lastPurchase != nil {
		bal.LastPurchaseDate = *lastPurchase
	}
	return bal, nil
}

func (r *txRepository) UpdateMaterialBalance(ctx context.Context, balance MaterialBalance) error {
	_, err := r.tx.Exec(ctx, `UPDATE materials SET total_qty=$2, unit_cost=$3, last_purchase_date=$4, updated_at=NOW() WHERE id=$1`,
		balance.MaterialID, balance.TotalQuantity, balance.UnitCost, nullTime(balance.LastPurchaseDate))
	return err
}

func (r *txRepository) GetLocationStockForUpdate(ctx context.Context, materialID, locationID int64) (LocationStock, error) {
	var row LocationStock
	err := r.tx.QueryRow(ctx, `SELECT material_id, location_id, qty, last_counted_at FROM location_stock WHERE material_id=$1 AND location_id=$2 FOR UPDATE`, materialID, locationID).
		Scan(&row.MaterialID, &row.LocationID, &row.Quantity, &row.LastCountedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LocationStock{MaterialID: materialID, LocationID: locationID}, ErrLocationStockNotFound
		}
		return LocationStock{}, err
	}
	return row, nil
}

func (r *txRepository) UpsertLocationStock(ctx context.Context, row LocationStock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_stock (material_id, location_id, qty, last_counted_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (material_id, location_id) DO UPDATE SET qty=EXCLUDED.qty, last_counted_at=NOW()`,
		row.MaterialID, row.LocationID, row.Quantity)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (ref_code, movement_type, material_id, from_location_id, to_location_id, qty, unit_cost, balance_after, note, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		mv.RefCode, string(mv.Type), mv.MaterialID, nullInt(mv.FromLocationID), nullInt(mv.ToLocationID), mv.Quantity, mv.UnitCost, mv.BalanceAfter, mv.Note, nullInt(mv.ActorID), mv.OccurredAt).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
