package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestar-erp/lodestar-erp/internal/platform/db"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/stock"
)

// Repository persists purchase orders and receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetOrder loads an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, number, vendor_id, status, expected_delivery, COALESCE(notes,''), COALESCE(created_by,0), created_at, updated_at
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.VendorID, &po.Status, &po.ExpectedDelivery, &po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, shared.NotFoundErr("purchase order %d", id)
		}
		return PurchaseOrder{}, nil, err
	}
	items, err := scanItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// ListOrders returns a filtered, sorted page plus the total match count.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.Status != "" {
		where = append(where, "status="+arg(string(filters.Status)))
	}
	if filters.VendorID != 0 {
		where = append(where, "vendor_id="+arg(filters.VendorID))
	}
	if filters.Search != "" {
		where = append(where, "number ILIKE "+arg("%"+filters.Search+"%"))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchase_orders WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortBy := "created_at"
	switch filters.SortBy {
	case "number", "status", "expected_delivery", "updated_at":
		sortBy = filters.SortBy
	}
	dir := "DESC"
	if strings.EqualFold(filters.SortDir, "asc") {
		dir = "ASC"
	}

	query := fmt.Sprintf(`SELECT id, number, vendor_id, status, expected_delivery, COALESCE(notes,''), COALESCE(created_by,0), created_at, updated_at
FROM purchase_orders WHERE %s ORDER BY %s %s, id DESC LIMIT %s OFFSET %s`, cond, sortBy, dir, arg(limit), arg(offset))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.VendorID, &po.Status, &po.ExpectedDelivery, &po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	return orders, total, rows.Err()
}

// ListReceipts returns all receipts for an order, oldest first.
func (r *Repository) ListReceipts(ctx context.Context, orderID int64) ([]ReceivingTransaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, order_item_id, material_id, location_id, qty, unit_price, ref_code, COALESCE(actor_id,0), received_at
FROM receiving_transactions WHERE order_id=$1 ORDER BY received_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	receipts := []ReceivingTransaction{}
	for rows.Next() {
		var rcv ReceivingTransaction
		if err := rows.Scan(&rcv.ID, &rcv.OrderID, &rcv.OrderItemID, &rcv.MaterialID, &rcv.LocationID, &rcv.Quantity, &rcv.UnitPrice, &rcv.RefCode, &rcv.ActorID, &rcv.ReceivedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rcv)
	}
	return receipts, rows.Err()
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT id, number, vendor_id, status, expected_delivery, COALESCE(notes,''), COALESCE(created_by,0), created_at, updated_at
FROM purchase_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&po.ID, &po.Number, &po.VendorID, &po.Status, &po.ExpectedDelivery, &po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NotFoundErr("purchase order %d", id)
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepository) GetOrderItemsForUpdate(ctx context.Context, orderID int64) ([]PurchaseOrderItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, order_id, material_id, ordered_qty, unit_price, received_qty
FROM purchase_order_items WHERE order_id=$1 ORDER BY id ASC FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseOrderItem{}
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MaterialID, &it.OrderedQty, &it.UnitPrice, &it.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, vendor_id, status, expected_delivery, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		po.Number, po.VendorID, string(po.Status), po.ExpectedDelivery, po.Notes, nullInt(po.CreatedBy), po.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertOrderItem(ctx context.Context, item PurchaseOrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, material_id, ordered_qty, unit_price, received_qty)
VALUES ($1,$2,$3,$4,0) RETURNING id`,
		item.OrderID, item.MaterialID, item.OrderedQty, item.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateOrderHeader(ctx context.Context, po PurchaseOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET vendor_id=$2, expected_delivery=$3, notes=$4, updated_at=NOW() WHERE id=$1`,
		po.ID, po.VendorID, po.ExpectedDelivery, po.Notes)
	return err
}

func (r *txRepository) UpdateOrderItem(ctx context.Context, item PurchaseOrderItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET material_id=$2, ordered_qty=$3, unit_price=$4 WHERE id=$1`,
		item.ID, item.MaterialID, item.OrderedQty, item.UnitPrice)
	return err
}

func (r *txRepository) DeleteOrderItem(ctx context.Context, itemID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE id=$1`, itemID)
	return err
}

func (r *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) AddItemReceived(ctx context.Context, itemID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET received_qty=received_qty+$2 WHERE id=$1`, itemID, qty)
	return err
}

func (r *txRepository) InsertReceipt(ctx context.Context, rcv ReceivingTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receiving_transactions (order_id, order_item_id, material_id, location_id, qty, unit_price, ref_code, actor_id, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		rcv.OrderID, rcv.OrderItemID, rcv.MaterialID, rcv.LocationID, rcv.Quantity, rcv.UnitPrice, rcv.RefCode, nullInt(rcv.ActorID), rcv.ReceivedAt).Scan(&id)
	return id, err
}

func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanItems(ctx context.Context, q rowQuerier, orderID int64) ([]PurchaseOrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, material_id, ordered_qty, unit_price, received_qty
FROM purchase_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseOrderItem{}
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MaterialID, &it.OrderedQty, &it.UnitPrice, &it.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
