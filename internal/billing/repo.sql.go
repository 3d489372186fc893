package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestar-erp/lodestar-erp/internal/platform/db"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Repository persists vendor bills in PostgreSQL.
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
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const billColumns = `id, number, order_id, vendor_id, status, issue_date, due_date, total, paid_at, COALESCE(created_by,0), created_at, updated_at`

func scanBill(row pgx.Row) (VendorBill, error) {
	var bill VendorBill
	err := row.Scan(&bill.ID, &bill.Number, &bill.OrderID, &bill.VendorID, &bill.Status, &bill.IssueDate, &bill.DueDate, &bill.Total, &bill.PaidAt, &bill.CreatedBy, &bill.CreatedAt, &bill.UpdatedAt)
	return bill, err
}

// GetBill loads a bill with its lines and charges.
func (r *Repository) GetBill(ctx context.Context, id int64) (BillWithDetails, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillWithDetails{}, shared.NotFoundErr("vendor bill %d", id)
		}
		return BillWithDetails{}, err
	}

	lineRows, err := r.pool.Query(ctx, `SELECT id, bill_id, order_item_id, material_id, qty, unit_price, quoted_price, variance, line_total
FROM vendor_bill_lines WHERE bill_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return BillWithDetails{}, err
	}
	defer lineRows.Close()
	lines := []VendorBillLine{}
	for lineRows.Next() {
		var ln VendorBillLine
		if err := lineRows.Scan(&ln.ID, &ln.BillID, &ln.OrderItemID, &ln.MaterialID, &ln.Quantity, &ln.UnitPrice, &ln.QuotedPrice, &ln.Variance, &ln.LineTotal); err != nil {
			return BillWithDetails{}, err
		}
		lines = append(lines, ln)
	}
	if err := lineRows.Err(); err != nil {
		return BillWithDetails{}, err
	}

	chargeRows, err := r.pool.Query(ctx, `SELECT id, bill_id, charge_type, amount, COALESCE(note,'')
FROM vendor_bill_charges WHERE bill_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return BillWithDetails{}, err
	}
	defer chargeRows.Close()
	charges := []VendorBillCharge{}
	for chargeRows.Next() {
		var ch VendorBillCharge
		if err := chargeRows.Scan(&ch.ID, &ch.BillID, &ch.Type, &ch.Amount, &ch.Note); err != nil {
			return BillWithDetails{}, err
		}
		charges = append(charges, ch)
	}
	if err := chargeRows.Err(); err != nil {
		return BillWithDetails{}, err
	}
	return BillWithDetails{VendorBill: bill, Lines: lines, Charges: charges}, nil
}

// ListBills returns a filtered page plus the total match count.
func (r *Repository) ListBills(ctx context.Context, limit, offset int, filters ListFilters) ([]VendorBill, int, error) {
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
	if filters.OrderID != 0 {
		where = append(where, "order_id="+arg(filters.OrderID))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vendor_bills WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM vendor_bills WHERE %s ORDER BY due_date ASC, id ASC LIMIT %s OFFSET %s`,
		billColumns, cond, arg(limit), arg(offset))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	bills := []VendorBill{}
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, bill)
	}
	return bills, total, rows.Err()
}

// ListOutstanding returns every pending or overdue bill, for aging.
func (r *Repository) ListOutstanding(ctx context.Context) ([]VendorBill, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE status IN ('PENDING','OVERDUE') ORDER BY due_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bills := []VendorBill{}
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, id int64) (VendorBill, error) {
	bill, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorBill{}, shared.NotFoundErr("vendor bill %d", id)
		}
		return VendorBill{}, err
	}
	return bill, nil
}

func (r *txRepository) InsertBill(ctx context.Context, bill VendorBill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_bills (number, order_id, vendor_id, status, issue_date, due_date, total, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING id`,
		bill.Number, bill.OrderID, bill.VendorID, string(bill.Status), bill.IssueDate, bill.DueDate, bill.Total, nullInt(bill.CreatedBy), bill.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBillLine(ctx context.Context, line VendorBillLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_bill_lines (bill_id, order_item_id, material_id, qty, unit_price, quoted_price, variance, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.BillID, line.OrderItemID, line.MaterialID, line.Quantity, line.UnitPrice, line.QuotedPrice, line.Variance, line.LineTotal).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBillCharge(ctx context.Context, charge VendorBillCharge) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_bill_charges (bill_id, charge_type, amount, note)
VALUES ($1,$2,$3,$4) RETURNING id`,
		charge.BillID, string(charge.Type), charge.Amount, charge.Note).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBillStatus(ctx context.Context, id int64, status BillStatus, paidAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE vendor_bills SET status=$2, paid_at=$3, updated_at=NOW() WHERE id=$1`, id, string(status), paidAt)
	return err
}

// MarkOverdueBefore matches only pending rows, so the sweep cannot undo a
// concurrent MarkPaid.
func (r *txRepository) MarkOverdueBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE vendor_bills SET status='OVERDUE', updated_at=NOW() WHERE status='PENDING' AND due_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
