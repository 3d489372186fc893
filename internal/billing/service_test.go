package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-erp/lodestar-erp/internal/procurement"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

type memoryRepo struct {
	bills   map[int64]VendorBill
	lines   map[int64][]VendorBillLine
	charges map[int64][]VendorBillCharge
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bills:   make(map[int64]VendorBill),
		lines:   make(map[int64][]VendorBillLine),
		charges: make(map[int64][]VendorBillCharge),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBill(ctx context.Context, id int64) (BillWithDetails, error) {
	bill, ok := r.bills[id]
	if !ok {
		return BillWithDetails{}, shared.NotFoundErr("vendor bill %d", id)
	}
	return BillWithDetails{VendorBill: bill, Lines: r.lines[id], Charges: r.charges[id]}, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, limit, offset int, filters ListFilters) ([]VendorBill, int, error) {
	bills := []VendorBill{}
	for _, bill := range r.bills {
		if filters.Status != "" && bill.Status != filters.Status {
			continue
		}
		bills = append(bills, bill)
	}
	return bills, len(bills), nil
}

func (r *memoryRepo) ListOutstanding(ctx context.Context) ([]VendorBill, error) {
	bills := []VendorBill{}
	for _, bill := range r.bills {
		if bill.Status == BillStatusPending || bill.Status == BillStatusOverdue {
			bills = append(bills, bill)
		}
	}
	return bills, nil
}

func (tx *memoryTx) GetBillForUpdate(ctx context.Context, id int64) (VendorBill, error) {
	bill, ok := tx.repo.bills[id]
	if !ok {
		return VendorBill{}, shared.NotFoundErr("vendor bill %d", id)
	}
	return bill, nil
}

func (tx *memoryTx) InsertBill(ctx context.Context, bill VendorBill) (int64, error) {
	tx.repo.nextID++
	bill.ID = tx.repo.nextID
	tx.repo.bills[bill.ID] = bill
	return bill.ID, nil
}

func (tx *memoryTx) InsertBillLine(ctx context.Context, line VendorBillLine) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.BillID] = append(tx.repo.lines[line.BillID], line)
	return line.ID, nil
}

func (tx *memoryTx) InsertBillCharge(ctx context.Context, charge VendorBillCharge) (int64, error) {
	tx.repo.nextID++
	charge.ID = tx.repo.nextID
	tx.repo.charges[charge.BillID] = append(tx.repo.charges[charge.BillID], charge)
	return charge.ID, nil
}

func (tx *memoryTx) UpdateBillStatus(ctx context.Context, id int64, status BillStatus, paidAt *time.Time) error {
	bill := tx.repo.bills[id]
	bill.Status = status
	bill.PaidAt = paidAt
	tx.repo.bills[id] = bill
	return nil
}

func (tx *memoryTx) MarkOverdueBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var flipped int64
	for id, bill := range tx.repo.bills {
		if bill.Status == BillStatusPending && bill.DueDate.Before(cutoff) {
			bill.Status = BillStatusOverdue
			tx.repo.bills[id] = bill
			flipped++
		}
	}
	return flipped, nil
}

type stubOrders struct {
	order procurement.PurchaseOrder
	items []procurement.PurchaseOrderItem
}

func (s *stubOrders) GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, []procurement.PurchaseOrderItem, error) {
	if s.order.ID != id {
		return procurement.PurchaseOrder{}, nil, shared.NotFoundErr("purchase order %d", id)
	}
	return s.order, s.items, nil
}

func receivedOrder() *stubOrders {
	return &stubOrders{
		order: procurement.PurchaseOrder{ID: 1, Number: "PO-1001", VendorID: 7, Status: procurement.StatusReceived},
		items: []procurement.PurchaseOrderItem{
			{ID: 10, OrderID: 1, MaterialID: 1, OrderedQty: 100, UnitPrice: 2.00, ReceivedQty: 100},
		},
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreateFromOrderWithOverrideAndCharge(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, receivedOrder(), nil)
	ctx := context.Background()

	bill, err := svc.CreateFromOrder(ctx, CreateFromOrderInput{
		OrderID:   1,
		Number:    "BILL-1",
		IssueDate: day("2026-08-01"),
		DueDate:   day("2026-08-31"),
		Overrides: []LineOverride{{OrderItemID: 10, UnitPrice: decimal.RequireFromString("2.10")}},
		Charges:   []ChargeInput{{Type: ChargeFreight, Amount: decimal.RequireFromString("50")}},
	})
	require.NoError(t, err)
	require.Equal(t, BillStatusPending, bill.Status)
	// 100 x 2.10 + 50 freight
	require.True(t, bill.Total.Equal(decimal.RequireFromString("260.00")), "total %s", bill.Total)

	require.Len(t, bill.Lines, 1)
	line := bill.Lines[0]
	require.True(t, line.UnitPrice.Equal(decimal.RequireFromString("2.10")))
	require.True(t, line.QuotedPrice.Equal(decimal.RequireFromString("2")))
	require.True(t, line.Variance.Equal(decimal.RequireFromString("0.10")), "variance %s", line.Variance)
}

func TestCreateFromOrderDefaultsToQuotedPrice(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, receivedOrder(), nil)

	bill, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{
		OrderID:   1,
		Number:    "BILL-2",
		IssueDate: day("2026-08-01"),
		DueDate:   day("2026-08-31"),
	})
	require.NoError(t, err)
	require.True(t, bill.Total.Equal(decimal.RequireFromString("200")), "total %s", bill.Total)
	require.True(t, bill.Lines[0].Variance.IsZero())
}

func TestCreateFromOrderSkipsUnreceivedItems(t *testing.T) {
	orders := receivedOrder()
	orders.items = append(orders.items, procurement.PurchaseOrderItem{
		ID: 11, OrderID: 1, MaterialID: 2, OrderedQty: 50, UnitPrice: 3.00, ReceivedQty: 0,
	})
	svc := NewService(newMemoryRepo(), orders, nil)

	bill, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{
		OrderID:   1,
		Number:    "BILL-3",
		IssueDate: day("2026-08-01"),
		DueDate:   day("2026-08-31"),
	})
	require.NoError(t, err)
	require.Len(t, bill.Lines, 1)
	require.Equal(t, int64(10), bill.Lines[0].OrderItemID)
}

func TestCreateFromOrderRequiresReceivedItems(t *testing.T) {
	orders := receivedOrder()
	orders.items[0].ReceivedQty = 0
	svc := NewService(newMemoryRepo(), orders, nil)

	_, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{
		OrderID:   1,
		Number:    "BILL-4",
		IssueDate: day("2026-08-01"),
		DueDate:   day("2026-08-31"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateFromOrderValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), receivedOrder(), nil)
	ctx := context.Background()

	_, err := svc.CreateFromOrder(ctx, CreateFromOrderInput{OrderID: 1, IssueDate: day("2026-08-01"), DueDate: day("2026-08-31")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateFromOrder(ctx, CreateFromOrderInput{
		OrderID: 1, Number: "BILL-5", IssueDate: day("2026-08-31"), DueDate: day("2026-08-01"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateFromOrder(ctx, CreateFromOrderInput{
		OrderID: 1, Number: "BILL-6", IssueDate: day("2026-08-01"), DueDate: day("2026-08-31"),
		Charges: []ChargeInput{{Type: "surcharge", Amount: decimal.RequireFromString("5")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, receivedOrder(), nil)
	ctx := context.Background()

	bill, err := svc.CreateFromOrder(ctx, CreateFromOrderInput{
		OrderID: 1, Number: "BILL-7", IssueDate: day("2026-08-01"), DueDate: day("2026-08-31"),
	})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, bill.ID, 1)
	require.NoError(t, err)
	require.Equal(t, BillStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	firstPaidAt := *paid.PaidAt

	// paying again is a no-op, not an error, and keeps the original timestamp
	again, err := svc.MarkPaid(ctx, bill.ID, 1)
	require.NoError(t, err)
	require.Equal(t, BillStatusPaid, again.Status)
	require.Equal(t, firstPaidAt, *again.PaidAt)

	_, err = svc.MarkPaid(ctx, 404, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSweepOverdue(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, receivedOrder(), nil)
	ctx := context.Background()

	bill, err := svc.CreateFromOrder(ctx, CreateFromOrderInput{
		OrderID: 1, Number: "BILL-8", IssueDate: day("2026-07-01"), DueDate: day("2026-07-31"),
	})
	require.NoError(t, err)

	flipped, err := svc.SweepOverdue(ctx, day("2026-08-15"))
	require.NoError(t, err)
	require.EqualValues(t, 1, flipped)

	stored, err := svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusOverdue, stored.Status)

	// sweeping again finds nothing pending
	flipped, err = svc.SweepOverdue(ctx, day("2026-08-16"))
	require.NoError(t, err)
	require.Zero(t, flipped)

	// an overdue bill can still be paid, and stays paid through a sweep
	_, err = svc.MarkPaid(ctx, bill.ID, 1)
	require.NoError(t, err)
	_, err = svc.SweepOverdue(ctx, day("2026-08-17"))
	require.NoError(t, err)
	stored, err = svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusPaid, stored.Status)
}

func TestAgingBuckets(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, receivedOrder(), nil)
	ctx := context.Background()

	for i, due := range []string{"2026-08-20", "2026-07-25", "2026-06-20", "2026-03-01"} {
		_, err := svc.CreateFromOrder(ctx, CreateFromOrderInput{
			OrderID:   1,
			Number:    "BILL-A" + string(rune('0'+i)),
			IssueDate: day("2026-02-01"),
			DueDate:   day(due),
		})
		require.NoError(t, err)
	}

	bucket, err := svc.Aging(ctx, day("2026-08-15"))
	require.NoError(t, err)
	// every bill totals 200: due 2026-08-20 is current, 07-25 falls in 30,
	// 06-20 in 60, 03-01 beyond 120
	require.True(t, bucket.Current.Equal(decimal.RequireFromString("200")), "current %s", bucket.Current)
	require.True(t, bucket.Bucket30.Equal(decimal.RequireFromString("200")), "b30 %s", bucket.Bucket30)
	require.True(t, bucket.Bucket60.Equal(decimal.RequireFromString("200")), "b60 %s", bucket.Bucket60)
	require.True(t, bucket.Bucket90.IsZero())
	require.True(t, bucket.Bucket120.Equal(decimal.RequireFromString("200")), "b120 %s", bucket.Bucket120)
	require.True(t, bucket.Total().Equal(decimal.RequireFromString("800")))
}
