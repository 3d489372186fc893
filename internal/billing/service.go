package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodestar-erp/lodestar-erp/internal/procurement"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// RepositoryPort abstracts bill persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetBill(ctx context.Context, id int64) (BillWithDetails, error)
	ListBills(ctx context.Context, limit, offset int, filters ListFilters) ([]VendorBill, int, error)
	ListOutstanding(ctx context.Context) ([]VendorBill, error)
}

// TxRepository is the transactional slice of the repository.
type TxRepository interface {
	GetBillForUpdate(ctx context.Context, id int64) (VendorBill, error)
	InsertBill(ctx context.Context, bill VendorBill) (int64, error)
	InsertBillLine(ctx context.Context, line VendorBillLine) (int64, error)
	InsertBillCharge(ctx context.Context, charge VendorBillCharge) (int64, error)
	UpdateBillStatus(ctx context.Context, id int64, status BillStatus, paidAt *time.Time) error
	MarkOverdueBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrderReader is what the reconciler needs from procurement: the order
// header and its items with received progress.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, []procurement.PurchaseOrderItem, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service builds and tracks vendor bills.
type Service struct {
	repo   RepositoryPort
	orders OrderReader
	audit  AuditPort
}

// NewService builds the billing service. audit may be nil.
func NewService(repo RepositoryPort, orders OrderReader, audit AuditPort) *Service {
	return &Service{repo: repo, orders: orders, audit: audit}
}

// LineOverride overrides the billed unit price for one order item.
type LineOverride struct {
	OrderItemID int64
	UnitPrice   decimal.Decimal
}

// ChargeInput is one additional charge on a new bill.
type ChargeInput struct {
	Type   ChargeType
	Amount decimal.Decimal
	Note   string
}

// CreateFromOrderInput describes a new bill seeded from an order.
type CreateFromOrderInput struct {
	OrderID   int64
	Number    string
	IssueDate time.Time
	DueDate   time.Time
	Overrides []LineOverride
	Charges   []ChargeInput
	ActorID   int64
}

// CreateFromOrder seeds a pending bill from every order item with received
// quantity, at the order's quoted price unless overridden per line. Price
// overrides are captured as variance against the quote; nothing enforces
// them. The ledger is never touched.
func (s *Service) CreateFromOrder(ctx context.Context, input CreateFromOrderInput) (BillWithDetails, error) {
	if input.Number == "" {
		return BillWithDetails{}, validationErr("bill number required")
	}
	if input.DueDate.Before(input.IssueDate) {
		return BillWithDetails{}, validationErr("due date precedes issue date")
	}
	for i, ch := range input.Charges {
		if !ValidChargeType(ch.Type) {
			return BillWithDetails{}, validationErr("charge %d: unknown type %q", i+1, ch.Type)
		}
		if ch.Amount.IsNegative() {
			return BillWithDetails{}, validationErr("charge %d: amount must be >= 0", i+1)
		}
	}

	po, items, err := s.orders.GetOrder(ctx, input.OrderID)
	if err != nil {
		return BillWithDetails{}, err
	}

	overrides := make(map[int64]decimal.Decimal, len(input.Overrides))
	for _, ov := range input.Overrides {
		if ov.UnitPrice.IsNegative() {
			return BillWithDetails{}, validationErr("override for item %d: unit price must be >= 0", ov.OrderItemID)
		}
		overrides[ov.OrderItemID] = ov.UnitPrice
	}

	lines := []VendorBillLine{}
	for _, it := range items {
		if it.ReceivedQty <= 0 {
			continue
		}
		qty := decimal.NewFromFloat(it.ReceivedQty)
		quoted := decimal.NewFromFloat(it.UnitPrice)
		price := quoted
		if ov, ok := overrides[it.ID]; ok {
			price = ov
		}
		lines = append(lines, VendorBillLine{
			OrderItemID: it.ID,
			MaterialID:  it.MaterialID,
			Quantity:    qty,
			UnitPrice:   price,
			QuotedPrice: quoted,
			Variance:    price.Sub(quoted),
			LineTotal:   qty.Mul(price),
		})
	}
	if len(lines) == 0 {
		return BillWithDetails{}, validationErr("order %s has no received items to bill", po.Number)
	}

	charges := make([]VendorBillCharge, 0, len(input.Charges))
	for _, ch := range input.Charges {
		charges = append(charges, VendorBillCharge{Type: ch.Type, Amount: ch.Amount, Note: ch.Note})
	}

	now := time.Now().UTC()
	bill := VendorBill{
		Number:    input.Number,
		OrderID:   po.ID,
		VendorID:  po.VendorID,
		Status:    BillStatusPending,
		IssueDate: input.IssueDate,
		DueDate:   input.DueDate,
		Total:     BillTotal(lines, charges),
		CreatedBy: input.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		for i := range lines {
			lines[i].BillID = id
			lineID, err := tx.InsertBillLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		for i := range charges {
			charges[i].BillID = id
			chargeID, err := tx.InsertBillCharge(ctx, charges[i])
			if err != nil {
				return err
			}
			charges[i].ID = chargeID
		}
		return nil
	})
	if err != nil {
		return BillWithDetails{}, err
	}
	s.recordAudit(ctx, input.ActorID, "bill:create", bill.ID, map[string]any{
		"number":   bill.Number,
		"order_id": bill.OrderID,
		"total":    bill.Total.String(),
	})
	return BillWithDetails{VendorBill: bill, Lines: lines, Charges: charges}, nil
}

// MarkPaid moves a bill to paid. Paying an already paid bill is a no-op, so
// a double-submitted payment confirmation cannot fail. Overdue bills can be
// paid; pending and overdue both settle the same way.
func (s *Service) MarkPaid(ctx context.Context, billID, actorID int64) (VendorBill, error) {
	var bill VendorBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status == BillStatusPaid {
			return nil
		}
		now := time.Now().UTC()
		bill.Status = BillStatusPaid
		bill.PaidAt = &now
		return tx.UpdateBillStatus(ctx, billID, BillStatusPaid, &now)
	})
	if err != nil {
		return VendorBill{}, err
	}
	s.recordAudit(ctx, actorID, "bill:paid", billID, nil)
	return bill, nil
}

// SweepOverdue flips still-pending bills whose due date has passed to
// overdue. Reapplying the sweep is harmless: it only matches pending rows,
// so a bill paid between two runs stays paid.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	var flipped int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		flipped, err = tx.MarkOverdueBefore(ctx, asOf)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("overdue sweep: %w", err)
	}
	return flipped, nil
}

// Aging buckets every outstanding bill by days past due.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	bills, err := s.repo.ListOutstanding(ctx)
	if err != nil {
		return AgingBucket{}, err
	}
	var bucket AgingBucket
	for _, bill := range bills {
		bucket.Add(bill.DueDate, asOf, bill.Total)
	}
	return bucket, nil
}

// GetBill returns a bill with lines and charges.
func (s *Service) GetBill(ctx context.Context, id int64) (BillWithDetails, error) {
	return s.repo.GetBill(ctx, id)
}

// ListBills returns a page of bills.
func (s *Service) ListBills(ctx context.Context, limit, offset int, filters ListFilters) ([]VendorBill, int, error) {
	return s.repo.ListBills(ctx, limit, offset, filters)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "vendor_bill",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     details,
	})
}
