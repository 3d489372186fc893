package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// BillStatus enumerates vendor bill statuses.
type BillStatus string

const (
	BillStatusPending BillStatus = "PENDING"
	BillStatusPaid    BillStatus = "PAID"
	BillStatusOverdue BillStatus = "OVERDUE"
)

// ChargeType enumerates the additional charge kinds a vendor can add on top
// of the billed lines.
type ChargeType string

const (
	ChargeFreight  ChargeType = "freight"
	ChargeShipping ChargeType = "shipping"
	ChargeTaxes    ChargeType = "taxes"
	ChargeHandling ChargeType = "handling"
	ChargePallet   ChargeType = "pallet"
	ChargeOther    ChargeType = "other"
)

// ValidChargeType reports whether t is a known charge type.
func ValidChargeType(t ChargeType) bool {
	switch t {
	case ChargeFreight, ChargeShipping, ChargeTaxes, ChargeHandling, ChargePallet, ChargeOther:
		return true
	}
	return false
}

// VendorBill is a payable built from an order's received quantities. Bills
// never write back into the stock ledger; they track what the vendor asks
// for against what actually arrived.
type VendorBill struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	OrderID   int64           `json:"order_id"`
	VendorID  int64           `json:"vendor_id"`
	Status    BillStatus      `json:"status"`
	IssueDate time.Time       `json:"issue_date"`
	DueDate   time.Time       `json:"due_date"`
	Total     decimal.Decimal `json:"total"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// VendorBillLine is one billed material line. UnitPrice may diverge from the
// order's quoted price; Variance records the signed per-unit difference for
// display, it gates nothing.
type VendorBillLine struct {
	ID          int64           `json:"id"`
	BillID      int64           `json:"bill_id"`
	OrderItemID int64           `json:"order_item_id"`
	MaterialID  int64           `json:"material_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	QuotedPrice decimal.Decimal `json:"quoted_price"`
	Variance    decimal.Decimal `json:"variance"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// VendorBillCharge is one typed extra amount on a bill.
type VendorBillCharge struct {
	ID     int64           `json:"id"`
	BillID int64           `json:"bill_id"`
	Type   ChargeType      `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// BillWithDetails bundles a bill with its lines and charges.
type BillWithDetails struct {
	VendorBill
	Lines   []VendorBillLine   `json:"lines"`
	Charges []VendorBillCharge `json:"charges"`
}

// AgingBucket summarises outstanding bill totals by days overdue.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_30"`
	Bucket60  decimal.Decimal `json:"bucket_60"`
	Bucket90  decimal.Decimal `json:"bucket_90"`
	Bucket120 decimal.Decimal `json:"bucket_120"`
}

// Total sums all buckets.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

// BillTotal computes Σ(line totals) + Σ(charge amounts).
func BillTotal(lines []VendorBillLine, charges []VendorBillCharge) decimal.Decimal {
	total := decimal.Zero
	for _, ln := range lines {
		total = total.Add(ln.LineTotal)
	}
	for _, ch := range charges {
		total = total.Add(ch.Amount)
	}
	return total
}

// AgeBucket assigns an outstanding amount to its bucket given due date and
// the as-of time.
func (b *AgingBucket) Add(dueDate, asOf time.Time, amount decimal.Decimal) {
	days := int(asOf.Sub(dueDate).Hours() / 24)
	switch {
	case days <= 0:
		b.Current = b.Current.Add(amount)
	case days <= 30:
		b.Bucket30 = b.Bucket30.Add(amount)
	case days <= 60:
		b.Bucket60 = b.Bucket60.Add(amount)
	case days <= 90:
		b.Bucket90 = b.Bucket90.Add(amount)
	default:
		b.Bucket120 = b.Bucket120.Add(amount)
	}
}

// ListFilters narrows bill listings.
type ListFilters struct {
	Status   BillStatus
	VendorID int64
	OrderID  int64
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrValidation, fmt.Sprintf(format, args...))
}
