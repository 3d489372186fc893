package procurement

import (
	"fmt"
	"time"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Status is the purchase order lifecycle state. Orders move forward only:
// a sent or received order never returns to draft, and received/cancelled
// are terminal.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusOrdered           Status = "ORDERED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// Receivable reports whether goods may be posted against an order in state s.
func (s Status) Receivable() bool {
	return s == StatusOrdered || s == StatusPartiallyReceived
}

// DeriveStatus computes the post-draft status of an order from its item
// totals. It is re-derivable at any point: feeding it the same totals always
// yields the same status, so replaying a receipt recomputation is harmless.
func DeriveStatus(orderedTotal, receivedTotal float64) Status {
	switch {
	case orderedTotal > 0 && receivedTotal >= orderedTotal:
		return StatusReceived
	case receivedTotal > 0:
		return StatusPartiallyReceived
	default:
		return StatusOrdered
	}
}

type PurchaseOrder struct {
	ID               int64      `json:"id"`
	Number           string     `json:"number"`
	VendorID         int64      `json:"vendor_id"`
	Status           Status     `json:"status"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID          int64   `json:"id"`
	OrderID     int64   `json:"order_id"`
	MaterialID  int64   `json:"material_id"`
	OrderedQty  float64 `json:"ordered_qty"`
	UnitPrice   float64 `json:"unit_price"`
	ReceivedQty float64 `json:"received_qty"`
}

// Outstanding is the quantity still expected against the item.
func (it PurchaseOrderItem) Outstanding() float64 {
	if out := it.OrderedQty - it.ReceivedQty; out > 0 {
		return out
	}
	return 0
}

// ReceivingTransaction is one posted receipt line. Receipts are append-only:
// corrections are posted as new rows, never by editing history.
type ReceivingTransaction struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	OrderItemID int64     `json:"order_item_id"`
	MaterialID  int64     `json:"material_id"`
	LocationID  int64     `json:"location_id"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	RefCode     string    `json:"ref_code"`
	ActorID     int64     `json:"actor_id"`
	ReceivedAt  time.Time `json:"received_at"`
}

type ListFilters struct {
	Status   Status
	VendorID int64
	Search   string
	SortBy   string
	SortDir  string
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrValidation, fmt.Sprintf(format, args...))
}

func stateErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrInvalidState, fmt.Sprintf(format, args...))
}
