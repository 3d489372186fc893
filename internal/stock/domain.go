package stock

import (
	"fmt"
	"time"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementCredit represents stock arriving at a location.
	MovementCredit MovementType = "CREDIT"
	// MovementDebit represents stock leaving a location.
	MovementDebit MovementType = "DEBIT"
	// MovementTransfer marks the paired debit/credit legs of a transfer.
	MovementTransfer MovementType = "TRANSFER"
)

// MaterialBalance is the material-wide quantity and weighted-average cost.
// TotalQuantity equals the sum of LocationStock rows for the material at
// every observation point.
type MaterialBalance struct {
	MaterialID       int64
	TotalQuantity    float64
	UnitCost         float64
	LastPurchaseDate time.Time
	UpdatedAt        time.Time
}

// LocationStock holds the quantity of one material at one location. Rows are
// created lazily on first credit into a location and never go negative.
type LocationStock struct {
	MaterialID    int64
	LocationID    int64
	Quantity      float64
	LastCountedAt time.Time
}

// Movement is an append-only ledger row recording a single stock change and
// the resulting balance at the affected location.
type Movement struct {
	ID             int64
	RefCode        string
	Type           MovementType
	MaterialID     int64
	FromLocationID int64
	ToLocationID   int64
	Quantity       float64
	UnitCost       float64
	BalanceAfter   float64
	Note           string
	ActorID        int64
	OccurredAt     time.Time
}

// CreditInput describes stock arriving at a location.
type CreditInput struct {
	MaterialID int64
	LocationID int64
	Quantity   float64
	UnitPrice  float64
	RefCode    string
	Note       string
	ActorID    int64
}

// DebitInput describes stock leaving a location.
type DebitInput struct {
	MaterialID int64
	LocationID int64
	Quantity   float64
	RefCode    string
	Note       string
	ActorID    int64
}

// TransferInput describes a stock move between two locations.
type TransferInput struct {
	MaterialID     int64
	FromLocationID int64
	ToLocationID   int64
	Quantity       float64
	RefCode        string
	Note           string
	ActorID        int64
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	MaterialID int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
}

// MaterialOverview summarises a material across all locations.
type MaterialOverview struct {
	MaterialID    int64   `json:"material_id"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	TotalQuantity float64 `json:"total_quantity"`
	UnitCost      float64 `json:"unit_cost"`
	MinQuantity   float64 `json:"min_quantity"`
	ReorderPoint  float64 `json:"reorder_point"`
	LowStock      bool    `json:"low_stock"`
	NeedsReorder  bool    `json:"needs_reorder"`
}

// IsLowStock reports whether total quantity has fallen to the minimum.
func IsLowStock(totalQuantity, minQuantity float64) bool {
	return totalQuantity <= minQuantity
}

// NeedsReorder reports whether total quantity is at or below the reorder point.
func NeedsReorder(totalQuantity, reorderPoint float64) bool {
	return totalQuantity <= reorderPoint
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("stock: %w: %s", shared.ErrValidation, fmt.Sprintf(format, args...))
}
