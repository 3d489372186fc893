package materials

import (
	"time"

	"github.com/lodestar-erp/lodestar-erp/internal/stock"
)

// Material is a purchasable, stockable item. Quantity and unit cost are
// owned by the stock ledger; this directory only reads them.
type Material struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SKU           string    `json:"sku"`
	Category      string    `json:"category"`
	Unit          string    `json:"unit"`
	MinQuantity   float64   `json:"min_quantity"`
	ReorderPoint  float64   `json:"reorder_point"`
	ReorderQty    float64   `json:"reorder_qty"`
	TotalQuantity float64   `json:"total_quantity"`
	UnitCost      float64   `json:"unit_cost"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LowStock reports whether the material sits at or below its minimum.
func (m Material) LowStock() bool {
	return stock.IsLowStock(m.TotalQuantity, m.MinQuantity)
}

// NeedsReorder reports whether the material sits at or below reorder point.
func (m Material) NeedsReorder() bool {
	return stock.NeedsReorder(m.TotalQuantity, m.ReorderPoint)
}
