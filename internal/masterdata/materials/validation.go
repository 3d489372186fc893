package materials

import (
	"fmt"
	"strings"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

func validate(m Material) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: material name required", shared.ErrValidation)
	}
	if strings.TrimSpace(m.SKU) == "" {
		return fmt.Errorf("%w: material sku required", shared.ErrValidation)
	}
	if m.MinQuantity < 0 || m.ReorderPoint < 0 || m.ReorderQty < 0 {
		return fmt.Errorf("%w: stock thresholds must be >= 0", shared.ErrValidation)
	}
	return nil
}
