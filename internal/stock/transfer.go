package stock

import (
	"context"
	"fmt"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// LocationDirectory exposes the location checks the transfer path needs.
// Archived locations accept no new stock movements.
type LocationDirectory interface {
	IsActive(ctx context.Context, locationID int64) (bool, error)
}

// TransferService moves stock between locations, enforcing the location
// rules before delegating to the ledger.
type TransferService struct {
	ledger    *Ledger
	locations LocationDirectory
}

// NewTransferService builds TransferService.
func NewTransferService(ledger *Ledger, locations LocationDirectory) *TransferService {
	return &TransferService{ledger: ledger, locations: locations}
}

// Transfer validates the locations and delegates to Ledger.Transfer. The
// sufficiency check runs inside the ledger transaction under the row lock,
// so a losing concurrent writer fails rather than overdrawing the source.
func (s *TransferService) Transfer(ctx context.Context, input TransferInput) (Movement, Movement, error) {
	if input.FromLocationID == input.ToLocationID {
		return Movement{}, Movement{}, validationErr("source and destination location must differ")
	}
	for _, locID := range []int64{input.FromLocationID, input.ToLocationID} {
		active, err := s.locations.IsActive(ctx, locID)
		if err != nil {
			return Movement{}, Movement{}, err
		}
		if !active {
			return Movement{}, Movement{}, fmt.Errorf("stock: %w: location %d is archived", shared.ErrInvalidState, locID)
		}
	}
	return s.ledger.Transfer(ctx, input)
}
