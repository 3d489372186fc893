package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

type stubLocations struct {
	archived map[int64]bool
}

func (s *stubLocations) IsActive(ctx context.Context, locationID int64) (bool, error) {
	return !s.archived[locationID], nil
}

func TestTransferServiceRejectsSameLocation(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewTransferService(NewLedger(repo, nil), &stubLocations{})

	_, _, err := svc.Transfer(context.Background(), TransferInput{MaterialID: 1, FromLocationID: 3, ToLocationID: 3, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferServiceRejectsArchivedLocation(t *testing.T) {
	repo := newMemoryRepo(1)
	ledger := NewLedger(repo, nil)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, CreditInput{MaterialID: 1, LocationID: 1, Quantity: 10, UnitPrice: 1})
	require.NoError(t, err)

	svc := NewTransferService(ledger, &stubLocations{archived: map[int64]bool{2: true}})
	_, _, err = svc.Transfer(ctx, TransferInput{MaterialID: 1, FromLocationID: 1, ToLocationID: 2, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.InDelta(t, 10, repo.locationQty(1, 1), 0.0001)
}

func TestTransferServiceDelegatesToLedger(t *testing.T) {
	repo := newMemoryRepo(1)
	ledger := NewLedger(repo, nil)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, CreditInput{MaterialID: 1, LocationID: 1, Quantity: 10, UnitPrice: 1})
	require.NoError(t, err)

	svc := NewTransferService(ledger, &stubLocations{})
	outLeg, inLeg, err := svc.Transfer(ctx, TransferInput{MaterialID: 1, FromLocationID: 1, ToLocationID: 2, Quantity: 4})
	require.NoError(t, err)
	require.InDelta(t, 6, outLeg.BalanceAfter, 0.0001)
	require.InDelta(t, 4, inLeg.BalanceAfter, 0.0001)
}
