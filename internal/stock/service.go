package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListLocationStock(ctx context.Context, materialID int64) ([]LocationStock, error)
	ListOverview(ctx context.Context) ([]MaterialOverview, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Ledger is the only component allowed to mutate stock. Every mutation runs
// inside one transaction holding row locks on the material balance and the
// affected location stock rows, so Σ(location stock) == material total holds
// at every observation point.
type Ledger struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewLedger builds the stock ledger.
func NewLedger(repo RepositoryPort, audit AuditPort) *Ledger {
	return &Ledger{repo: repo, audit: audit}
}

// Credit adds quantity at a location and folds the unit price into the
// material's weighted-average cost.
func (l *Ledger) Credit(ctx context.Context, input CreditInput) (Movement, error) {
	if input.MaterialID == 0 || input.LocationID == 0 {
		return Movement{}, validationErr("material and location required")
	}
	if input.Quantity <= 0 {
		return Movement{}, validationErr("quantity must be positive, got %v", input.Quantity)
	}
	if input.UnitPrice < 0 {
		return Movement{}, validationErr("unit price must be >= 0")
	}
	var mv Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, err = creditLocked(ctx, tx, input, time.Now().UTC())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	l.recordAudit(ctx, input.ActorID, "stock:credit", input.MaterialID, map[string]any{
		"location_id": input.LocationID,
		"qty":         input.Quantity,
		"unit_price":  input.UnitPrice,
		"ref":         mv.RefCode,
	})
	return mv, nil
}

// CreditTx applies a credit inside an already-open transaction. Receiving
// uses this so ledger credits commit atomically with order-item progress.
func (l *Ledger) CreditTx(ctx context.Context, tx TxRepository, input CreditInput) (Movement, error) {
	if input.MaterialID == 0 || input.LocationID == 0 {
		return Movement{}, validationErr("material and location required")
	}
	if input.Quantity <= 0 {
		return Movement{}, validationErr("quantity must be positive, got %v", input.Quantity)
	}
	if input.UnitPrice < 0 {
		return Movement{}, validationErr("unit price must be >= 0")
	}
	return creditLocked(ctx, tx, input, time.Now().UTC())
}

// Debit removes quantity from a location. It never allows negative stock.
func (l *Ledger) Debit(ctx context.Context, input DebitInput) (Movement, error) {
	if input.MaterialID == 0 || input.LocationID == 0 {
		return Movement{}, validationErr("material and location required")
	}
	if input.Quantity <= 0 {
		return Movement{}, validationErr("quantity must be positive, got %v", input.Quantity)
	}
	var mv Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, err = debitLocked(ctx, tx, input, time.Now().UTC())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	l.recordAudit(ctx, input.ActorID, "stock:debit", input.MaterialID, map[string]any{
		"location_id": input.LocationID,
		"qty":         input.Quantity,
		"ref":         mv.RefCode,
	})
	return mv, nil
}

// Transfer moves quantity between two locations at the existing average cost.
// Both legs run in one transaction; either both apply or neither does. The
// material-wide total and weighted-average cost are unchanged.
func (l *Ledger) Transfer(ctx context.Context, input TransferInput) (Movement, Movement, error) {
	if input.MaterialID == 0 || input.FromLocationID == 0 || input.ToLocationID == 0 {
		return Movement{}, Movement{}, validationErr("material and locations required")
	}
	if input.FromLocationID == input.ToLocationID {
		return Movement{}, Movement{}, validationErr("source and destination location must differ")
	}
	if input.Quantity <= 0 {
		return Movement{}, Movement{}, validationErr("quantity must be positive, got %v", input.Quantity)
	}
	ref := input.RefCode
	if ref == "" {
		ref = newRefCode("TRF")
	}
	var outLeg, inLeg Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now().UTC()
		balance, err := tx.GetMaterialForUpdate(ctx, input.MaterialID)
		if err != nil {
			return err
		}

		// Lock both location rows in id order so two opposing transfers
		// cannot deadlock each other.
		first, second := input.FromLocationID, input.ToLocationID
		if second < first {
			first, second = second, first
		}
		locked := map[int64]LocationStock{}
		for _, locID := range []int64{first, second} {
			row, err := tx.GetLocationStockForUpdate(ctx, input.MaterialID, locID)
			if err != nil && !errors.Is(err, ErrLocationStockNotFound) {
				return err
			}
			locked[locID] = row
		}

		src := locked[input.FromLocationID]
		dst := locked[input.ToLocationID]
		if input.Quantity > src.Quantity {
			return fmt.Errorf("stock: %w: requested %v exceeds %v at location %d",
				shared.ErrInsufficientStock, input.Quantity, src.Quantity, input.FromLocationID)
		}

		src.Quantity -= input.Quantity
		dst.Quantity += input.Quantity
		if err := tx.UpsertLocationStock(ctx, src); err != nil {
			return err
		}
		if err := tx.UpsertLocationStock(ctx, dst); err != nil {
			return err
		}

		outLeg = Movement{
			RefCode:        fmt.Sprintf("%s-OUT", ref),
			Type:           MovementTransfer,
			MaterialID:     input.MaterialID,
			FromLocationID: input.FromLocationID,
			ToLocationID:   input.ToLocationID,
			Quantity:       -input.Quantity,
			UnitCost:       balance.UnitCost,
			BalanceAfter:   src.Quantity,
			Note:           input.Note,
			ActorID:        input.ActorID,
			OccurredAt:     now,
		}
		inLeg = Movement{
			RefCode:        fmt.Sprintf("%s-IN", ref),
			Type:           MovementTransfer,
			MaterialID:     input.MaterialID,
			FromLocationID: input.FromLocationID,
			ToLocationID:   input.ToLocationID,
			Quantity:       input.Quantity,
			UnitCost:       balance.UnitCost,
			BalanceAfter:   dst.Quantity,
			Note:           input.Note,
			ActorID:        input.ActorID,
			OccurredAt:     now,
		}
		if _, err := tx.InsertMovement(ctx, outLeg); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, inLeg); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	l.recordAudit(ctx, input.ActorID, "stock:transfer", input.MaterialID, map[string]any{
		"from_location_id": input.FromLocationID,
		"to_location_id":   input.ToLocationID,
		"qty":              input.Quantity,
		"ref":              ref,
	})
	return outLeg, inLeg, nil
}

// GetMovements lists ledger movement history.
func (l *Ledger) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.MaterialID == 0 {
		return nil, validationErr("material required")
	}
	return l.repo.ListMovements(ctx, filter)
}

// GetLocationStock lists per-location quantities for one material.
func (l *Ledger) GetLocationStock(ctx context.Context, materialID int64) ([]LocationStock, error) {
	if materialID == 0 {
		return nil, validationErr("material required")
	}
	return l.repo.ListLocationStock(ctx, materialID)
}

func creditLocked(ctx context.Context, tx TxRepository, input CreditInput, now time.Time) (Movement, error) {
	balance, err := tx.GetMaterialForUpdate(ctx, input.MaterialID)
	if err != nil {
		return Movement{}, err
	}
	row, err := tx.GetLocationStockForUpdate(ctx, input.MaterialID, input.LocationID)
	if err != nil && !errors.Is(err, ErrLocationStockNotFound) {
		return Movement{}, err
	}

	totalBefore := balance.TotalQuantity
	totalAfter := totalBefore + input.Quantity
	balance.UnitCost = (totalBefore*balance.UnitCost + input.Quantity*input.UnitPrice) / totalAfter
	balance.TotalQuantity = totalAfter
	balance.LastPurchaseDate = now
	if err := tx.UpdateMaterialBalance(ctx, balance); err != nil {
		return Movement{}, err
	}

	row.Quantity += input.Quantity
	if err := tx.UpsertLocationStock(ctx, row); err != nil {
		return Movement{}, err
	}

	ref := input.RefCode
	if ref == "" {
		ref = newRefCode("MOV")
	}
	mv := Movement{
		RefCode:      ref,
		Type:         MovementCredit,
		MaterialID:   input.MaterialID,
		ToLocationID: input.LocationID,
		Quantity:     input.Quantity,
		UnitCost:     input.UnitPrice,
		BalanceAfter: row.Quantity,
		Note:         input.Note,
		ActorID:      input.ActorID,
		OccurredAt:   now,
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	return mv, nil
}

func debitLocked(ctx context.Context, tx TxRepository, input DebitInput, now time.Time) (Movement, error) {
	balance, err := tx.GetMaterialForUpdate(ctx, input.MaterialID)
	if err != nil {
		return Movement{}, err
	}
	row, err := tx.GetLocationStockForUpdate(ctx, input.MaterialID, input.LocationID)
	if err != nil && !errors.Is(err, ErrLocationStockNotFound) {
		return Movement{}, err
	}
	if input.Quantity > row.Quantity {
		return Movement{}, fmt.Errorf("stock: %w: requested %v exceeds %v at location %d",
			shared.ErrInsufficientStock, input.Quantity, row.Quantity, input.LocationID)
	}

	avgCost := balance.UnitCost
	balance.TotalQuantity -= input.Quantity
	if balance.TotalQuantity <= 0 {
		balance.TotalQuantity = 0
		balance.UnitCost = 0
	}
	if err := tx.UpdateMaterialBalance(ctx, balance); err != nil {
		return Movement{}, err
	}

	row.Quantity -= input.Quantity
	if err := tx.UpsertLocationStock(ctx, row); err != nil {
		return Movement{}, err
	}

	ref := input.RefCode
	if ref == "" {
		ref = newRefCode("MOV")
	}
	mv := Movement{
		RefCode:        ref,
		Type:           MovementDebit,
		MaterialID:     input.MaterialID,
		FromLocationID: input.LocationID,
		Quantity:       -input.Quantity,
		UnitCost:       avgCost,
		BalanceAfter:   row.Quantity,
		Note:           input.Note,
		ActorID:        input.ActorID,
		OccurredAt:     now,
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	return mv, nil
}

func (l *Ledger) recordAudit(ctx context.Context, actorID int64, action string, materialID int64, meta map[string]any) {
	if l.audit == nil {
		return
	}
	_ = l.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", materialID),
		Meta:     meta,
	})
}

func newRefCode(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
