package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/stock"
)

// RepositoryPort abstracts persistence for purchase orders and receipts.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error)
	ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error)
	ListReceipts(ctx context.Context, orderID int64) ([]ReceivingTransaction, error)
}

// TxRepository is the transactional slice of the repository. Stock exposes
// the ledger's tx surface over the same database transaction, so receipt
// rows, item progress and ledger credits commit or roll back as one unit.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	GetOrderItemsForUpdate(ctx context.Context, orderID int64) ([]PurchaseOrderItem, error)
	InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertOrderItem(ctx context.Context, item PurchaseOrderItem) (int64, error)
	UpdateOrderHeader(ctx context.Context, po PurchaseOrder) error
	UpdateOrderItem(ctx context.Context, item PurchaseOrderItem) error
	DeleteOrderItem(ctx context.Context, itemID int64) error
	UpdateOrderStatus(ctx context.Context, id int64, status Status) error
	AddItemReceived(ctx context.Context, itemID int64, qty float64) error
	InsertReceipt(ctx context.Context, rcv ReceivingTransaction) (int64, error)
	Stock() stock.TxRepository
}

// VendorContact is what SendOrder needs from the vendor directory.
type VendorContact struct {
	ID    int64
	Name  string
	Email string
}

// VendorDirectory resolves vendor contact details.
type VendorDirectory interface {
	Contact(ctx context.Context, vendorID int64) (VendorContact, error)
}

// MailerPort enqueues outbound mail. The worker delivers asynchronously;
// order state never waits on SMTP.
type MailerPort interface {
	EnqueueMail(ctx context.Context, to, subject, body string) error
}

// IdempotencyPort deduplicates receipt postings by external receipt number.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig carries policy switches.
type ServiceConfig struct {
	// AllowOverReceipt permits receiving more than the ordered quantity.
	// Off by default: over-receipt is rejected with a validation error.
	AllowOverReceipt bool
}

// Service owns the purchase order workflow and receiving.
type Service struct {
	repo        RepositoryPort
	ledger      *stock.Ledger
	locations   stock.LocationDirectory
	vendors     VendorDirectory
	mailer      MailerPort
	idempotency IdempotencyPort
	audit       AuditPort
	cfg         ServiceConfig
}

// NewService builds the procurement service. mailer, idempotency and audit
// may be nil; the corresponding behaviour is skipped.
func NewService(repo RepositoryPort, ledger *stock.Ledger, locations stock.LocationDirectory, vendors VendorDirectory, mailer MailerPort, idem IdempotencyPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{
		repo:        repo,
		ledger:      ledger,
		locations:   locations,
		vendors:     vendors,
		mailer:      mailer,
		idempotency: idem,
		audit:       audit,
		cfg:         cfg,
	}
}

// OrderItemInput is one requested line on create/update.
type OrderItemInput struct {
	ID         int64
	MaterialID int64
	Quantity   float64
	UnitPrice  float64
}

// CreateOrderInput describes a new draft order.
type CreateOrderInput struct {
	VendorID         int64
	ExpectedDelivery *time.Time
	Notes            string
	Items            []OrderItemInput
	ActorID          int64
}

// CreateOrder creates a draft purchase order with its items.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.VendorID == 0 {
		return PurchaseOrder{}, validationErr("vendor required")
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, validationErr("order needs at least one item")
	}
	if err := validateItems(input.Items); err != nil {
		return PurchaseOrder{}, err
	}
	if _, err := s.vendors.Contact(ctx, input.VendorID); err != nil {
		return PurchaseOrder{}, err
	}

	now := time.Now().UTC()
	po := PurchaseOrder{
		Number:           fmt.Sprintf("PO-%d", now.UnixNano()),
		VendorID:         input.VendorID,
		Status:           StatusDraft,
		ExpectedDelivery: input.ExpectedDelivery,
		Notes:            input.Notes,
		CreatedBy:        input.ActorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, in := range input.Items {
			if _, err := tx.InsertOrderItem(ctx, PurchaseOrderItem{
				OrderID:    id,
				MaterialID: in.MaterialID,
				OrderedQty: in.Quantity,
				UnitPrice:  in.UnitPrice,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po:create", po.ID, map[string]any{"number": po.Number, "vendor_id": po.VendorID})
	return po, nil
}

// UpdateOrderInput describes an order edit. Items replace the current set by
// ID; omitted items are removed unless they already have received quantity.
type UpdateOrderInput struct {
	VendorID         int64
	ExpectedDelivery *time.Time
	Notes            string
	Items            []OrderItemInput
	ActorID          int64
}

// UpdateOrder edits an order in place. Draft and in-flight orders are both
// editable; editing never resets received progress and never rewinds status.
// Terminal orders reject edits.
func (s *Service) UpdateOrder(ctx context.Context, orderID int64, input UpdateOrderInput) (PurchaseOrder, error) {
	if err := validateItems(input.Items); err != nil {
		return PurchaseOrder{}, err
	}
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return stateErr("order %s is %s and cannot be edited", po.Number, po.Status)
		}
		if input.VendorID != 0 {
			po.VendorID = input.VendorID
		}
		if input.ExpectedDelivery != nil {
			po.ExpectedDelivery = input.ExpectedDelivery
		}
		po.Notes = input.Notes
		po.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrderHeader(ctx, po); err != nil {
			return err
		}
		if len(input.Items) > 0 {
			if err := reconcileItems(ctx, tx, po, input.Items); err != nil {
				return err
			}
		}
		// Item edits can change the ordered total, so the stored status must
		// be re-derived from the quantities. Drafts keep their status until
		// sent.
		if po.Status != StatusDraft {
			items, err := tx.GetOrderItemsForUpdate(ctx, po.ID)
			if err != nil {
				return err
			}
			var ordered, received float64
			for _, it := range items {
				ordered += it.OrderedQty
				received += it.ReceivedQty
			}
			if st := DeriveStatus(ordered, received); st != po.Status {
				po.Status = st
				if err := tx.UpdateOrderStatus(ctx, po.ID, st); err != nil {
					return err
				}
			}
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po:update", orderID, nil)
	return updated, nil
}

// reconcileItems applies the requested item set against the stored one.
// Items carrying an ID are updated, new ones inserted, and stored items
// absent from the request are deleted, except items with receipts behind
// them, which must stay.
func reconcileItems(ctx context.Context, tx TxRepository, po PurchaseOrder, items []OrderItemInput) error {
	existing, err := tx.GetOrderItemsForUpdate(ctx, po.ID)
	if err != nil {
		return err
	}
	byID := make(map[int64]PurchaseOrderItem, len(existing))
	for _, it := range existing {
		byID[it.ID] = it
	}
	keep := make(map[int64]bool, len(items))
	for _, in := range items {
		if in.ID == 0 {
			if _, err := tx.InsertOrderItem(ctx, PurchaseOrderItem{
				OrderID:    po.ID,
				MaterialID: in.MaterialID,
				OrderedQty: in.Quantity,
				UnitPrice:  in.UnitPrice,
			}); err != nil {
				return err
			}
			continue
		}
		it, ok := byID[in.ID]
		if !ok {
			return shared.NotFoundErr("order item %d", in.ID)
		}
		if in.Quantity < it.ReceivedQty {
			return validationErr("item %d: ordered quantity %v below already received %v", in.ID, in.Quantity, it.ReceivedQty)
		}
		keep[in.ID] = true
		it.MaterialID = in.MaterialID
		it.OrderedQty = in.Quantity
		it.UnitPrice = in.UnitPrice
		if err := tx.UpdateOrderItem(ctx, it); err != nil {
			return err
		}
	}
	for _, it := range existing {
		if keep[it.ID] {
			continue
		}
		if it.ReceivedQty > 0 {
			return validationErr("item %d has received quantity and cannot be removed", it.ID)
		}
		if err := tx.DeleteOrderItem(ctx, it.ID); err != nil {
			return err
		}
	}
	return nil
}

// SendOrder transitions a draft to ordered and emails the vendor. The order
// must resolve to a vendor contact with an email address.
func (s *Service) SendOrder(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	current, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	contact, err := s.vendors.Contact(ctx, current.VendorID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if contact.Email == "" {
		return PurchaseOrder{}, validationErr("vendor %s has no email on file, mark the order manually instead", contact.Name)
	}

	var (
		po    PurchaseOrder
		items []PurchaseOrderItem
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return stateErr("order %s is %s, only drafts can be sent", po.Number, po.Status)
		}
		items, err = tx.GetOrderItemsForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		po.Status = StatusOrdered
		po.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrderStatus(ctx, orderID, StatusOrdered)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	if s.mailer != nil {
		subject, body := BuildOrderEmail(po, items, contact)
		if err := s.mailer.EnqueueMail(ctx, contact.Email, subject, body); err != nil {
			return PurchaseOrder{}, fmt.Errorf("enqueue order mail: %w", err)
		}
	}
	s.recordAudit(ctx, actorID, "po:send", orderID, map[string]any{"vendor_email": contact.Email})
	return po, nil
}

// MarkOrdered transitions a draft to ordered without sending mail, for
// orders placed by phone or in person.
func (s *Service) MarkOrdered(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return stateErr("order %s is %s, only drafts can be marked ordered", po.Number, po.Status)
		}
		po.Status = StatusOrdered
		return tx.UpdateOrderStatus(ctx, orderID, StatusOrdered)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "po:mark_ordered", orderID, nil)
	return po, nil
}

// CancelOrder cancels an order from any pre-received state. Fully received
// and already cancelled orders cannot be cancelled. Posted receipts are
// history and stay untouched.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return stateErr("order %s is %s and cannot be cancelled", po.Number, po.Status)
		}
		po.Status = StatusCancelled
		return tx.UpdateOrderStatus(ctx, orderID, StatusCancelled)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "po:cancel", orderID, nil)
	return po, nil
}

// ReceiveLine posts quantity for one order item into a location. UnitPrice
// overrides the ordered price when positive; zero means use the item price.
type ReceiveLine struct {
	OrderItemID int64
	LocationID  int64
	Quantity    float64
	UnitPrice   float64
}

// ReceiveInput is one receiving posting against an order.
type ReceiveInput struct {
	OrderID       int64
	ReceiptNumber string
	Lines         []ReceiveLine
	ActorID       int64
}

// ReceiveResult reports the posting outcome.
type ReceiveResult struct {
	Order    PurchaseOrder          `json:"order"`
	Receipts []ReceivingTransaction `json:"receipts"`
}

// Receive posts a receipt against an ordered or partially received order.
// Receipt rows, item progress, ledger credits and the recomputed order
// status commit in a single transaction; any failure leaves the order and
// the ledger exactly as they were.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if len(input.Lines) == 0 {
		return ReceiveResult{}, validationErr("receipt needs at least one line")
	}
	for i, ln := range input.Lines {
		if ln.OrderItemID == 0 || ln.LocationID == 0 {
			return ReceiveResult{}, validationErr("line %d: order item and location required", i+1)
		}
		if ln.Quantity <= 0 {
			return ReceiveResult{}, validationErr("line %d: quantity must be positive, got %v", i+1, ln.Quantity)
		}
		if ln.UnitPrice < 0 {
			return ReceiveResult{}, validationErr("line %d: unit price must be >= 0", i+1)
		}
		active, err := s.locations.IsActive(ctx, ln.LocationID)
		if err != nil {
			return ReceiveResult{}, err
		}
		if !active {
			return ReceiveResult{}, stateErr("line %d: location %d is archived", i+1, ln.LocationID)
		}
	}

	if input.ReceiptNumber != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, receiptKey(input.OrderID, input.ReceiptNumber), "procurement"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ReceiveResult{}, fmt.Errorf("%w: receipt %s already posted", shared.ErrConflict, input.ReceiptNumber)
			}
			return ReceiveResult{}, err
		}
	}

	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !po.Status.Receivable() {
			return stateErr("order %s is %s and cannot receive goods", po.Number, po.Status)
		}
		items, err := tx.GetOrderItemsForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*PurchaseOrderItem, len(items))
		for i := range items {
			byID[items[i].ID] = &items[i]
		}

		now := time.Now().UTC()
		receipts := make([]ReceivingTransaction, 0, len(input.Lines))
		for i, ln := range input.Lines {
			it, ok := byID[ln.OrderItemID]
			if !ok {
				return shared.NotFoundErr("order item %d on order %s", ln.OrderItemID, po.Number)
			}
			// Re-check inside the transaction: the location may have been
			// archived since the pre-flight validation.
			active, err := s.locations.IsActive(ctx, ln.LocationID)
			if err != nil {
				return err
			}
			if !active {
				return stateErr("line %d: location %d is archived", i+1, ln.LocationID)
			}
			if !s.cfg.AllowOverReceipt && it.ReceivedQty+ln.Quantity > it.OrderedQty {
				return validationErr("line %d: receiving %v exceeds outstanding %v on item %d",
					i+1, ln.Quantity, it.Outstanding(), it.ID)
			}
			price := ln.UnitPrice
			if price == 0 {
				price = it.UnitPrice
			}

			rcv := ReceivingTransaction{
				OrderID:     po.ID,
				OrderItemID: it.ID,
				MaterialID:  it.MaterialID,
				LocationID:  ln.LocationID,
				Quantity:    ln.Quantity,
				UnitPrice:   price,
				RefCode:     receiptRef(po.Number, input.ReceiptNumber, i),
				ActorID:     input.ActorID,
				ReceivedAt:  now,
			}
			id, err := tx.InsertReceipt(ctx, rcv)
			if err != nil {
				return err
			}
			rcv.ID = id
			receipts = append(receipts, rcv)

			if err := tx.AddItemReceived(ctx, it.ID, ln.Quantity); err != nil {
				return err
			}
			it.ReceivedQty += ln.Quantity

			if _, err := s.ledger.CreditTx(ctx, tx.Stock(), stock.CreditInput{
				MaterialID: it.MaterialID,
				LocationID: ln.LocationID,
				Quantity:   ln.Quantity,
				UnitPrice:  price,
				RefCode:    rcv.RefCode,
				Note:       "receipt against " + po.Number,
				ActorID:    input.ActorID,
			}); err != nil {
				return err
			}
		}

		var ordered, received float64
		for _, it := range items {
			ordered += it.OrderedQty
			received += it.ReceivedQty
		}
		po.Status = DeriveStatus(ordered, received)
		po.UpdatedAt = now
		if err := tx.UpdateOrderStatus(ctx, po.ID, po.Status); err != nil {
			return err
		}
		result = ReceiveResult{Order: po, Receipts: receipts}
		return nil
	})
	if err != nil {
		if input.ReceiptNumber != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, receiptKey(input.OrderID, input.ReceiptNumber))
		}
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po:receive", input.OrderID, map[string]any{
		"receipt_number": input.ReceiptNumber,
		"lines":          len(input.Lines),
		"status":         result.Order.Status,
	})
	return result, nil
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns a page of orders.
func (s *Service) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	return s.repo.ListOrders(ctx, limit, offset, filters)
}

// ListReceipts returns all receipts posted against an order, oldest first.
func (s *Service) ListReceipts(ctx context.Context, orderID int64) ([]ReceivingTransaction, error) {
	return s.repo.ListReceipts(ctx, orderID)
}

// ReadOnlyOrders exposes order lookups without the full service wiring. The
// billing worker uses this; it never mutates procurement state.
type ReadOnlyOrders struct {
	repo RepositoryPort
}

// NewReadOnlyOrders wraps a repository for read-only order access.
func NewReadOnlyOrders(repo RepositoryPort) *ReadOnlyOrders {
	return &ReadOnlyOrders{repo: repo}
}

// GetOrder returns an order with its items.
func (r *ReadOnlyOrders) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	return r.repo.GetOrder(ctx, id)
}

func validateItems(items []OrderItemInput) error {
	for i, in := range items {
		if in.MaterialID == 0 {
			return validationErr("item %d: material required", i+1)
		}
		if in.Quantity <= 0 {
			return validationErr("item %d: quantity must be positive, got %v", i+1, in.Quantity)
		}
		if in.UnitPrice < 0 {
			return validationErr("item %d: unit price must be >= 0", i+1)
		}
	}
	return nil
}

func receiptKey(orderID int64, number string) string {
	return fmt.Sprintf("rcv:%d:%s", orderID, number)
}

func receiptRef(orderNumber, receiptNumber string, line int) string {
	if receiptNumber != "" {
		return fmt.Sprintf("%s/%s/%d", orderNumber, receiptNumber, line+1)
	}
	return fmt.Sprintf("%s/RCV-%d-%d", orderNumber, time.Now().UnixNano(), line+1)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     details,
	})
}
