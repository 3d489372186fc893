package procurement

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/stock"
)

// memoryState is the mutable store behind the fakes. WithTx snapshots it and
// restores the snapshot on error, so transactional rollback is observable in
// tests.
type memoryState struct {
	orders    map[int64]PurchaseOrder
	items     map[int64]PurchaseOrderItem
	receipts  []ReceivingTransaction
	materials map[int64]stock.MaterialBalance
	stockRows map[string]stock.LocationStock
	movements []stock.Movement
	nextID    int64
}

type memoryRepo struct {
	state *memoryState
}

type memoryTx struct {
	state *memoryState
}

type memoryStockTx struct {
	state *memoryState
}

func newMemoryRepo(materialIDs ...int64) *memoryRepo {
	state := &memoryState{
		orders:    make(map[int64]PurchaseOrder),
		items:     make(map[int64]PurchaseOrderItem),
		materials: make(map[int64]stock.MaterialBalance),
		stockRows: make(map[string]stock.LocationStock),
	}
	for _, id := range materialIDs {
		state.materials[id] = stock.MaterialBalance{MaterialID: id}
	}
	return &memoryRepo{state: state}
}

func (s *memoryState) clone() *memoryState {
	cp := &memoryState{
		orders:    make(map[int64]PurchaseOrder, len(s.orders)),
		items:     make(map[int64]PurchaseOrderItem, len(s.items)),
		receipts:  append([]ReceivingTransaction(nil), s.receipts...),
		materials: make(map[int64]stock.MaterialBalance, len(s.materials)),
		stockRows: make(map[string]stock.LocationStock, len(s.stockRows)),
		movements: append([]stock.Movement(nil), s.movements...),
		nextID:    s.nextID,
	}
	for k, v := range s.orders {
		cp.orders[k] = v
	}
	for k, v := range s.items {
		cp.items[k] = v
	}
	for k, v := range s.materials {
		cp.materials[k] = v
	}
	for k, v := range s.stockRows {
		cp.stockRows[k] = v
	}
	return cp
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{state: r.state}); err != nil {
		*r.state = *snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	po, ok := r.state.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, shared.NotFoundErr("purchase order %d", id)
	}
	return po, r.state.orderItems(id), nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	orders := []PurchaseOrder{}
	for _, po := range r.state.orders {
		if filters.Status != "" && po.Status != filters.Status {
			continue
		}
		orders = append(orders, po)
	}
	return orders, len(orders), nil
}

func (r *memoryRepo) ListReceipts(ctx context.Context, orderID int64) ([]ReceivingTransaction, error) {
	receipts := []ReceivingTransaction{}
	for _, rcv := range r.state.receipts {
		if rcv.OrderID == orderID {
			receipts = append(receipts, rcv)
		}
	}
	return receipts, nil
}

func (s *memoryState) orderItems(orderID int64) []PurchaseOrderItem {
	items := []PurchaseOrderItem{}
	for _, it := range s.items {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	return items
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.state.orders[id]
	if !ok {
		return PurchaseOrder{}, shared.NotFoundErr("purchase order %d", id)
	}
	return po, nil
}

func (tx *memoryTx) GetOrderItemsForUpdate(ctx context.Context, orderID int64) ([]PurchaseOrderItem, error) {
	return tx.state.orderItems(orderID), nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.state.nextID++
	po.ID = tx.state.nextID
	tx.state.orders[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) InsertOrderItem(ctx context.Context, item PurchaseOrderItem) (int64, error) {
	tx.state.nextID++
	item.ID = tx.state.nextID
	tx.state.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdateOrderHeader(ctx context.Context, po PurchaseOrder) error {
	stored := tx.state.orders[po.ID]
	stored.VendorID = po.VendorID
	stored.ExpectedDelivery = po.ExpectedDelivery
	stored.Notes = po.Notes
	tx.state.orders[po.ID] = stored
	return nil
}

func (tx *memoryTx) UpdateOrderItem(ctx context.Context, item PurchaseOrderItem) error {
	tx.state.items[item.ID] = item
	return nil
}

func (tx *memoryTx) DeleteOrderItem(ctx context.Context, itemID int64) error {
	delete(tx.state.items, itemID)
	return nil
}

func (tx *memoryTx) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	po := tx.state.orders[id]
	po.Status = status
	tx.state.orders[id] = po
	return nil
}

func (tx *memoryTx) AddItemReceived(ctx context.Context, itemID int64, qty float64) error {
	it := tx.state.items[itemID]
	it.ReceivedQty += qty
	tx.state.items[itemID] = it
	return nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, rcv ReceivingTransaction) (int64, error) {
	tx.state.nextID++
	rcv.ID = tx.state.nextID
	tx.state.receipts = append(tx.state.receipts, rcv)
	return rcv.ID, nil
}

func (tx *memoryTx) Stock() stock.TxRepository {
	return &memoryStockTx{state: tx.state}
}

func stockKey(materialID, locationID int64) string {
	return fmt.Sprintf("%d:%d", materialID, locationID)
}

func (tx *memoryStockTx) GetMaterialForUpdate(ctx context.Context, materialID int64) (stock.MaterialBalance, error) {
	bal, ok := tx.state.materials[materialID]
	if !ok {
		return stock.MaterialBalance{}, shared.NotFoundErr("stock: material %d", materialID)
	}
	return bal, nil
}

func (tx *memoryStockTx) UpdateMaterialBalance(ctx context.Context, balance stock.MaterialBalance) error {
	tx.state.materials[balance.MaterialID] = balance
	return nil
}

func (tx *memoryStockTx) GetLocationStockForUpdate(ctx context.Context, materialID, locationID int64) (stock.LocationStock, error) {
	if row, ok := tx.state.stockRows[stockKey(materialID, locationID)]; ok {
		return row, nil
	}
	return stock.LocationStock{MaterialID: materialID, LocationID: locationID}, stock.ErrLocationStockNotFound
}

func (tx *memoryStockTx) UpsertLocationStock(ctx context.Context, row stock.LocationStock) error {
	tx.state.stockRows[stockKey(row.MaterialID, row.LocationID)] = row
	return nil
}

func (tx *memoryStockTx) InsertMovement(ctx context.Context, mv stock.Movement) (int64, error) {
	tx.state.nextID++
	mv.ID = tx.state.nextID
	tx.state.movements = append(tx.state.movements, mv)
	return mv.ID, nil
}

// stockLedgerRepo adapts the shared state so a stock.Ledger can run its own
// transactions in tests that credit outside receiving. Receiving itself goes
// through memoryTx.Stock().
type stockLedgerRepo struct {
	state *memoryState
}

func (r *stockLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	return fn(ctx, &memoryStockTx{state: r.state})
}

func (r *stockLedgerRepo) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	return append([]stock.Movement(nil), r.state.movements...), nil
}

func (r *stockLedgerRepo) ListLocationStock(ctx context.Context, materialID int64) ([]stock.LocationStock, error) {
	rows := []stock.LocationStock{}
	for _, row := range r.state.stockRows {
		if row.MaterialID == materialID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (r *stockLedgerRepo) ListOverview(ctx context.Context) ([]stock.MaterialOverview, error) {
	return nil, nil
}

type stubVendors struct {
	contacts map[int64]VendorContact
}

func (s *stubVendors) Contact(ctx context.Context, vendorID int64) (VendorContact, error) {
	c, ok := s.contacts[vendorID]
	if !ok {
		return VendorContact{}, shared.NotFoundErr("vendor %d", vendorID)
	}
	return c, nil
}

type stubLocations struct {
	archived map[int64]bool
}

func (s *stubLocations) IsActive(ctx context.Context, locationID int64) (bool, error) {
	return !s.archived[locationID], nil
}

type recordingMailer struct {
	to       []string
	subjects []string
	bodies   []string
}

func (m *recordingMailer) EnqueueMail(ctx context.Context, to, subject, body string) error {
	m.to = append(m.to, to)
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (s *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys == nil {
		s.keys = make(map[string]bool)
	}
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type fixture struct {
	repo    *memoryRepo
	service *Service
	mailer  *recordingMailer
	idem    *memoryIdempotency
}

func newFixture(cfg ServiceConfig, materialIDs ...int64) *fixture {
	repo := newMemoryRepo(materialIDs...)
	ledger := stock.NewLedger(&stockLedgerRepo{state: repo.state}, nil)
	mailer := &recordingMailer{}
	idem := &memoryIdempotency{}
	vendors := &stubVendors{contacts: map[int64]VendorContact{
		7: {ID: 7, Name: "Acme Timber", Email: "orders@acme-timber.test"},
		8: {ID: 8, Name: "No Mail Vendor"},
	}}
	locations := &stubLocations{archived: map[int64]bool{99: true}}
	svc := NewService(repo, ledger, locations, vendors, mailer, idem, nil, cfg)
	return &fixture{repo: repo, service: svc, mailer: mailer, idem: idem}
}

func (f *fixture) createOrder(t *testing.T, vendorID int64, items ...OrderItemInput) PurchaseOrder {
	t.Helper()
	po, err := f.service.CreateOrder(context.Background(), CreateOrderInput{
		VendorID: vendorID,
		Items:    items,
		ActorID:  1,
	})
	require.NoError(t, err)
	return po
}

func (f *fixture) orderedOrder(t *testing.T, vendorID int64, items ...OrderItemInput) PurchaseOrder {
	t.Helper()
	po := f.createOrder(t, vendorID, items...)
	po, err := f.service.MarkOrdered(context.Background(), po.ID, 1)
	require.NoError(t, err)
	return po
}

func (f *fixture) itemID(t *testing.T, orderID int64, materialID int64) int64 {
	t.Helper()
	for _, it := range f.repo.state.orderItems(orderID) {
		if it.MaterialID == materialID {
			return it.ID
		}
	}
	t.Fatalf("no item for material %d on order %d", materialID, orderID)
	return 0
}

func TestCreateOrderStartsAsDraft(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)

	po := f.createOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	require.Equal(t, StatusDraft, po.Status)
	require.Contains(t, po.Number, "PO-")

	stored, items, err := f.service.GetOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Len(t, items, 1)
	require.Zero(t, items[0].ReceivedQty)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	_, err := f.service.CreateOrder(ctx, CreateOrderInput{VendorID: 7})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.CreateOrder(ctx, CreateOrderInput{
		VendorID: 7,
		Items:    []OrderItemInput{{MaterialID: 1, Quantity: -5, UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.CreateOrder(ctx, CreateOrderInput{
		VendorID: 42,
		Items:    []OrderItemInput{{MaterialID: 1, Quantity: 10, UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSendOrderMailsVendor(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.createOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	sent, err := f.service.SendOrder(ctx, po.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, sent.Status)
	require.Equal(t, []string{"orders@acme-timber.test"}, f.mailer.to)
	require.Contains(t, f.mailer.subjects[0], po.Number)
	require.Contains(t, f.mailer.bodies[0], "Acme Timber")

	// sent orders cannot be sent again
	_, err = f.service.SendOrder(ctx, po.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSendOrderRequiresVendorEmail(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.createOrder(t, 8, OrderItemInput{MaterialID: 1, Quantity: 10, UnitPrice: 100})
	_, err := f.service.SendOrder(ctx, po.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)

	// the order stays a draft and can still be marked manually
	stored, _, err := f.service.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)

	marked, err := f.service.MarkOrdered(ctx, po.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, marked.Status)
	require.Empty(t, f.mailer.to)
}

func TestReceivePartialThenComplete(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	result, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, result.Order.Status)
	require.Len(t, result.Receipts, 1)
	require.InDelta(t, 2500, result.Receipts[0].UnitPrice, 0.0001)

	require.InDelta(t, 40, f.repo.state.materials[1].TotalQuantity, 0.0001)
	require.InDelta(t, 40, f.repo.state.stockRows[stockKey(1, 5)].Quantity, 0.0001)

	result, err = f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 60}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, result.Order.Status)
	require.InDelta(t, 100, f.repo.state.materials[1].TotalQuantity, 0.0001)

	// fully received is terminal
	_, err = f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveFoldsPriceIntoAverageCost(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7,
		OrderItemInput{MaterialID: 1, Quantity: 10, UnitPrice: 100000},
		OrderItemInput{MaterialID: 1, Quantity: 5, UnitPrice: 120000},
	)
	items := f.repo.state.orderItems(po.ID)
	require.Len(t, items, 2)

	for _, it := range items {
		_, err := f.service.Receive(ctx, ReceiveInput{
			OrderID: po.ID,
			Lines:   []ReceiveLine{{OrderItemID: it.ID, LocationID: 5, Quantity: it.OrderedQty}},
		})
		require.NoError(t, err)
	}
	bal := f.repo.state.materials[1]
	require.InDelta(t, 15, bal.TotalQuantity, 0.0001)
	require.InDelta(t, 106666.6667, bal.UnitCost, 0.01)
}

func TestReceiveRejectsDraftAndCancelled(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.createOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.service.CancelOrder(ctx, po.ID, 1)
	require.NoError(t, err)

	_, err = f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// the ledger never moved
	require.Empty(t, f.repo.state.movements)
	require.Zero(t, f.repo.state.materials[1].TotalQuantity)
}

func TestReceiveOverReceipt(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 120}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.repo.state.materials[1].TotalQuantity)

	relaxed := newFixture(ServiceConfig{AllowOverReceipt: true}, 1)
	po = relaxed.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID = relaxed.itemID(t, po.ID, 1)

	result, err := relaxed.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 120}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, result.Order.Status)
	require.InDelta(t, 120, relaxed.repo.state.materials[1].TotalQuantity, 0.0001)
}

func TestReceiveRejectsArchivedLocation(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 99, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Empty(t, f.repo.state.receipts)
}

func TestReceiveFailureRollsBackEveryLine(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7,
		OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500},
		OrderItemInput{MaterialID: 1, Quantity: 50, UnitPrice: 2600},
	)
	items := f.repo.state.orderItems(po.ID)
	require.Len(t, items, 2)
	var big, small PurchaseOrderItem
	for _, it := range items {
		if it.OrderedQty == 100 {
			big = it
		} else {
			small = it
		}
	}

	// second line over-receives, so the whole posting must roll back
	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines: []ReceiveLine{
			{OrderItemID: big.ID, LocationID: 5, Quantity: 40},
			{OrderItemID: small.ID, LocationID: 5, Quantity: 80},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.state.receipts)
	require.Empty(t, f.repo.state.movements)
	require.Zero(t, f.repo.state.materials[1].TotalQuantity)

	stored, _, err := f.service.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, stored.Status)
}

func TestReceiveReceiptNumberDeduplicates(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	input := ReceiveInput{
		OrderID:       po.ID,
		ReceiptNumber: "DN-2026-0042",
		Lines:         []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	}
	_, err := f.service.Receive(ctx, input)
	require.NoError(t, err)

	_, err = f.service.Receive(ctx, input)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.InDelta(t, 40, f.repo.state.materials[1].TotalQuantity, 0.0001)
}

func TestReceiveFailureReleasesReceiptNumber(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	input := ReceiveInput{
		OrderID:       po.ID,
		ReceiptNumber: "DN-2026-0043",
		Lines:         []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 120}},
	}
	_, err := f.service.Receive(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	// the failed posting must not burn the receipt number
	input.Lines[0].Quantity = 40
	_, err = f.service.Receive(ctx, input)
	require.NoError(t, err)
}

func TestCancelReceivedOrderRejected(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 10, UnitPrice: 100})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 10}},
	})
	require.NoError(t, err)

	_, err = f.service.CancelOrder(ctx, po.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelPartiallyReceivedKeepsHistory(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)

	cancelled, err := f.service.CancelOrder(ctx, po.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// posted receipts and stock stay as they are
	receipts, err := f.service.ListReceipts(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.InDelta(t, 40, f.repo.state.materials[1].TotalQuantity, 0.0001)
}

func TestUpdateOrderKeepsReceivedProgress(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)

	updated, err := f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{
		Notes: "rush delivery",
		Items: []OrderItemInput{{ID: itemID, MaterialID: 1, Quantity: 150, UnitPrice: 2400}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, updated.Status)

	_, items, err := f.service.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.InDelta(t, 40, items[0].ReceivedQty, 0.0001)
	require.InDelta(t, 150, items[0].OrderedQty, 0.0001)
}

func TestUpdateOrderCannotShrinkBelowReceived(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)

	_, err = f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{
		Items: []OrderItemInput{{ID: itemID, MaterialID: 1, Quantity: 30, UnitPrice: 2500}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// removing a received item is equally rejected
	_, err = f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{
		Items: []OrderItemInput{{MaterialID: 1, Quantity: 10, UnitPrice: 2500}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateOrderRederivesStatus(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)

	// shrinking the ordered quantity down to what was received completes the
	// order; the stored status must follow the quantities
	updated, err := f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{
		Items: []OrderItemInput{{ID: itemID, MaterialID: 1, Quantity: 40, UnitPrice: 2500}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, updated.Status)

	stored, items, err := f.service.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, DeriveStatus(items[0].OrderedQty, items[0].ReceivedQty), stored.Status)

	// the order is now terminal, not stuck
	_, err = f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{Notes: "late edit"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateOrderGrowthReopensPartiallyReceived(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 40}},
	})
	require.NoError(t, err)

	// growing the ordered quantity keeps the order receivable and the
	// remainder can still come in
	updated, err := f.service.UpdateOrder(ctx, po.ID, UpdateOrderInput{
		Items: []OrderItemInput{{ID: itemID, MaterialID: 1, Quantity: 60, UnitPrice: 2500}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, updated.Status)

	result, err := f.service.Receive(ctx, ReceiveInput{
		OrderID: po.ID,
		Lines:   []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, result.Order.Status)
}

// archivingLocations reports a location active on its first lookup and
// archived on every later one, mimicking an archive landing between the
// pre-flight check and the posting transaction.
type archivingLocations struct {
	target int64
	calls  int
}

func (s *archivingLocations) IsActive(ctx context.Context, locationID int64) (bool, error) {
	if locationID != s.target {
		return true, nil
	}
	s.calls++
	return s.calls <= 1, nil
}

func TestReceiveRechecksLocationInsideTransaction(t *testing.T) {
	f := newFixture(ServiceConfig{}, 1)
	ctx := context.Background()

	po := f.orderedOrder(t, 7, OrderItemInput{MaterialID: 1, Quantity: 100, UnitPrice: 2500})
	itemID := f.itemID(t, po.ID, 1)
	f.service.locations = &archivingLocations{target: 5}

	_, err := f.service.Receive(ctx, ReceiveInput{
		OrderID:       po.ID,
		ReceiptNumber: "GRN-77",
		Lines:         []ReceiveLine{{OrderItemID: itemID, LocationID: 5, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Empty(t, f.repo.state.receipts)
	require.Empty(t, f.repo.state.movements)

	stored, items, err := f.service.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, stored.Status)
	require.Zero(t, items[0].ReceivedQty)
	require.Empty(t, f.idem.keys, "failed posting must release the receipt number")
}
