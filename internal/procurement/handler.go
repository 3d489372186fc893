package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lodestar-erp/lodestar-erp/internal/observability"
	"github.com/lodestar-erp/lodestar-erp/internal/platform/httpx"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// conflictRetries bounds transparent retries before surfacing ErrConflict.
const conflictRetries = 3

// Handler exposes purchase order and receiving endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		metrics:  metrics,
	}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}", h.updateOrder)
	r.Post("/orders/{id}/send", h.sendOrder)
	r.Post("/orders/{id}/mark-ordered", h.markOrdered)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/receipts", h.receive)
	r.Get("/orders/{id}/receipts", h.listReceipts)
}

type orderItemRequest struct {
	ID         int64   `json:"id"`
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice  float64 `json:"unit_price" validate:"gte=0"`
}

type createOrderRequest struct {
	VendorID         int64              `json:"vendor_id" validate:"required,gt=0"`
	ExpectedDelivery string             `json:"expected_delivery"`
	Notes            string             `json:"notes"`
	Items            []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateOrderRequest struct {
	VendorID         int64              `json:"vendor_id"`
	ExpectedDelivery string             `json:"expected_delivery"`
	Notes            string             `json:"notes"`
	Items            []orderItemRequest `json:"items" validate:"dive"`
}

type receiveLineRequest struct {
	OrderItemID int64   `json:"order_item_id" validate:"required,gt=0"`
	LocationID  int64   `json:"location_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

type receiveRequest struct {
	ReceiptNumber string               `json:"receipt_number"`
	Lines         []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type orderResponse struct {
	Order PurchaseOrder       `json:"order"`
	Items []PurchaseOrderItem `json:"items,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	expected, err := parseDate(req.ExpectedDelivery)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_delivery must be YYYY-MM-DD")
		return
	}

	input := CreateOrderInput{
		VendorID:         req.VendorID,
		ExpectedDelivery: expected,
		Notes:            req.Notes,
		Items:            toItemInputs(req.Items),
		ActorID:          shared.ActorFromContext(r.Context()),
	}
	po, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.logger.Warn("create order rejected", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse{Order: po})
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	expected, err := parseDate(req.ExpectedDelivery)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_delivery must be YYYY-MM-DD")
		return
	}

	input := UpdateOrderInput{
		VendorID:         req.VendorID,
		ExpectedDelivery: expected,
		Notes:            req.Notes,
		Items:            toItemInputs(req.Items),
		ActorID:          shared.ActorFromContext(r.Context()),
	}
	var po PurchaseOrder
	for attempt := 0; attempt < conflictRetries; attempt++ {
		po, err = h.service.UpdateOrder(r.Context(), id, input)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po})
}

func (h *Handler) sendOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SendOrder)
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkOrdered)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var po PurchaseOrder
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		po, err = fn(r.Context(), id, actor)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		h.logger.Warn("order transition rejected", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := ReceiveInput{
		OrderID:       id,
		ReceiptNumber: req.ReceiptNumber,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	for _, ln := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{
			OrderItemID: ln.OrderItemID,
			LocationID:  ln.LocationID,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
		})
	}

	var result ReceiveResult
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		result, err = h.service.Receive(r.Context(), input)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		h.logger.Warn("receipt rejected", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ReceiptPosted()
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po, Items: items})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	filters := ListFilters{
		Status:  Status(q.Get("status")),
		Search:  q.Get("q"),
		SortBy:  q.Get("sort_by"),
		SortDir: q.Get("sort_dir"),
	}
	if v := q.Get("vendor_id"); v != "" {
		vendorID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "vendor_id must be an integer")
			return
		}
		filters.VendorID = vendorID
	}
	orders, total, err := h.service.ListOrders(r.Context(), perPage, (page-1)*perPage, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     orders,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return id, true
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toItemInputs(items []orderItemRequest) []OrderItemInput {
	out := make([]OrderItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemInput{
			ID:         it.ID,
			MaterialID: it.MaterialID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		})
	}
	return out
}
