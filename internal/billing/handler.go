package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lodestar-erp/lodestar-erp/internal/platform/httpx"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

const conflictRetries = 3

// Handler exposes vendor bill endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills", h.listBills)
	r.Post("/bills", h.createBill)
	r.Get("/bills/aging", h.aging)
	r.Get("/bills/{id}", h.getBill)
	r.Post("/bills/{id}/pay", h.markPaid)
}

type lineOverrideRequest struct {
	OrderItemID int64  `json:"order_item_id" validate:"required,gt=0"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

type chargeRequest struct {
	Type   string `json:"type" validate:"required"`
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note"`
}

type createBillRequest struct {
	OrderID   int64                 `json:"order_id" validate:"required,gt=0"`
	Number    string                `json:"number" validate:"required"`
	IssueDate string                `json:"issue_date" validate:"required"`
	DueDate   string                `json:"due_date" validate:"required"`
	Overrides []lineOverrideRequest `json:"overrides" validate:"dive"`
	Charges   []chargeRequest       `json:"charges" validate:"dive"`
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	issue, err := time.Parse("2006-01-02", req.IssueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
		return
	}
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}

	input := CreateFromOrderInput{
		OrderID:   req.OrderID,
		Number:    req.Number,
		IssueDate: issue,
		DueDate:   due,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	for _, ov := range req.Overrides {
		price, err := decimal.NewFromString(ov.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "override unit_price must be a decimal number")
			return
		}
		input.Overrides = append(input.Overrides, LineOverride{OrderItemID: ov.OrderItemID, UnitPrice: price})
	}
	for _, ch := range req.Charges {
		amount, err := decimal.NewFromString(ch.Amount)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge amount must be a decimal number")
			return
		}
		input.Charges = append(input.Charges, ChargeInput{Type: ChargeType(ch.Type), Amount: amount, Note: ch.Note})
	}

	var bill BillWithDetails
	for attempt := 0; attempt < conflictRetries; attempt++ {
		bill, err = h.service.CreateFromOrder(r.Context(), input)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		h.logger.Warn("create bill rejected", slog.Int64("order_id", req.OrderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var bill VendorBill
	for attempt := 0; attempt < conflictRetries; attempt++ {
		bill, err = h.service.MarkPaid(r.Context(), id, actor)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	filters := ListFilters{Status: BillStatus(q.Get("status"))}
	if v := q.Get("vendor_id"); v != "" {
		vendorID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "vendor_id must be an integer")
			return
		}
		filters.VendorID = vendorID
	}
	if v := q.Get("order_id"); v != "" {
		orderID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order_id must be an integer")
			return
		}
		filters.OrderID = orderID
	}
	bills, total, err := h.service.ListBills(r.Context(), perPage, (page-1)*perPage, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"bills":      bills,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	bucket, err := h.service.Aging(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"as_of":   asOf.Format("2006-01-02"),
		"buckets": bucket,
		"total":   bucket.Total(),
	})
}
