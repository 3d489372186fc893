package stock

import (
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

// Handler exposes stock endpoints.
type Handler struct {
	logger    *slog.Logger
	ledger    *Ledger
	transfers *TransferService
	cache     *Cache
	repo      RepositoryPort
	validate  *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, ledger *Ledger, transfers *TransferService, cache *Cache, repo RepositoryPort, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		ledger:    ledger,
		transfers: transfers,
		cache:     cache,
		repo:      repo,
		validate:  validator.New(),
		metrics:   metrics,
	}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.createTransfer)
	r.Get("/overview", h.overview)
	r.Get("/materials/{id}/movements", h.listMovements)
	r.Get("/materials/{id}/locations", h.listLocationStock)
}

type transferRequest struct {
	MaterialID     int64   `json:"material_id" validate:"required,gt=0"`
	FromLocationID int64   `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64   `json:"to_location_id" validate:"required,gt=0"`
	Quantity       float64 `json:"quantity" validate:"required,gt=0"`
	Note           string  `json:"note"`
}

type transferResponse struct {
	RefCode        string  `json:"ref_code"`
	MaterialID     int64   `json:"material_id"`
	FromLocationID int64   `json:"from_location_id"`
	ToLocationID   int64   `json:"to_location_id"`
	Quantity       float64 `json:"quantity"`
	FromBalance    float64 `json:"from_balance"`
	ToBalance      float64 `json:"to_balance"`
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := TransferInput{
		MaterialID:     req.MaterialID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	var outLeg, inLeg Movement
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		outLeg, inLeg, err = h.transfers.Transfer(r.Context(), input)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		h.logger.Warn("stock transfer rejected", slog.Any("error", err), slog.Int64("material_id", req.MaterialID))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.TransferPosted()
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Warn("invalidate overview cache", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusCreated, transferResponse{
		RefCode:        outLeg.RefCode,
		MaterialID:     req.MaterialID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		FromBalance:    outLeg.BalanceAfter,
		ToBalance:      inLeg.BalanceAfter,
	})
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.cache.FetchOverview(r.Context(), h.repo.ListOverview)
	if err != nil {
		h.logger.Error("stock overview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := MovementFilter{
		MaterialID: materialID,
		LocationID: locationID,
		From:       parseTime(r.URL.Query().Get("from")),
		To:         parseTime(r.URL.Query().Get("to")),
		Limit:      limit,
	}
	movements, err := h.ledger.GetMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) listLocationStock(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	rowsOut, err := h.ledger.GetLocationStock(r.Context(), materialID)
	if err != nil {
		h.logger.Error("list location stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rowsOut)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
