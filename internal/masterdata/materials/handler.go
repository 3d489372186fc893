package materials

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	mdshared "github.com/lodestar-erp/lodestar-erp/internal/masterdata/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/platform/httpx"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// Handler exposes the material directory.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers material routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/materials", h.list)
	r.Post("/materials", h.create)
	r.Get("/materials/{id}", h.get)
	r.Put("/materials/{id}", h.update)
}

type materialRequest struct {
	Name         string  `json:"name" validate:"required"`
	SKU          string  `json:"sku" validate:"required"`
	Category     string  `json:"category"`
	Unit         string  `json:"unit"`
	MinQuantity  float64 `json:"min_quantity" validate:"gte=0"`
	ReorderPoint float64 `json:"reorder_point" validate:"gte=0"`
	ReorderQty   float64 `json:"reorder_qty" validate:"gte=0"`
}

type materialResponse struct {
	Material
	LowStock     bool `json:"low_stock"`
	NeedsReorder bool `json:"needs_reorder"`
}

func toResponse(m Material) materialResponse {
	return materialResponse{Material: m, LowStock: m.LowStock(), NeedsReorder: m.NeedsReorder()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("per_page"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	filters := mdshared.ListFilters{
		Search:  q.Get("q"),
		SortBy:  q.Get("sort_by"),
		SortDir: q.Get("sort_dir"),
		Page:    page,
		Limit:   limit,
	}
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result := make([]materialResponse, 0, len(items))
	for _, m := range items {
		result = append(result, toResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"materials":  result,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(m))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	m, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(m))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	m, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(m))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Material, bool) {
	var req materialRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return Material{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Material{}, false
	}
	return Material{
		Name:         req.Name,
		SKU:          req.SKU,
		Category:     req.Category,
		Unit:         req.Unit,
		MinQuantity:  req.MinQuantity,
		ReorderPoint: req.ReorderPoint,
		ReorderQty:   req.ReorderQty,
	}, true
}
