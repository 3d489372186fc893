package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestar-erp/lodestar-erp/internal/billing"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/locations"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/materials"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/vendors"
	"github.com/lodestar-erp/lodestar-erp/internal/observability"
	"github.com/lodestar-erp/lodestar-erp/internal/procurement"
	"github.com/lodestar-erp/lodestar-erp/internal/stock"
	"github.com/lodestar-erp/lodestar-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	StockHandler       *stock.Handler
	ProcurementHandler *procurement.Handler
	BillingHandler     *billing.Handler
	MaterialHandler    *materials.Handler
	LocationHandler    *locations.Handler
	VendorHandler      *vendors.Handler
	JobHandler         *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				params.Logger.Warn("healthz db ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.StockHandler != nil {
		r.Route("/stock", params.StockHandler.MountRoutes)
	}
	if params.ProcurementHandler != nil {
		r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	}
	if params.BillingHandler != nil {
		r.Route("/billing", params.BillingHandler.MountRoutes)
	}
	r.Route("/masterdata", func(r chi.Router) {
		if params.MaterialHandler != nil {
			params.MaterialHandler.MountRoutes(r)
		}
		if params.LocationHandler != nil {
			params.LocationHandler.MountRoutes(r)
		}
		if params.VendorHandler != nil {
			params.VendorHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
