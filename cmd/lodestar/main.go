package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lodestar-erp/lodestar-erp/internal/app"
	"github.com/lodestar-erp/lodestar-erp/internal/billing"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/locations"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/materials"
	"github.com/lodestar-erp/lodestar-erp/internal/masterdata/vendors"
	"github.com/lodestar-erp/lodestar-erp/internal/observability"
	"github.com/lodestar-erp/lodestar-erp/internal/platform/cache"
	"github.com/lodestar-erp/lodestar-erp/internal/platform/db"
	"github.com/lodestar-erp/lodestar-erp/internal/procurement"
	"github.com/lodestar-erp/lodestar-erp/internal/shared"
	"github.com/lodestar-erp/lodestar-erp/internal/stock"
	"github.com/lodestar-erp/lodestar-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLog := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	locationService := locations.NewService(locations.NewRepository(pool))
	materialService := materials.NewService(materials.NewRepository(pool))
	vendorService := vendors.NewService(vendors.NewRepository(pool))

	stockRepo := stock.NewRepository(pool)
	ledger := stock.NewLedger(stockRepo, auditLog)
	stockCache := stock.NewCache(redisClient, cfg.OverviewCacheTTL)
	transfers := stock.NewTransferService(ledger, locationService)

	procurementService := procurement.NewService(
		procurement.NewRepository(pool),
		ledger,
		locationService,
		vendorService,
		queueClient,
		idempotency,
		auditLog,
		procurement.ServiceConfig{AllowOverReceipt: cfg.AllowOverReceipt},
	)

	billingService := billing.NewService(billing.NewRepository(pool), procurementService, auditLog)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StockHandler:       stock.NewHandler(logger, ledger, transfers, stockCache, stockRepo, metrics),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, metrics),
		BillingHandler:     billing.NewHandler(logger, billingService),
		MaterialHandler:    materials.NewHandler(logger, materialService),
		LocationHandler:    locations.NewHandler(logger, locationService),
		VendorHandler:      vendors.NewHandler(logger, vendorService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Pool:               pool,
		Metrics:            metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
