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

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/catalog/variants"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/branches"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/companies"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/locations"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/units"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// variantGate adapts the catalog service to the valuation core's
// existence check.
type variantGate struct {
	service *variants.Service
}

func (g variantGate) Exists(ctx context.Context, variantID int64) error {
	err := g.service.Exists(ctx, variantID)
	if errors.Is(err, shared.ErrNotFound) {
		return valuation.ErrVariantNotFound
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if app.InTestMode() {
		logger.Info("test mode enabled, skipping server start")
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	companiesService := companies.NewService(companies.NewRepository(pool))
	branchesService := branches.NewService(branches.NewRepository(pool))
	locationsService := locations.NewService(locations.NewRepository(pool))
	unitsService := units.NewService(units.NewRepository(pool))
	variantsService := variants.NewService(variants.NewRepository(pool))

	valuationRepo := valuation.NewRepository(pool)
	summaryCache := valuation.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	policyResolver := valuation.NewPolicyResolver(locationsService, cfg.DefaultCostingPolicy)
	idempotency := shared.NewIdempotencyStore(pool)
	valuationService := valuation.NewService(valuationRepo, variantGate{service: variantsService}, policyResolver, idempotency, summaryCache)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		ValuationHandler: valuation.NewHandler(logger, valuationService),
		CompaniesHandler: companies.NewHandler(logger, companiesService),
		BranchesHandler:  branches.NewHandler(logger, branchesService),
		LocationsHandler: locations.NewHandler(logger, locationsService),
		UnitsHandler:     units.NewHandler(logger, unitsService),
		VariantsHandler:  variants.NewHandler(logger, variantsService),
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
