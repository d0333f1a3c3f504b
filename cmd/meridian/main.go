package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/ap"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/ar"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/budget"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/payment"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/portal"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	masterdataService := masterdata.NewService(masterdata.NewRepository(dbpool))
	masterdataHandler := masterdata.NewHandler(logger, masterdataService)

	analyticService := analytic.NewService(analytic.NewRepository(dbpool), masterdataService)
	analyticHandler := analytic.NewHandler(logger, analyticService)

	budgetCache := budget.NewCache(redisClient, 10*time.Minute)
	budgetService := budget.NewService(budget.NewRepository(dbpool), budgetCache, logger, metrics)
	budgetHandler := budget.NewHandler(logger, budgetService)

	apService := ap.NewService(ap.NewRepository(dbpool), analyticService, budgetService, auditLogger, logger)
	apHandler := ap.NewHandler(logger, apService)

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), analyticService, apService, auditLogger, logger)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	arRepo := ar.NewRepository(dbpool)
	arService := ar.NewService(arRepo, analyticService, budgetService, auditLogger, logger)
	arHandler := ar.NewHandler(logger, arService)

	salesService := sales.NewService(sales.NewRepository(dbpool), analyticService, arService, auditLogger, logger)
	salesHandler := sales.NewHandler(logger, salesService)

	gateway := payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayAPIURL, cfg.RazorpayTimeout)
	paymentService := payment.NewService(arRepo, payment.NewOrderRepository(dbpool), gateway, idempotencyStore, budgetService, metrics, logger)
	paymentHandler := payment.NewHandler(logger, paymentService)

	portalService := portal.NewService(portal.NewRepository(dbpool), masterdataService, portal.DemoAccount{
		Email:       cfg.PortalDemoEmail,
		Password:    cfg.PortalDemoPassword,
		ContactName: cfg.PortalDemoContact,
	}, logger)
	portalHandler := portal.NewHandler(logger, portalService)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audit.NewHandler(logger, auditService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AnalyticHandler:    analyticHandler,
		BudgetHandler:      budgetHandler,
		MasterDataHandler:  masterdataHandler,
		ProcurementHandler: procurementHandler,
		APHandler:          apHandler,
		SalesHandler:       salesHandler,
		ARHandler:          arHandler,
		PaymentHandler:     paymentHandler,
		PortalHandler:      portalHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
