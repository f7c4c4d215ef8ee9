package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/parley/internal"
	"github.com/dukerupert/parley/internal/bootstrap"
	"github.com/dukerupert/parley/internal/handler/admin"
	"github.com/dukerupert/parley/internal/handler/api"
	"github.com/dukerupert/parley/internal/handler/webhook"
	"github.com/dukerupert/parley/internal/middleware"
	"github.com/dukerupert/parley/internal/router"
	"github.com/dukerupert/parley/internal/routes"
	"github.com/dukerupert/parley/internal/telemetry"
	"github.com/dukerupert/parley/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Error tracking and billing metrics
	flushSentry, err := telemetry.InitSentry(bootstrap.SentryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()
	telemetry.InitBillingMetrics("parley")

	// Database, Stripe client, audit sinks and the billing service
	logger.Info("Connecting to database...")
	app, err := bootstrap.Open(ctx, cfg, logger, bootstrap.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer app.Close()

	// ==========================================================================
	// Middleware
	// ==========================================================================

	metrics := middleware.NewMetrics("parley", nil)

	webhookLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer webhookLimiter.Stop()
	operatorLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer operatorLimiter.Stop()

	if cfg.OperatorToken == "" {
		logger.Warn("OPERATOR_TOKEN not set, operator endpoints will reject every request")
	}

	// ==========================================================================
	// Routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		telemetry.SentryMiddleware(),
		middleware.RequestID,
		metrics.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := app.Pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(app.Billing, logger),
		RateLimit:     webhookLimiter.Middleware,
	})
	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		BillingHandler: admin.NewBillingHandler(app.Billing, logger),
		OperatorToken:  cfg.OperatorToken,
		RateLimit:      operatorLimiter.Middleware,
	})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		LockHandler: api.NewLockHandler(app.Billing, logger),
		Tenant: middleware.TenantConfig{
			BaseDomain: cfg.TenantBaseDomain(),
			Lookup:     app.Store,
			Logger:     logger,
		},
		Lock: app.Billing,
	})

	// ==========================================================================
	// Start server and scheduler
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	scheduler := worker.NewReconcileScheduler(app.Billing, worker.Config{
		Interval: cfg.Billing.ReconcileInterval,
		Batch:    cfg.Billing.ReconcileBatch,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
