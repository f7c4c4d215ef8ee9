// Package bootstrap wires the billing service and its collaborators from
// configuration. The server and the operator CLI share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/parley/internal"
	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/postgres"
	"github.com/dukerupert/parley/internal/service"
	"github.com/dukerupert/parley/internal/telemetry"
)

// Options controls which parts of startup run.
type Options struct {
	// Migrate applies pending migrations before the pool is opened.
	Migrate bool

	// ExtraSinks receive every audit entry alongside the database. The CLI
	// adds a JSON-lines sink so operators see the entries they cause.
	ExtraSinks []audit.Sink
}

// App holds the wired billing stack.
type App struct {
	Config  *internal.Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Store   *postgres.BillingStore
	Client  *billing.StripeClient
	Billing service.BillingService

	nats    *nats.Conn
	closers []func()
}

// Open connects to the database, optionally migrates it, and builds the
// billing service. Close releases everything Open acquired.
func Open(ctx context.Context, cfg *internal.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	if opts.Migrate {
		if err := migrate(cfg.DatabaseUrl, logger); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	app.Pool = pool
	app.closers = append(app.closers, pool.Close)

	catalog, err := cfg.PlanCatalog()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("invalid plan catalog: %w", err)
	}

	stripeCfg := cfg.StripeClientConfig()
	client, err := billing.NewStripeClient(stripeCfg, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize Stripe client: %w", err)
	}
	app.Client = client

	sinks := audit.Multi{postgres.NewAuditSink(pool), audit.NewLogSink(logger)}
	if cfg.NATS.URL != "" {
		conn, err := audit.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			// Audit fan-out is best effort; the database sink still records.
			logger.Warn("NATS unavailable, audit fan-out disabled", "error", err)
		} else {
			app.nats = conn
			app.closers = append(app.closers, func() {
				if err := conn.Drain(); err != nil {
					logger.Warn("nats drain failed", "error", err)
				}
			})
			sinks = append(sinks, audit.NewNATSSink(conn, cfg.NATS.AuditSubject))
		}
	}
	sinks = append(sinks, opts.ExtraSinks...)

	app.Store = postgres.NewBillingStore(pool)
	app.Billing = service.NewBillingService(
		app.Store,
		client,
		audit.NewRecorder(sinks, logger),
		catalog,
		cfg.BillingServiceConfig(),
		logger,
	)

	logger.Info("billing stack ready",
		"stripe_configured", client.Configured(),
		"stripe_test_mode", client.Configured() && stripeCfg.IsTestMode(),
		"webhook_configured", client.WebhookConfigured(),
		"nats_audit", app.nats != nil,
	)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func migrate(databaseURL string, logger *slog.Logger) error {
	db, err := OpenSQL(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")
	return nil
}

// OpenSQL opens a database/sql handle through the pgx driver for goose.
func OpenSQL(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// SentryConfig maps application configuration onto the telemetry settings.
func SentryConfig(cfg *internal.Config) telemetry.SentryConfig {
	env := cfg.Sentry.Environment
	if env == "" {
		env = cfg.Env
	}
	return telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      env,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}
}
