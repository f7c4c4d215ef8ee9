// Package worker runs parley's background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/service"
	"github.com/dukerupert/parley/internal/telemetry"
)

const defaultRunTimeout = 5 * time.Minute

// Reconciler is the part of the billing service the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, req service.ReconcileRequest) (*service.ReconcileReport, error)
}

// Config holds scheduled reconciliation settings
type Config struct {
	// WorkerID identifies this instance in logs
	WorkerID string

	// Interval between batch runs. Zero disables the scheduler.
	Interval time.Duration

	// Batch is the number of linked tenants per run. Zero uses the service default.
	Batch int

	// RunTimeout bounds a single run. Defaults to the interval.
	RunTimeout time.Duration

	// RunOnStart triggers a run immediately instead of waiting a full interval.
	RunOnStart bool
}

// ReconcileScheduler reconciles a batch of linked tenants on a fixed
// interval. A tick that arrives while the previous run is still going is
// skipped.
type ReconcileScheduler struct {
	config     Config
	reconciler Reconciler
	logger     *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	// notConfigured is set once the service reports missing credentials so
	// the warning is logged only once.
	notConfigured bool
}

// NewReconcileScheduler creates a new scheduler
func NewReconcileScheduler(reconciler Reconciler, config Config, logger *slog.Logger) *ReconcileScheduler {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("reconciler-%s", uuid.New().String()[:8])
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = config.Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaultRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconcileScheduler{
		config:     config,
		reconciler: reconciler,
		logger:     logger.With("worker_id", config.WorkerID),
		sem:        make(chan struct{}, 1),
	}
}

// Start runs the schedule until ctx is cancelled, then waits for an
// in-flight run to finish.
func (s *ReconcileScheduler) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		s.logger.Info("reconcile scheduler disabled")
		return nil
	}

	s.logger.Info("reconcile scheduler starting",
		"interval", s.config.Interval,
		"batch", s.config.Batch,
	)

	if s.config.RunOnStart {
		s.trigger(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile scheduler shutting down")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a run unless one is already in flight. Reports whether a
// run was started.
func (s *ReconcileScheduler) trigger(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.Warn("previous reconcile run still in progress, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.RunOnce(ctx)
	}()
	return true
}

// RunOnce reconciles one batch synchronously.
func (s *ReconcileScheduler) RunOnce(ctx context.Context) *service.ReconcileReport {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()
	runCtx = domain.NewContextWithActor(runCtx, domain.ActorScheduler)

	runID := uuid.New()
	report, err := s.reconciler.Reconcile(runCtx, service.ReconcileRequest{
		Limit:   s.config.Batch,
		Trigger: service.TriggerScheduler,
	})
	if err != nil {
		if errors.Is(err, service.ErrBillingNotConfigured) {
			if !s.notConfigured {
				s.logger.Warn("billing not configured, scheduled reconciliation is a no-op")
				s.notConfigured = true
			}
			return nil
		}
		s.logger.Error("scheduled reconcile failed", "run_id", runID, "error", err)
		telemetry.CaptureError(err, map[string]interface{}{"run_id": runID.String()})
		return nil
	}
	s.notConfigured = false

	attrs := []any{
		"run_id", runID,
		"scanned", report.TenantsScanned,
		"updated", report.TenantsUpdated,
		"errors", len(report.Errors),
	}
	if len(report.Errors) > 0 {
		s.logger.Warn("scheduled reconcile finished with errors", attrs...)
	} else {
		s.logger.Info("scheduled reconcile finished", attrs...)
	}
	return report
}
