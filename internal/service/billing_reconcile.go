package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/telemetry"
)

// Reconcile triggers.
const (
	TriggerOperator  = "operator"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
)

// ReconcileRequest selects what to reconcile. An empty TenantKey means a
// batch of linked tenants, capped at Limit and the configured ceiling.
type ReconcileRequest struct {
	TenantKey string
	DryRun    bool
	Limit     int
	Trigger   string
}

// TenantResult is the outcome of reconciling one tenant.
type TenantResult struct {
	TenantID  uuid.UUID                `json:"tenantId"`
	TenantKey string                   `json:"tenantKey"`
	Updated   bool                     `json:"updated"`
	Summary   *domain.ReconcileSummary `json:"summary,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// ReconcileError is one per-tenant failure inside a report.
type ReconcileError struct {
	TenantID  uuid.UUID `json:"tenantId"`
	TenantKey string    `json:"tenantKey"`
	Error     string    `json:"error"`
}

// ReconcileReport is the outcome of one reconcile request.
type ReconcileReport struct {
	TenantsScanned int              `json:"tenantsScanned"`
	TenantsUpdated int              `json:"tenantsUpdated"`
	DryRun         bool             `json:"dryRun"`
	Results        []TenantResult   `json:"results"`
	Errors         []ReconcileError `json:"errors"`
}

// remoteState is what the remote system says about one customer.
type remoteState struct {
	customerGone bool
	selected     *billing.Subscription
}

func (s *billingService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error) {
	const op = "billing.reconcile"

	if !s.client.Configured() {
		return nil, ErrBillingNotConfigured
	}
	if req.Trigger == "" {
		req.Trigger = TriggerOperator
	}

	var targets []*domain.TenantBilling
	if req.TenantKey != "" {
		rec, err := s.findTenant(ctx, op, req.TenantKey)
		if err != nil {
			return nil, err
		}
		targets = []*domain.TenantBilling{rec}
	} else {
		recs, err := s.store.ListLinked(ctx, s.batchLimit(req.Limit))
		if err != nil {
			return nil, domain.Internal(err, op, "Failed to list tenants")
		}
		targets = recs
	}

	start := time.Now()
	results := make([]TenantResult, len(targets))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, rec := range targets {
		g.Go(func() error {
			results[i] = s.reconcileTenant(ctx, rec, req.DryRun)
			return nil
		})
	}
	_ = g.Wait()

	report := &ReconcileReport{
		TenantsScanned: len(targets),
		DryRun:         req.DryRun,
		Results:        results,
		Errors:         []ReconcileError{},
	}
	unchanged := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			report.Errors = append(report.Errors, ReconcileError{TenantID: r.TenantID, TenantKey: r.TenantKey, Error: r.Error})
		case r.Updated:
			report.TenantsUpdated++
		default:
			unchanged++
		}
	}

	telemetry.Billing.ObserveReconcile(req.Trigger, req.DryRun, report.TenantsUpdated, unchanged, len(report.Errors), time.Since(start))
	s.logger.Info("reconciliation finished",
		"trigger", req.Trigger,
		"dry_run", req.DryRun,
		"scanned", report.TenantsScanned,
		"updated", report.TenantsUpdated,
		"errors", len(report.Errors),
	)

	return report, nil
}

// batchLimit clamps a requested batch size to the configured ceiling.
func (s *billingService) batchLimit(requested int) int {
	switch {
	case requested <= 0:
		return s.config.DefaultBatch
	case requested > s.config.MaxBatch:
		return s.config.MaxBatch
	default:
		return requested
	}
}

// reconcileTenant reconciles one tenant. Failures end up in the result.
func (s *billingService) reconcileTenant(ctx context.Context, rec *domain.TenantBilling, dryRun bool) TenantResult {
	const op = "billing.reconcile_tenant"

	result := TenantResult{TenantID: rec.TenantID, TenantKey: rec.TenantKey}
	logger := s.logger.With("tenant_id", rec.TenantID, "tenant_key", rec.TenantKey)

	fail := func(err error) TenantResult {
		result.Error = domain.ErrorMessage(err)
		if domain.ErrorCode(err) == domain.EINTERNAL {
			logger.Error("reconciliation failed", "op", op, "error", err)
			telemetry.CaptureErrorWithTenant(err, rec.TenantID.String(), map[string]interface{}{
				"tenant_key": rec.TenantKey,
				"dry_run":    dryRun,
			})
		} else {
			logger.Warn("reconciliation failed", "op", op, "error", err)
		}
		return result
	}

	if !rec.HasRemoteCustomer() {
		return fail(ErrNoRemoteCustomer)
	}

	remote, err := s.fetchRemote(ctx, rec.ExternalCustomerID)
	if err != nil {
		return fail(err)
	}

	now := s.now()
	summary := &domain.ReconcileSummary{DryRun: dryRun, At: now}
	if remote.selected != nil {
		summary.SubscriptionID = remote.selected.ID
		summary.SubscriptionStatus = remote.selected.Status
		summary.PriceID = remote.selected.PriceID
	}

	if dryRun {
		target := rec.Clone()
		summary.PaymentFailure = s.deriveFromRemote(target, remote, now)
		summary.PlanKey = target.PlanKey
		summary.ChangedFields = changedFields(rec, target)
		result.Summary = summary
		return result
	}

	var changed bool
	updated, err := s.store.Update(ctx, rec.TenantID, func(cur *domain.TenantBilling) (bool, error) {
		before := cur.Clone()
		summary.PaymentFailure = s.deriveFromRemote(cur, remote, now)
		summary.PlanKey = cur.PlanKey
		summary.ChangedFields = changedFields(before, cur)
		changed = len(summary.ChangedFields) > 0
		cur.LastReconcileAt = domain.TimePtr(now)
		stored := *summary
		stored.ChangedFields = append([]string(nil), summary.ChangedFields...)
		cur.LastReconcileSummary = &stored
		return true, nil
	})
	if err != nil {
		return fail(storeError(err, op))
	}

	result.Summary = summary
	result.Updated = changed
	if !changed {
		return result
	}

	logger.Info("tenant reconciled", "changed", summary.ChangedFields, "billing_status", updated.BillingStatus)
	s.audit.Record(ctx, audit.Entry{
		TenantID: updated.TenantID,
		Actor:    domain.ActorFromContext(ctx, domain.ActorReconcile),
		Action:   audit.ActionReconciled,
		Details: map[string]any{
			"subscriptionId":     summary.SubscriptionID,
			"subscriptionStatus": summary.SubscriptionStatus,
			"priceId":            summary.PriceID,
			"planKey":            summary.PlanKey,
			"paymentFailure":     summary.PaymentFailure,
			"changedFields":      summary.ChangedFields,
		},
	})
	return result
}

// fetchRemote reads the customer and its subscriptions. Each call carries
// its own timeout inside the client.
func (s *billingService) fetchRemote(ctx context.Context, customerID string) (remoteState, error) {
	const op = "billing.fetch_remote"

	if _, err := s.client.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, billing.ErrCustomerDeleted) {
			return remoteState{customerGone: true}, nil
		}
		return remoteState{}, remoteError(err, op, "fetch customer")
	}

	subs, err := s.client.ListSubscriptions(ctx, customerID)
	if err != nil {
		return remoteState{}, remoteError(err, op, "list subscriptions")
	}
	return remoteState{selected: SelectSubscription(subs)}, nil
}

// deriveFromRemote folds remote truth into rec and reports whether a payment
// failure was detected. An invoice failure on an active or trialing
// subscription is reported but leaves the failure fields cleared, since a
// healthy status always clears them.
func (s *billingService) deriveFromRemote(rec *domain.TenantBilling, remote remoteState, now time.Time) bool {
	if remote.customerGone {
		rec.ExternalCustomerID = ""
	}
	sub := remote.selected
	if sub == nil {
		resetToUnlinked(rec, s.catalog.DefaultPlan())
		clearFailure(rec)
		return false
	}

	adoptSubscription(rec, sub, s.catalog)

	// Some failures show on the invoice before the subscription status moves.
	invoiceFailure := sub.LatestInvoice.IndicatesFailure()
	healthy := rec.BillingStatus.IsHealthy()
	if rec.BillingStatus.IsFailure() || (!healthy && invoiceFailure) {
		holdGrace(rec, now, s.grace())
		return true
	}
	clearFailure(rec)
	return invoiceFailure
}

func remoteError(err error, op, action string) error {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		return ErrBillingNotConfigured
	case errors.Is(err, billing.ErrRemoteTimeout):
		return domain.WrapError(err, domain.EREMOTE, op, fmt.Sprintf("Timed out trying to %s", action))
	}
	var se *billing.StripeError
	if errors.As(err, &se) && se.Message != "" {
		return domain.WrapError(err, domain.EREMOTE, op, fmt.Sprintf("Failed to %s: %s", action, se.Message))
	}
	return domain.WrapError(err, domain.EREMOTE, op, fmt.Sprintf("Failed to %s", action))
}
