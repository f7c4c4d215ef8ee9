package service

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/telemetry"
	"github.com/dukerupert/parley/internal/tenant"
)

// WebhookOutcome says what happened to one event.
type WebhookOutcome string

const (
	OutcomeApplied    WebhookOutcome = "applied"
	OutcomeDuplicate  WebhookOutcome = "duplicate"
	OutcomeUnresolved WebhookOutcome = "unresolved"
	OutcomeIgnored    WebhookOutcome = "ignored"
	OutcomeFailed     WebhookOutcome = "failed"
)

// WebhookResult describes the handling of one event.
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   WebhookOutcome

	// Set when the tenant was resolved.
	Tenant        *domain.TenantBilling
	Strategy      string
	ChangedFields []string
}

func (s *billingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	const op = "billing.webhook"

	if !s.client.WebhookConfigured() {
		return nil, ErrWebhookNotConfigured
	}

	ev, err := s.client.VerifyEvent(payload, signature)
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		return nil, ErrWebhookNotConfigured
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		telemetry.Billing.WebhookFailure("unknown", "signature")
		return nil, ErrInvalidSignature
	case err != nil:
		s.logger.Warn("undecodable webhook event", "op", op, "error", err)
		telemetry.Billing.WebhookFailure("unknown", "decode")
		return nil, ErrMalformedEvent
	}

	return s.ProcessEvent(ctx, ev)
}

func (s *billingService) ProcessEvent(ctx context.Context, ev billing.Event) (*WebhookResult, error) {
	const op = "billing.process_event"

	start := time.Now()
	meta := ev.Meta()
	result := &WebhookResult{EventID: meta.ID, EventType: meta.Type}
	defer func() {
		telemetry.Billing.ObserveWebhook(meta.Type, string(result.Outcome), time.Since(start))
	}()

	logger := s.logger.With("event_id", meta.ID, "event_type", meta.Type)

	if _, ok := ev.(*billing.Unrecognized); ok {
		result.Outcome = OutcomeIgnored
		logger.Debug("ignoring unhandled event type")
		return result, nil
	}

	if meta.ID == "" {
		result.Outcome = OutcomeFailed
		telemetry.Billing.WebhookFailure(meta.Type, "missing_id")
		return nil, domain.Errorf(domain.EINVALID, op, "Event has no id")
	}

	rec, strategy, err := s.resolver.Resolve(ctx, tenant.Ref(ev.Tenant()))
	if errors.Is(err, tenant.ErrTenantNotFound) {
		result.Outcome = OutcomeUnresolved
		logger.Info("no tenant for event", "customer_id", ev.Tenant().CustomerID)
		return result, nil
	}
	if err != nil {
		result.Outcome = OutcomeFailed
		telemetry.Billing.WebhookFailure(meta.Type, "resolve")
		return nil, domain.Internal(err, op, "Failed to resolve tenant")
	}
	result.Strategy = strategy

	now := s.now()
	var changed []string
	var applied, duplicate bool

	updated, err := s.store.Update(ctx, rec.TenantID, func(cur *domain.TenantBilling) (bool, error) {
		changed, applied, duplicate = nil, false, false

		if cur.LastExternalEventID == meta.ID {
			duplicate = true
			return false, nil
		}

		before := cur.Clone()
		if !s.applyEvent(cur, ev, now) {
			return false, nil
		}
		cur.LastExternalEventID = meta.ID
		changed = changedFields(before, cur)
		applied = true
		return true, nil
	})
	if err != nil {
		if isNotFound(err) {
			result.Outcome = OutcomeUnresolved
			return result, nil
		}
		result.Outcome = OutcomeFailed
		telemetry.Billing.WebhookFailure(meta.Type, "store")
		return nil, domain.Internal(err, op, "Failed to persist billing event")
	}

	result.Tenant = updated
	result.ChangedFields = changed

	switch {
	case duplicate:
		result.Outcome = OutcomeDuplicate
		logger.Debug("event already applied", "tenant_id", updated.TenantID)
		return result, nil
	case !applied:
		result.Outcome = OutcomeIgnored
		logger.Info("event does not apply to tenant state", "tenant_id", updated.TenantID)
		return result, nil
	}

	result.Outcome = OutcomeApplied
	logger.Info("billing event applied",
		"tenant_id", updated.TenantID,
		"billing_status", updated.BillingStatus,
		"changed", changed,
	)

	details := map[string]any{
		"eventId":       meta.ID,
		"eventType":     meta.Type,
		"billingStatus": updated.BillingStatus,
		"planStatus":    updated.PlanStatus,
		"planKey":       updated.PlanKey,
		"changedFields": changed,
		"resolvedBy":    strategy,
	}
	if updated.GraceEndsAt != nil {
		details["graceEndsAt"] = updated.GraceEndsAt.Format(time.RFC3339)
	}
	s.audit.Record(ctx, audit.Entry{
		TenantID: updated.TenantID,
		Actor:    domain.ActorFromContext(ctx, domain.ActorWebhook),
		Action:   audit.ActionWebhookApplied,
		Details:  details,
	})

	return result, nil
}

// applyEvent runs the transition for one event against rec. It reports
// false when the event carries nothing to apply to this tenant.
func (s *billingService) applyEvent(rec *domain.TenantBilling, ev billing.Event, now time.Time) bool {
	switch e := ev.(type) {
	case *billing.CheckoutCompleted:
		if e.Ref.CustomerID != "" {
			rec.ExternalCustomerID = e.Ref.CustomerID
		}
		if e.SubscriptionID != "" {
			rec.ExternalSubscriptionID = e.SubscriptionID
		}
		if e.PlanKey != "" {
			rec.PlanKey = e.PlanKey
		}
		markActive(rec)
		return true

	case *billing.SubscriptionChanged:
		// A deletion of some older subscription must not unlink the current one.
		if e.Deleted && rec.ExternalSubscriptionID != "" && rec.ExternalSubscriptionID != e.Subscription.ID {
			return false
		}
		adoptSubscription(rec, &e.Subscription, s.catalog)
		switch {
		case rec.BillingStatus.IsHealthy():
			clearFailure(rec)
		case rec.BillingStatus.IsFailure():
			holdGrace(rec, now, s.grace())
		}
		return true

	case *billing.InvoicePaid:
		markActive(rec)
		return true

	case *billing.InvoicePaymentFailed:
		rec.BillingStatus = domain.BillingStatusPastDue
		rec.PlanStatus = domain.PlanStatusPastDue
		startGrace(rec, now, s.grace())
		return true
	}

	return false
}
