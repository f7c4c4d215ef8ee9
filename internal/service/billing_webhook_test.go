package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

func subscriptionEvent(id, eventType, tenantKey string, s billing.Subscription) *billing.SubscriptionChanged {
	return &billing.SubscriptionChanged{
		EventMeta:    billing.EventMeta{ID: id, Type: eventType, Created: baseTime},
		Ref:          billing.TenantRef{TenantKey: tenantKey, CustomerID: s.CustomerID},
		Subscription: s,
		Deleted:      eventType == billing.EventSubscriptionDeleted,
	}
}

func paymentFailedEvent(id, customerID string) *billing.InvoicePaymentFailed {
	return &billing.InvoicePaymentFailed{
		EventMeta:    billing.EventMeta{ID: id, Type: billing.EventInvoicePaymentFailed},
		Ref:          billing.TenantRef{CustomerID: customerID},
		InvoiceID:    "in_1",
		AttemptCount: 1,
	}
}

func TestProcessEvent_CheckoutCompleted(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "", func(r *domain.TenantBilling) {
		r.BillingStatus = domain.BillingStatusPastDue
		r.GraceEndsAt = domain.TimePtr(baseTime.Add(-time.Hour))
		r.BillingLockedAt = domain.TimePtr(baseTime.Add(-time.Minute))
	})

	res, err := env.svc.ProcessEvent(context.Background(), &billing.CheckoutCompleted{
		EventMeta:      billing.EventMeta{ID: "evt_co", Type: billing.EventCheckoutCompleted},
		Ref:            billing.TenantRef{TenantID: rec.TenantID.String(), CustomerID: "cus_new"},
		SubscriptionID: "sub_new",
		PlanKey:        "pro",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "tenant_id", res.Strategy)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, "cus_new", got.ExternalCustomerID)
	assert.Equal(t, "sub_new", got.ExternalSubscriptionID)
	assert.Equal(t, domain.BillingStatusActive, got.BillingStatus)
	assert.Equal(t, domain.PlanStatusActive, got.PlanStatus)
	assert.Equal(t, "pro", got.PlanKey)
	assert.Nil(t, got.GraceEndsAt)
	assert.Nil(t, got.BillingLockedAt)
	assert.Equal(t, "evt_co", got.LastExternalEventID)
	assert.Equal(t, []string{audit.ActionWebhookApplied}, env.audit.Actions())
}

func TestProcessEvent_CheckoutKeepsPlanWithoutMetadata(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) { r.PlanKey = "starter" })

	_, err := env.svc.ProcessEvent(context.Background(), &billing.CheckoutCompleted{
		EventMeta: billing.EventMeta{ID: "evt_co", Type: billing.EventCheckoutCompleted},
		Ref:       billing.TenantRef{TenantKey: "acme"},
	})
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, "starter", got.PlanKey)
	assert.Equal(t, "cus_1", got.ExternalCustomerID)
}

func TestProcessEvent_SubscriptionStatusMapping(t *testing.T) {
	tests := []struct {
		status     string
		wantStatus domain.BillingStatus
		wantPlan   domain.PlanStatus
		wantGrace  bool
	}{
		{"trialing", domain.BillingStatusTrialing, domain.PlanStatusActive, false},
		{"active", domain.BillingStatusActive, domain.PlanStatusActive, false},
		{"past_due", domain.BillingStatusPastDue, domain.PlanStatusPastDue, true},
		{"canceled", domain.BillingStatusCanceled, domain.PlanStatusCanceled, false},
		{"unpaid", domain.BillingStatusUnpaid, domain.PlanStatusInactive, true},
		{"incomplete", domain.BillingStatusIncomplete, domain.PlanStatusInactive, false},
		{"paused", domain.BillingStatusNone, domain.PlanStatusInactive, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.seed("acme", "cus_1", nil)

			s := sub("sub_1", tt.status, baseTime)
			s.CurrentPeriodEnd = domain.TimePtr(baseTime.Add(days(30)))
			_, err := env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, "acme", s))
			require.NoError(t, err)

			got := env.store.Get(rec.TenantID)
			assert.Equal(t, tt.wantStatus, got.BillingStatus)
			assert.Equal(t, tt.wantPlan, got.PlanStatus)
			assert.Equal(t, "pro", got.PlanKey)
			assert.Equal(t, "sub_1", got.ExternalSubscriptionID)
			assert.Equal(t, "price_pro", got.ExternalPriceID)
			assert.True(t, domain.EqualTime(s.CurrentPeriodEnd, got.CurrentPeriodEnd))
			if tt.wantGrace {
				require.NotNil(t, got.GraceEndsAt)
				assert.Equal(t, baseTime.Add(days(7)), *got.GraceEndsAt)
			} else {
				assert.Nil(t, got.GraceEndsAt)
			}
		})
	}
}

func TestProcessEvent_PlanKeyResolution(t *testing.T) {
	tests := []struct {
		name     string
		priceID  string
		metadata map[string]string
		want     string
	}{
		{"catalog price", "price_starter", map[string]string{billing.MetadataPlanKey: "pro"}, "starter"},
		{"metadata fallback", "price_unknown", map[string]string{billing.MetadataPlanKey: "enterprise"}, "enterprise"},
		{"current plan fallback", "price_unknown", nil, "legacy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) { r.PlanKey = "legacy" })

			s := sub("sub_1", "active", baseTime)
			s.PriceID = tt.priceID
			s.Metadata = tt.metadata
			_, err := env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, "acme", s))
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.store.Get(rec.TenantID).PlanKey)
		})
	}
}

func TestProcessEvent_ActiveClearsFailureState(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.BillingStatus = domain.BillingStatusPastDue
		r.LastPaymentFailureAt = domain.TimePtr(baseTime.Add(-days(10)))
		r.GraceEndsAt = domain.TimePtr(baseTime.Add(-days(3)))
		r.BillingLockedAt = domain.TimePtr(baseTime.Add(-days(2)))
	})

	_, err := env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, "acme", sub("sub_1", "active", baseTime)))
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Nil(t, got.LastPaymentFailureAt)
	assert.Nil(t, got.GraceEndsAt)
	assert.Nil(t, got.BillingLockedAt)
	assert.False(t, got.Lock(env.clock.Now()).Locked)
}

func TestProcessEvent_IncompleteDropsLockTimestamp(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.BillingStatus = domain.BillingStatusPastDue
		r.PlanStatus = domain.PlanStatusPastDue
		r.LastPaymentFailureAt = domain.TimePtr(baseTime.Add(-days(10)))
		r.GraceEndsAt = domain.TimePtr(baseTime.Add(-days(3)))
		r.BillingLockedAt = domain.TimePtr(baseTime.Add(-days(1)))
	})

	_, err := env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, "acme", sub("sub_1", "incomplete", baseTime)))
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, domain.BillingStatusIncomplete, got.BillingStatus)
	assert.Nil(t, got.BillingLockedAt)
	// The elapsed deadline still locks through the policy.
	require.NotNil(t, got.GraceEndsAt)
	assert.Equal(t, domain.LockDecision{Locked: true, Reason: domain.LockReasonGraceExpired}, got.Lock(env.clock.Now()))
}

func TestProcessEvent_InvoicePaidWinsOverStaleFailure(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.BillingStatus = domain.BillingStatusUnpaid
		r.PlanStatus = domain.PlanStatusInactive
		r.GraceEndsAt = domain.TimePtr(baseTime.Add(-days(1)))
		r.BillingLockedAt = domain.TimePtr(baseTime)
	})

	_, err := env.svc.ProcessEvent(context.Background(), &billing.InvoicePaid{
		EventMeta: billing.EventMeta{ID: "evt_paid", Type: billing.EventInvoicePaid},
		Ref:       billing.TenantRef{CustomerID: "cus_1"},
	})
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, domain.BillingStatusActive, got.BillingStatus)
	assert.Equal(t, domain.PlanStatusActive, got.PlanStatus)
	assert.Nil(t, got.GraceEndsAt)
	assert.Nil(t, got.BillingLockedAt)
}

func TestProcessEvent_PaymentFailedAlwaysRestartsGrace(t *testing.T) {
	env := newTestEnv(t)
	oldDeadline := baseTime.Add(days(2))
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.BillingStatus = domain.BillingStatusPastDue
		r.LastPaymentFailureAt = domain.TimePtr(baseTime.Add(-days(5)))
		r.GraceEndsAt = domain.TimePtr(oldDeadline)
	})

	_, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent("evt_fail", "cus_1"))
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, domain.BillingStatusPastDue, got.BillingStatus)
	assert.Equal(t, domain.PlanStatusPastDue, got.PlanStatus)
	assert.Equal(t, baseTime, *got.LastPaymentFailureAt)
	require.NotNil(t, got.GraceEndsAt)
	assert.Equal(t, baseTime.Add(days(7)), *got.GraceEndsAt)
	assert.NotEqual(t, oldDeadline, *got.GraceEndsAt)
}

func TestProcessEvent_DuplicateIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", nil)
	ev := subscriptionEvent("evt_dup", billing.EventSubscriptionUpdated, "acme", sub("sub_1", "past_due", baseTime))

	first, err := env.svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	afterFirst := env.store.Get(rec.TenantID)
	writes := env.store.Writes

	env.clock.Advance(time.Hour)
	second, err := env.svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Empty(t, second.ChangedFields)

	assert.Equal(t, writes, env.store.Writes)
	assert.Equal(t, afterFirst, env.store.Get(rec.TenantID))
	assert.Len(t, env.audit.Actions(), 1)
}

func TestProcessEvent_WatermarkAdvancesWithTransition(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", nil)

	ids := []string{"evt_a", "evt_b", "evt_b", "evt_c"}
	for _, id := range ids {
		_, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent(id, "cus_1"))
		require.NoError(t, err)
		assert.Equal(t, id, env.store.Get(rec.TenantID).LastExternalEventID)
	}
	assert.Equal(t, 3, env.store.Writes)
}

func TestProcessEvent_RejectsEventWithoutID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) { r.LastExternalEventID = "evt_prev" })

	_, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent("", "cus_1"))
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, "evt_prev", got.LastExternalEventID)
	assert.Nil(t, got.GraceEndsAt)
	assert.Zero(t, env.store.Writes)
	assert.Empty(t, env.audit.Actions())
}

func TestProcessEvent_StoreFailureLeavesWatermark(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) { r.LastExternalEventID = "evt_prev" })
	env.store.UpdateErr = errors.New("connection reset")

	_, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent("evt_new", "cus_1"))
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Equal(t, "evt_prev", env.store.Get(rec.TenantID).LastExternalEventID)
	assert.Empty(t, env.audit.Actions())

	// Redelivery after recovery applies the event once.
	env.store.UpdateErr = nil
	res, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent("evt_new", "cus_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "evt_new", env.store.Get(rec.TenantID).LastExternalEventID)
}

func TestProcessEvent_UnresolvedTenantIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme", "cus_1", nil)

	res, err := env.svc.ProcessEvent(context.Background(), paymentFailedEvent("evt_1", "cus_someone_else"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, res.Outcome)
	assert.Zero(t, env.store.Writes)
	assert.Empty(t, env.audit.Actions())
}

func TestProcessEvent_UnrecognizedIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.seed("acme", "cus_1", nil)

	res, err := env.svc.ProcessEvent(context.Background(), &billing.Unrecognized{
		EventMeta: billing.EventMeta{ID: "evt_x", Type: "customer.tax_id.created"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, env.store.Writes)
}

func TestProcessEvent_DeletedOtherSubscriptionIgnored(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.ExternalSubscriptionID = "sub_current"
		r.BillingStatus = domain.BillingStatusActive
		r.PlanStatus = domain.PlanStatusActive
	})

	res, err := env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_del", billing.EventSubscriptionDeleted, "acme", sub("sub_old", "canceled", baseTime)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, domain.BillingStatusActive, env.store.Get(rec.TenantID).BillingStatus)

	res, err = env.svc.ProcessEvent(context.Background(), subscriptionEvent("evt_del2", billing.EventSubscriptionDeleted, "acme", sub("sub_current", "canceled", baseTime)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.BillingStatusCanceled, env.store.Get(rec.TenantID).BillingStatus)
}

func TestProcessEvent_ManualOverrideUntouched(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("acme", "cus_1", func(r *domain.TenantBilling) {
		r.ManualLock = domain.ManualLockLocked
		r.ManualLockReason = "fraud review"
	})

	_, err := env.svc.ProcessEvent(context.Background(), &billing.InvoicePaid{
		EventMeta: billing.EventMeta{ID: "evt_paid", Type: billing.EventInvoicePaid},
		Ref:       billing.TenantRef{CustomerID: "cus_1"},
	})
	require.NoError(t, err)

	got := env.store.Get(rec.TenantID)
	assert.Equal(t, domain.ManualLockLocked, got.ManualLock)
	assert.Equal(t, "fraud review", got.ManualLockReason)
	assert.Equal(t, domain.LockDecision{Locked: true, Reason: domain.LockReasonManualLock}, got.Lock(env.clock.Now()))
}

func TestHandleWebhook(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.WebhookNotConfigured = true

		_, err := env.svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=abc")
		assert.ErrorIs(t, err, ErrWebhookNotConfigured)
		assert.Empty(t, env.client.Calls())
	})

	t.Run("bad signature", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed("acme", "cus_1", nil)

		_, err := env.svc.HandleWebhook(context.Background(), []byte(`{}`), "bogus")
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
		assert.Zero(t, env.store.Writes)
	})

	t.Run("undecodable", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.VerifyEventFunc = func([]byte, string) (billing.Event, error) {
			return nil, errors.New("decode customer.subscription.updated: unexpected end of JSON input")
		}

		_, err := env.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("verified event is applied", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed("acme", "cus_1", nil)
		env.client.VerifyEventFunc = func([]byte, string) (billing.Event, error) {
			return paymentFailedEvent("evt_1", "cus_1"), nil
		}

		res, err := env.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, domain.BillingStatusPastDue, env.store.Get(rec.TenantID).BillingStatus)
	})
}
