package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

func TestSelectSubscription(t *testing.T) {
	t0 := baseTime

	tests := []struct {
		name string
		subs []billing.Subscription
		want string
	}{
		{
			name: "empty",
			subs: nil,
			want: "",
		},
		{
			name: "active beats canceled",
			subs: []billing.Subscription{sub("sub_old", "canceled", t0.Add(days(5))), sub("sub_live", "active", t0)},
			want: "sub_live",
		},
		{
			name: "trialing ranks with active, newest wins",
			subs: []billing.Subscription{sub("sub_a", "active", t0), sub("sub_t", "trialing", t0.Add(days(1)))},
			want: "sub_t",
		},
		{
			name: "past due beats incomplete",
			subs: []billing.Subscription{sub("sub_i", "incomplete", t0.Add(days(3))), sub("sub_p", "past_due", t0)},
			want: "sub_p",
		},
		{
			name: "unpaid ranks with past due",
			subs: []billing.Subscription{sub("sub_p", "past_due", t0), sub("sub_u", "unpaid", t0.Add(days(1)))},
			want: "sub_u",
		},
		{
			name: "newest of the rest",
			subs: []billing.Subscription{sub("sub_c", "canceled", t0), sub("sub_x", "incomplete_expired", t0.Add(days(1)))},
			want: "sub_x",
		},
		{
			name: "equal created falls back to id",
			subs: []billing.Subscription{sub("sub_b", "active", t0), sub("sub_a", "active", t0)},
			want: "sub_a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectSubscription(tt.subs)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestSelectSubscription_Deterministic(t *testing.T) {
	subs := []billing.Subscription{
		sub("sub_1", "canceled", baseTime.Add(days(9))),
		sub("sub_2", "past_due", baseTime.Add(days(4))),
		sub("sub_3", "active", baseTime.Add(days(1))),
		sub("sub_4", "active", baseTime.Add(days(2))),
		sub("sub_5", "active", baseTime.Add(days(2))),
		sub("sub_6", "trialing", baseTime),
	}

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]billing.Subscription(nil), subs...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := SelectSubscription(shuffled)
		require.NotNil(t, got)
		assert.Equal(t, "sub_4", got.ID)
	}

	// Input order is not modified.
	assert.Equal(t, "sub_1", subs[0].ID)
}

func TestHoldGrace(t *testing.T) {
	now := baseTime
	grace := days(7)

	t.Run("starts a window when none exists", func(t *testing.T) {
		rec := &domain.TenantBilling{}
		holdGrace(rec, now, grace)
		require.NotNil(t, rec.GraceEndsAt)
		assert.Equal(t, now.Add(grace), *rec.GraceEndsAt)
		assert.Equal(t, now, *rec.LastPaymentFailureAt)
		assert.Nil(t, rec.BillingLockedAt)
	})

	t.Run("keeps an unexpired window", func(t *testing.T) {
		deadline := now.Add(days(2))
		failedAt := now.Add(-days(5))
		rec := &domain.TenantBilling{GraceEndsAt: domain.TimePtr(deadline), LastPaymentFailureAt: domain.TimePtr(failedAt)}
		holdGrace(rec, now, grace)
		assert.Equal(t, deadline, *rec.GraceEndsAt)
		assert.Equal(t, failedAt, *rec.LastPaymentFailureAt)
		assert.Nil(t, rec.BillingLockedAt)
	})

	t.Run("locks when the window elapsed", func(t *testing.T) {
		deadline := now.Add(-days(1))
		rec := &domain.TenantBilling{GraceEndsAt: domain.TimePtr(deadline)}
		holdGrace(rec, now, grace)
		assert.Equal(t, deadline, *rec.GraceEndsAt)
		require.NotNil(t, rec.BillingLockedAt)
		assert.Equal(t, now, *rec.BillingLockedAt)
	})

	t.Run("keeps an existing lock time", func(t *testing.T) {
		lockedAt := now.Add(-days(1))
		rec := &domain.TenantBilling{GraceEndsAt: domain.TimePtr(now.Add(-days(2))), BillingLockedAt: domain.TimePtr(lockedAt)}
		holdGrace(rec, now, grace)
		assert.Equal(t, lockedAt, *rec.BillingLockedAt)
	})
}

func TestChangedFields(t *testing.T) {
	a := domain.NewTenantBilling(uuid.New(), "acme", "free")
	a.GraceEndsAt = domain.TimePtr(baseTime)

	b := a.Clone()
	assert.Empty(t, changedFields(a, b))

	// Same instant in another location is not a change.
	b.GraceEndsAt = domain.TimePtr(baseTime.In(time.FixedZone("EST", -5*3600)))
	assert.Empty(t, changedFields(a, b))

	b.BillingStatus = domain.BillingStatusActive
	b.PlanStatus = domain.PlanStatusActive
	b.GraceEndsAt = nil
	b.LastExternalEventID = "evt_1"
	assert.Equal(t, []string{"billingStatus", "planStatus", "graceEndsAt"}, changedFields(a, b))
}
