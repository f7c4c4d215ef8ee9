package service

import (
	"sort"
	"time"

	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

// Transition helpers shared by the webhook and reconciliation paths. They
// mutate a record in place and never touch the operator override fields or
// the bookkeeping fields of either path.

// adoptSubscription copies a remote subscription onto the record: references,
// mapped statuses, period fields and the resolved plan key. A lock timestamp
// is dropped when the new status cannot hold one; the remaining failure
// fields are left to the caller.
func adoptSubscription(rec *domain.TenantBilling, sub *billing.Subscription, catalog *domain.PlanCatalog) {
	if sub.CustomerID != "" {
		rec.ExternalCustomerID = sub.CustomerID
	}
	rec.ExternalSubscriptionID = sub.ID
	rec.ExternalPriceID = sub.PriceID
	rec.BillingStatus, rec.PlanStatus = domain.MapSubscriptionStatus(sub.Status)
	rec.PlanKey = catalog.ResolvePlanKey(sub.PriceID, sub.Metadata[billing.MetadataPlanKey], rec.PlanKey)
	rec.CurrentPeriodEnd = copyTime(sub.CurrentPeriodEnd)
	rec.TrialEndsAt = copyTime(sub.TrialEnd)
	rec.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if !rec.BillingStatus.CanHoldLock() {
		rec.BillingLockedAt = nil
	}
}

// resetToUnlinked degrades a record to the no-relationship state.
func resetToUnlinked(rec *domain.TenantBilling, defaultPlan string) {
	rec.ExternalSubscriptionID = ""
	rec.ExternalPriceID = ""
	rec.BillingStatus = domain.BillingStatusNone
	rec.PlanStatus = domain.PlanStatusInactive
	rec.PlanKey = defaultPlan
	rec.CurrentPeriodEnd = nil
	rec.TrialEndsAt = nil
	rec.CancelAtPeriodEnd = false
}

// markActive records a successful payment.
func markActive(rec *domain.TenantBilling) {
	rec.BillingStatus = domain.BillingStatusActive
	rec.PlanStatus = domain.PlanStatusActive
	clearFailure(rec)
}

// clearFailure ends a failure episode.
func clearFailure(rec *domain.TenantBilling) {
	rec.LastPaymentFailureAt = nil
	rec.GraceEndsAt = nil
	rec.BillingLockedAt = nil
}

// startGrace opens a new failure episode, replacing any previous deadline.
func startGrace(rec *domain.TenantBilling, now time.Time, grace time.Duration) {
	rec.LastPaymentFailureAt = domain.TimePtr(now)
	rec.GraceEndsAt = domain.TimePtr(now.Add(grace))
}

// holdGrace continues an ongoing failure episode. An unexpired deadline is
// kept as is. An elapsed deadline is kept for reporting and the lock is set
// if the status can hold one. Only a record without a deadline gets a new one.
func holdGrace(rec *domain.TenantBilling, now time.Time, grace time.Duration) {
	switch {
	case rec.GraceEndsAt == nil:
		startGrace(rec, now, grace)
	case !now.Before(*rec.GraceEndsAt):
		if rec.BillingLockedAt == nil && rec.BillingStatus.CanHoldLock() {
			rec.BillingLockedAt = domain.TimePtr(now)
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return domain.TimePtr(*t)
}

// billingField reads one persisted billing field for comparison.
type billingField struct {
	name  string
	equal func(a, b *domain.TenantBilling) bool
}

var billingFields = []billingField{
	{"externalCustomerId", func(a, b *domain.TenantBilling) bool { return a.ExternalCustomerID == b.ExternalCustomerID }},
	{"externalSubscriptionId", func(a, b *domain.TenantBilling) bool { return a.ExternalSubscriptionID == b.ExternalSubscriptionID }},
	{"externalPriceId", func(a, b *domain.TenantBilling) bool { return a.ExternalPriceID == b.ExternalPriceID }},
	{"billingStatus", func(a, b *domain.TenantBilling) bool { return a.BillingStatus == b.BillingStatus }},
	{"planStatus", func(a, b *domain.TenantBilling) bool { return a.PlanStatus == b.PlanStatus }},
	{"planKey", func(a, b *domain.TenantBilling) bool { return a.PlanKey == b.PlanKey }},
	{"currentPeriodEnd", func(a, b *domain.TenantBilling) bool { return domain.EqualTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) }},
	{"trialEndsAt", func(a, b *domain.TenantBilling) bool { return domain.EqualTime(a.TrialEndsAt, b.TrialEndsAt) }},
	{"cancelAtPeriodEnd", func(a, b *domain.TenantBilling) bool { return a.CancelAtPeriodEnd == b.CancelAtPeriodEnd }},
	{"lastPaymentFailureAt", func(a, b *domain.TenantBilling) bool { return domain.EqualTime(a.LastPaymentFailureAt, b.LastPaymentFailureAt) }},
	{"graceEndsAt", func(a, b *domain.TenantBilling) bool { return domain.EqualTime(a.GraceEndsAt, b.GraceEndsAt) }},
	{"billingLockedAt", func(a, b *domain.TenantBilling) bool { return domain.EqualTime(a.BillingLockedAt, b.BillingLockedAt) }},
}

// changedFields lists the billing fields that differ between two records,
// in a fixed order.
func changedFields(before, after *domain.TenantBilling) []string {
	changed := []string{}
	for _, f := range billingFields {
		if !f.equal(before, after) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

// subscriptionRank orders statuses for selection. Lower wins.
func subscriptionRank(status string) int {
	switch status {
	case "active", "trialing":
		return 0
	case "past_due", "unpaid":
		return 1
	default:
		return 2
	}
}

// SelectSubscription picks the authoritative subscription: healthy before
// delinquent before anything else, then the most recently created. Equal
// creation times fall back to the id so the pick never depends on input
// order. Returns nil for an empty list.
func SelectSubscription(subs []billing.Subscription) *billing.Subscription {
	if len(subs) == 0 {
		return nil
	}
	ranked := make([]billing.Subscription, len(subs))
	copy(ranked, subs)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := subscriptionRank(ranked[i].Status), subscriptionRank(ranked[j].Status)
		if ri != rj {
			return ri < rj
		}
		if !ranked[i].Created.Equal(ranked[j].Created) {
			return ranked[i].Created.After(ranked[j].Created)
		}
		return ranked[i].ID < ranked[j].ID
	})
	return &ranked[0]
}
