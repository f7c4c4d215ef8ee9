package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillingStatus is the tenant's local copy of the remote subscription status.
type BillingStatus string

const (
	BillingStatusNone       BillingStatus = "none"
	BillingStatusTrialing   BillingStatus = "trialing"
	BillingStatusActive     BillingStatus = "active"
	BillingStatusPastDue    BillingStatus = "past_due"
	BillingStatusCanceled   BillingStatus = "canceled"
	BillingStatusUnpaid     BillingStatus = "unpaid"
	BillingStatusIncomplete BillingStatus = "incomplete"
)

// PlanStatus is the coarse status derived from BillingStatus.
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusPastDue  PlanStatus = "past_due"
	PlanStatusCanceled PlanStatus = "canceled"
	PlanStatusInactive PlanStatus = "inactive"
)

// ManualLock is an operator override of the computed lock decision.
type ManualLock string

const (
	ManualLockNone     ManualLock = ""
	ManualLockLocked   ManualLock = "locked"
	ManualLockUnlocked ManualLock = "unlocked"
)

// MapSubscriptionStatus maps a remote subscription status to the local
// billing and plan statuses. Unknown or empty statuses map to none/inactive.
func MapSubscriptionStatus(remote string) (BillingStatus, PlanStatus) {
	switch remote {
	case "trialing":
		return BillingStatusTrialing, PlanStatusActive
	case "active":
		return BillingStatusActive, PlanStatusActive
	case "past_due":
		return BillingStatusPastDue, PlanStatusPastDue
	case "canceled":
		return BillingStatusCanceled, PlanStatusCanceled
	case "unpaid":
		return BillingStatusUnpaid, PlanStatusInactive
	case "incomplete":
		return BillingStatusIncomplete, PlanStatusInactive
	default:
		return BillingStatusNone, PlanStatusInactive
	}
}

// IsHealthy reports whether the status represents a paying (or trialing) tenant.
func (s BillingStatus) IsHealthy() bool {
	return s == BillingStatusActive || s == BillingStatusTrialing
}

// IsFailure reports whether the status represents an ongoing payment failure.
func (s BillingStatus) IsFailure() bool {
	return s == BillingStatusPastDue || s == BillingStatusUnpaid
}

// CanHoldLock reports whether a billing lock timestamp may be set while the
// tenant is in this status.
func (s BillingStatus) CanHoldLock() bool {
	switch s {
	case BillingStatusPastDue, BillingStatusUnpaid, BillingStatusCanceled, BillingStatusNone:
		return true
	}
	return false
}

// TenantBilling is the locally cached billing state of one tenant.
// Nullable remote references are empty strings; nullable timestamps are nil.
type TenantBilling struct {
	TenantID  uuid.UUID `json:"tenantId"`
	TenantKey string    `json:"tenantKey"`

	ExternalCustomerID     string `json:"externalCustomerId,omitempty"`
	ExternalSubscriptionID string `json:"externalSubscriptionId,omitempty"`
	ExternalPriceID        string `json:"externalPriceId,omitempty"`

	BillingStatus BillingStatus `json:"billingStatus"`
	PlanStatus    PlanStatus    `json:"planStatus"`
	PlanKey       string        `json:"planKey"`

	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	TrialEndsAt       *time.Time `json:"trialEndsAt,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`

	LastPaymentFailureAt *time.Time `json:"lastPaymentFailureAt,omitempty"`
	GraceEndsAt          *time.Time `json:"graceEndsAt,omitempty"`
	BillingLockedAt      *time.Time `json:"billingLockedAt,omitempty"`

	LastExternalEventID string `json:"lastExternalEventId,omitempty"`

	LastReconcileAt      *time.Time        `json:"lastReconcileAt,omitempty"`
	LastReconcileSummary *ReconcileSummary `json:"lastReconcileSummary,omitempty"`

	ManualLock       ManualLock `json:"manualLock,omitempty"`
	ManualLockReason string     `json:"manualLockReason,omitempty"`
	ManualLockAt     *time.Time `json:"manualLockAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTenantBilling returns the empty record created when a tenant is provisioned.
func NewTenantBilling(tenantID uuid.UUID, tenantKey, defaultPlan string) *TenantBilling {
	return &TenantBilling{
		TenantID:      tenantID,
		TenantKey:     tenantKey,
		BillingStatus: BillingStatusNone,
		PlanStatus:    PlanStatusInactive,
		PlanKey:       defaultPlan,
	}
}

// Clone returns a deep copy of the record.
func (b *TenantBilling) Clone() *TenantBilling {
	if b == nil {
		return nil
	}
	c := *b
	c.CurrentPeriodEnd = cloneTime(b.CurrentPeriodEnd)
	c.TrialEndsAt = cloneTime(b.TrialEndsAt)
	c.LastPaymentFailureAt = cloneTime(b.LastPaymentFailureAt)
	c.GraceEndsAt = cloneTime(b.GraceEndsAt)
	c.BillingLockedAt = cloneTime(b.BillingLockedAt)
	c.LastReconcileAt = cloneTime(b.LastReconcileAt)
	c.ManualLockAt = cloneTime(b.ManualLockAt)
	if b.LastReconcileSummary != nil {
		s := *b.LastReconcileSummary
		s.ChangedFields = append([]string(nil), b.LastReconcileSummary.ChangedFields...)
		c.LastReconcileSummary = &s
	}
	return &c
}

// SameState reports whether b and o carry the same billing state. Reconcile
// bookkeeping and row timestamps are ignored.
func (b *TenantBilling) SameState(o *TenantBilling) bool {
	return b.TenantKey == o.TenantKey &&
		b.ExternalCustomerID == o.ExternalCustomerID &&
		b.ExternalSubscriptionID == o.ExternalSubscriptionID &&
		b.ExternalPriceID == o.ExternalPriceID &&
		b.BillingStatus == o.BillingStatus &&
		b.PlanStatus == o.PlanStatus &&
		b.PlanKey == o.PlanKey &&
		EqualTime(b.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		EqualTime(b.TrialEndsAt, o.TrialEndsAt) &&
		b.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		EqualTime(b.LastPaymentFailureAt, o.LastPaymentFailureAt) &&
		EqualTime(b.GraceEndsAt, o.GraceEndsAt) &&
		EqualTime(b.BillingLockedAt, o.BillingLockedAt) &&
		b.LastExternalEventID == o.LastExternalEventID &&
		b.ManualLock == o.ManualLock &&
		b.ManualLockReason == o.ManualLockReason &&
		EqualTime(b.ManualLockAt, o.ManualLockAt)
}

// HasRemoteCustomer reports whether the tenant is linked to the remote billing system.
func (b *TenantBilling) HasRemoteCustomer() bool {
	return b.ExternalCustomerID != ""
}

// Lock evaluates the lock policy against the record's stored fields.
func (b *TenantBilling) Lock(now time.Time) LockDecision {
	return EvaluateLock(LockInput{
		BillingStatus:   b.BillingStatus,
		PlanStatus:      b.PlanStatus,
		GraceEndsAt:     b.GraceEndsAt,
		BillingLockedAt: b.BillingLockedAt,
		ManualLock:      b.ManualLock,
	}, now)
}

// ReconcileSummary describes one reconciliation pass over a tenant.
type ReconcileSummary struct {
	SubscriptionID     string    `json:"subscriptionId,omitempty"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	PriceID            string    `json:"priceId,omitempty"`
	PlanKey            string    `json:"planKey"`
	PaymentFailure     bool      `json:"paymentFailure"`
	ChangedFields      []string  `json:"changedFields"`
	DryRun             bool      `json:"dryRun"`
	At                 time.Time `json:"at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// EqualTime reports whether two nullable timestamps represent the same instant.
func EqualTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
