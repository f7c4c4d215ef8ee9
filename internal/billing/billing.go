// Package billing is the client side of the remote billing system: it verifies
// signed webhook payloads, reads customers and subscriptions, and creates
// hosted checkout and portal sessions.
package billing

import (
	"context"
	"time"
)

// Client is the contract the billing services consume. Every remote call is
// individually time-bounded by the implementation; a timeout surfaces as
// ErrRemoteTimeout. When the integration has no credentials every method
// returns ErrNotConfigured without touching the network.
type Client interface {
	// Configured reports whether the client has API credentials.
	Configured() bool

	// WebhookConfigured reports whether a webhook signing secret is present.
	WebhookConfigured() bool

	// VerifyEvent checks the payload signature and decodes the event.
	VerifyEvent(payload []byte, signature string) (Event, error)

	// GetCustomer fetches one customer.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// ListSubscriptions lists every subscription of a customer with the
	// latest invoice expanded.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// CreateCheckoutSession starts a hosted subscription checkout.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*Session, error)

	// CreatePortalSession opens the hosted billing portal for a customer.
	CreatePortalSession(ctx context.Context, params PortalSessionParams) (*Session, error)

	// ValidatePromoCode checks that a coupon exists and is still redeemable.
	ValidatePromoCode(ctx context.Context, code string) error
}

// Customer is a remote customer record.
type Customer struct {
	ID       string
	Email    string
	Deleted  bool
	Metadata map[string]string
}

// Subscription is the part of a remote subscription the reconciler reads.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	Created           time.Time
	PriceID           string
	CurrentPeriodEnd  *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
	LatestInvoice     *Invoice
}

// Invoice is the latest invoice of a subscription.
type Invoice struct {
	ID        string
	Status    string // draft, open, paid, uncollectible, void
	Attempted bool
}

// Paid reports whether the invoice has been settled.
func (i *Invoice) Paid() bool {
	return i != nil && i.Status == "paid"
}

// IndicatesFailure reports whether the invoice shows a payment problem that
// the subscription status may not reflect yet: a collection attempt that did
// not settle it, or an invoice that is still open.
func (i *Invoice) IndicatesFailure() bool {
	if i == nil {
		return false
	}
	return (!i.Paid() && i.Attempted) || i.Status == "open"
}

// CheckoutSessionParams describes a subscription checkout for one tenant.
type CheckoutSessionParams struct {
	TenantID   string
	TenantKey  string
	PlanKey    string
	PriceID    string
	CustomerID string // optional; reused when the tenant is already linked
	PromoCode  string // optional coupon id
	SuccessURL string
	CancelURL  string
}

// PortalSessionParams describes a billing portal session.
type PortalSessionParams struct {
	CustomerID string
	ReturnURL  string
}

// Session is a hosted page the operator is redirected to.
type Session struct {
	ID  string
	URL string
}

// Metadata keys the platform stamps on remote objects.
const (
	MetadataTenantID  = "tenant_id"
	MetadataTenantKey = "tenant_key"
	MetadataPlanKey   = "plan_key"
)
