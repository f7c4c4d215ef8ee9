package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/time/rate"

	"github.com/dukerupert/parley/internal/telemetry"
)

// StripeClient implements Client against the Stripe API. It holds its own
// backend and per-resource clients instead of the SDK's package globals, so
// several instances (tests, stripe-mock) can coexist in one process.
type StripeClient struct {
	config  StripeConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	customers     *customer.Client
	subscriptions *subscription.Client
	checkout      *checkoutsession.Client
	portal        *portalsession.Client
	coupons       *coupon.Client
}

var _ Client = (*StripeClient)(nil)

// NewStripeClient builds a client from configuration. A config without an API
// key yields a client in not-configured mode; it never errors for that reason.
func NewStripeClient(cfg StripeConfig, logger *slog.Logger) (*StripeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stripe")

	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		},
		LeveledLogger:     &stripeLogger{logger: logger},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if cfg.APIBaseURL != "" {
		backendCfg.URL = stripe.String(cfg.APIBaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	c := &StripeClient{
		config:        cfg,
		logger:        logger,
		customers:     &customer.Client{B: backend, Key: cfg.APIKey},
		subscriptions: &subscription.Client{B: backend, Key: cfg.APIKey},
		checkout:      &checkoutsession.Client{B: backend, Key: cfg.APIKey},
		portal:        &portalsession.Client{B: backend, Key: cfg.APIKey},
		coupons:       &coupon.Client{B: backend, Key: cfg.APIKey},
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if !c.Configured() {
		logger.Warn("stripe API key not set, billing integration disabled")
	} else if cfg.IsTestMode() {
		logger.Info("stripe client in test mode")
	}

	return c, nil
}

// Configured reports whether an API key is present.
func (c *StripeClient) Configured() bool {
	return c.config.APIKey != ""
}

// WebhookConfigured reports whether a webhook signing secret is present.
func (c *StripeClient) WebhookConfigured() bool {
	return c.config.WebhookSecret != ""
}

// VerifyEvent verifies the Stripe-Signature header and decodes the event.
func (c *StripeClient) VerifyEvent(payload []byte, signature string) (Event, error) {
	if !c.WebhookConfigured() {
		return nil, ErrNotConfigured
	}
	if signature == "" {
		return nil, ErrInvalidWebhookSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data object", event.ID)
	}

	return ParseEvent(EventMeta{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: unixTime(event.Created),
	}, event.Data.Raw)
}

// GetCustomer fetches one customer.
func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out *Customer
	err := c.call(ctx, "get_customer", func(ctx context.Context) error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := c.customers.Get(customerID, params)
		if err != nil {
			return err
		}
		out = &Customer{ID: cust.ID, Email: cust.Email, Deleted: cust.Deleted, Metadata: cust.Metadata}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Deleted {
		return out, ErrCustomerDeleted
	}
	return out, nil
}

// ListSubscriptions lists every subscription of the customer, in any status,
// with the latest invoice expanded.
func (c *StripeClient) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var out []Subscription
	err := c.call(ctx, "list_subscriptions", func(ctx context.Context) error {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Context = ctx
		params.Limit = stripe.Int64(100)
		params.AddExpand("data.latest_invoice")

		iter := c.subscriptions.List(params)
		for iter.Next() {
			out = append(out, fromStripeSubscription(iter.Subscription()))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session tagged
// with the tenant so the completion webhook can be routed back.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*Session, error) {
	metadata := map[string]string{
		MetadataTenantID:  p.TenantID,
		MetadataTenantKey: p.TenantKey,
		MetadataPlanKey:   p.PlanKey,
	}

	var out *Session
	err := c.call(ctx, "create_checkout_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			ClientReferenceID: stripe.String(p.TenantID),
			SuccessURL:        stripe.String(p.SuccessURL),
			CancelURL:         stripe.String(p.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
			},
			Metadata: metadata,
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: metadata,
			},
		}
		if p.CustomerID != "" {
			params.Customer = stripe.String(p.CustomerID)
		}
		if p.PromoCode != "" {
			params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(p.PromoCode)}}
		}
		params.Context = ctx

		sess, err := c.checkout.New(params)
		if err != nil {
			return err
		}
		out = &Session{ID: sess.ID, URL: sess.URL}
		return nil
	})
	return out, err
}

// CreatePortalSession opens the customer billing portal.
func (c *StripeClient) CreatePortalSession(ctx context.Context, p PortalSessionParams) (*Session, error) {
	var out *Session
	err := c.call(ctx, "create_portal_session", func(ctx context.Context) error {
		params := &stripe.BillingPortalSessionParams{
			Customer:  stripe.String(p.CustomerID),
			ReturnURL: stripe.String(p.ReturnURL),
		}
		params.Context = ctx

		sess, err := c.portal.New(params)
		if err != nil {
			return err
		}
		out = &Session{ID: sess.ID, URL: sess.URL}
		return nil
	})
	return out, err
}

// ValidatePromoCode checks that the coupon exists and can still be redeemed.
func (c *StripeClient) ValidatePromoCode(ctx context.Context, code string) error {
	return c.call(ctx, "get_coupon", func(ctx context.Context) error {
		params := &stripe.CouponParams{}
		params.Context = ctx
		cp, err := c.coupons.Get(code, params)
		if err != nil {
			var se *stripe.Error
			if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
				return ErrInvalidPromoCode
			}
			return err
		}
		if !cp.Valid {
			return ErrInvalidPromoCode
		}
		return nil
	})
}

// call runs fn under the per-call timeout. The deadline is derived from a
// context that keeps the caller's values but not its cancellation, so a call
// ends only by completing or by timing out.
func (c *StripeClient) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.timeout())
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx); err != nil {
			return fmt.Errorf("%s: %w", op, ErrRemoteTimeout)
		}
	}

	start := time.Now()
	err := fn(callCtx)
	telemetry.Billing.ObserveRemoteCall(op, time.Since(start), err)

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidPromoCode) || errors.Is(err, ErrCustomerDeleted) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("stripe call timed out", "operation", op, "timeout", c.config.timeout())
		return fmt.Errorf("%s: %w", op, ErrRemoteTimeout)
	}
	return fmt.Errorf("%s: %w", op, wrapStripeError(err))
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	return &StripeError{
		Message:       se.Msg,
		Code:          string(se.Code),
		Type:          string(se.Type),
		HTTPStatus:    se.HTTPStatusCode,
		RequestID:     se.RequestID,
		OriginalError: err,
	}
}

func fromStripeSubscription(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		Created:           unixTime(s.Created),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          unixTimePtr(s.TrialEnd),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			sub.PriceID = item.Price.ID
		}
		sub.CurrentPeriodEnd = unixTimePtr(item.CurrentPeriodEnd)
	}
	if inv := s.LatestInvoice; inv != nil && inv.ID != "" {
		sub.LatestInvoice = &Invoice{
			ID:        inv.ID,
			Status:    string(inv.Status),
			Attempted: inv.Attempted,
		}
	}
	return sub
}

// stripeLogger routes SDK logging through slog.
type stripeLogger struct {
	logger *slog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
