package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by every client method when the
	// integration has no credentials. Callers surface it as "billing disabled".
	ErrNotConfigured = errors.New("billing: integration not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrRemoteTimeout is returned when a remote call exceeds its deadline.
	ErrRemoteTimeout = errors.New("billing: remote call timed out")

	// ErrInvalidPromoCode is returned when a coupon does not exist or has expired.
	ErrInvalidPromoCode = errors.New("billing: invalid promo code")

	// ErrCustomerDeleted is returned when the remote customer has been deleted.
	ErrCustomerDeleted = errors.New("billing: customer deleted")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	Type          string // Stripe error type (e.g., "invalid_request_error")
	HTTPStatus    int    // HTTP status returned by Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsNotFound returns true if the referenced object does not exist.
func (e *StripeError) IsNotFound() bool {
	return e.Code == "resource_missing" || e.HTTPStatus == 404
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Type == "api_error" || e.HTTPStatus == 429 || e.HTTPStatus >= 500
}
