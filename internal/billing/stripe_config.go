package billing

import (
	"errors"
	"strings"
	"time"
)

// DefaultTimeout bounds every individual remote call.
const DefaultTimeout = 8 * time.Second

// StripeConfig contains configuration for the Stripe client.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...).
	// Empty puts the client in not-configured mode.
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...).
	WebhookSecret string

	// APIBaseURL overrides the API endpoint (stripe-mock, tests).
	APIBaseURL string

	// Timeout bounds each remote call. Default: 8s
	Timeout time.Duration

	// MaxRetries is the SDK's network retry count. Default: 0, since
	// reconciliation retries are the caller's job.
	MaxRetries int64

	// RateLimit caps outbound requests per second. Zero disables the limiter.
	RateLimit float64
}

// Validate checks the configuration for values that can never work.
// Missing credentials are not an error: they select not-configured mode.
func (c *StripeConfig) Validate() error {
	if c.APIKey != "" && !strings.HasPrefix(c.APIKey, "sk_") && !strings.HasPrefix(c.APIKey, "rk_") {
		return errors.New("stripe: API key must start with sk_ or rk_")
	}
	if c.Timeout < 0 {
		return errors.New("stripe: timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("stripe: rate limit must not be negative")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_") || strings.HasPrefix(c.APIKey, "rk_test_")
}

func (c *StripeConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
