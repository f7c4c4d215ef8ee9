package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripeClient(t *testing.T, serverURL string, mutate func(*StripeConfig)) *StripeClient {
	t.Helper()
	cfg := StripeConfig{
		APIKey:        "sk_test_parley",
		WebhookSecret: testWebhookSecret,
		APIBaseURL:    serverURL,
		Timeout:       2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewStripeClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStripeClient_GetCustomer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers/cus_123", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer sk_test_parley", r.Header.Get("Authorization"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       "cus_123",
			"object":   "customer",
			"email":    "billing@acme.test",
			"metadata": map[string]string{"tenant_key": "acme"},
		})
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	cust, err := c.GetCustomer(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", cust.ID)
	assert.Equal(t, "billing@acme.test", cust.Email)
	assert.Equal(t, "acme", cust.Metadata["tenant_key"])
}

func TestStripeClient_GetCustomer_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]string{
				"type":    "invalid_request_error",
				"code":    "resource_missing",
				"message": "No such customer: 'cus_gone'",
			},
		})
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	_, err := c.GetCustomer(context.Background(), "cus_gone")
	require.Error(t, err)

	var se *StripeError
	require.True(t, errors.As(err, &se), "expected *StripeError, got %T", err)
	assert.True(t, se.IsNotFound())
	assert.False(t, se.IsTemporary())
}

func TestStripeClient_ListSubscriptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "cus_123", q.Get("customer"))
		assert.Equal(t, "all", q.Get("status"))
		assert.Contains(t, r.URL.RawQuery, "data.latest_invoice")

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object":   "list",
			"url":      "/v1/subscriptions",
			"has_more": false,
			"data": []map[string]interface{}{
				{
					"id":                   "sub_1",
					"object":               "subscription",
					"customer":             "cus_123",
					"status":               "past_due",
					"created":              1767225600,
					"cancel_at_period_end": false,
					"items": map[string]interface{}{
						"object": "list",
						"data": []map[string]interface{}{
							{"id": "si_1", "current_period_end": 1769904000, "price": map[string]string{"id": "price_pro"}},
						},
					},
					"latest_invoice": map[string]interface{}{
						"id":        "in_1",
						"object":    "invoice",
						"status":    "open",
						"attempted": true,
					},
				},
				{
					"id":       "sub_2",
					"object":   "subscription",
					"customer": "cus_123",
					"status":   "canceled",
					"created":  1735689600,
				},
			},
		})
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	subs, err := c.ListSubscriptions(context.Background(), "cus_123")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	first := subs[0]
	assert.Equal(t, "sub_1", first.ID)
	assert.Equal(t, "cus_123", first.CustomerID)
	assert.Equal(t, "past_due", first.Status)
	assert.Equal(t, "price_pro", first.PriceID)
	require.NotNil(t, first.CurrentPeriodEnd)
	assert.Equal(t, int64(1769904000), first.CurrentPeriodEnd.Unix())
	require.NotNil(t, first.LatestInvoice)
	assert.True(t, first.LatestInvoice.IndicatesFailure())

	assert.Nil(t, subs[1].LatestInvoice)
	assert.Empty(t, subs[1].PriceID)
}

func TestStripeClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, func(cfg *StripeConfig) {
		cfg.Timeout = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := c.GetCustomer(context.Background(), "cus_slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteTimeout), "expected timeout, got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStripeClient_CallerCancellationDoesNotAbortCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "cus_1", "object": "customer"})
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cust, err := c.GetCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", cust.ID)
}

func TestStripeClient_NotConfigured(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, func(cfg *StripeConfig) {
		cfg.APIKey = ""
		cfg.WebhookSecret = ""
	})

	assert.False(t, c.Configured())
	assert.False(t, c.WebhookConfigured())

	_, err := c.GetCustomer(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.ListSubscriptions(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.VerifyEvent([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "no network calls in not-configured mode")
}

func TestStripeClient_CreateCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "tenant-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "price_pro", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "acme", r.PostForm.Get("metadata[tenant_key]"))
		assert.Equal(t, "acme", r.PostForm.Get("subscription_data[metadata][tenant_key]"))
		assert.Equal(t, "LAUNCH", r.PostForm.Get("discounts[0][coupon]"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     "cs_test_1",
			"object": "checkout.session",
			"url":    "https://checkout.stripe.com/c/pay/cs_test_1",
		})
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	sess, err := c.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		TenantID:   "tenant-1",
		TenantKey:  "acme",
		PlanKey:    "pro",
		PriceID:    "price_pro",
		PromoCode:  "LAUNCH",
		SuccessURL: "https://app.parley.test/billing?ok=1",
		CancelURL:  "https://app.parley.test/billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.True(t, strings.HasPrefix(sess.URL, "https://checkout.stripe.com/"))
}

func TestStripeClient_ValidatePromoCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/coupons/LAUNCH":
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": "LAUNCH", "object": "coupon", "valid": true})
		case "/v1/coupons/EXPIRED":
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": "EXPIRED", "object": "coupon", "valid": false})
		default:
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": map[string]string{"type": "invalid_request_error", "code": "resource_missing", "message": "No such coupon"},
			})
		}
	}))
	defer server.Close()

	c := newTestStripeClient(t, server.URL, nil)

	assert.NoError(t, c.ValidatePromoCode(context.Background(), "LAUNCH"))
	assert.ErrorIs(t, c.ValidatePromoCode(context.Background(), "EXPIRED"), ErrInvalidPromoCode)
	assert.ErrorIs(t, c.ValidatePromoCode(context.Background(), "NOPE"), ErrInvalidPromoCode)
}

func signedEvent(t *testing.T, secret string, event map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestStripeClient_VerifyEvent(t *testing.T) {
	c := newTestStripeClient(t, "http://127.0.0.1:0", nil)

	event := map[string]interface{}{
		"id":          "evt_123",
		"object":      "event",
		"type":        "invoice.payment_failed",
		"created":     1767225600,
		"api_version": "2025-03-31.basil",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":       "in_1",
				"object":   "invoice",
				"customer": "cus_1",
				"metadata": map[string]string{"tenant_key": "acme"},
			},
		},
	}

	t.Run("valid signature", func(t *testing.T) {
		payload, header := signedEvent(t, testWebhookSecret, event)

		ev, err := c.VerifyEvent(payload, header)
		require.NoError(t, err)

		failed, ok := ev.(*InvoicePaymentFailed)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "evt_123", failed.Meta().ID)
		assert.Equal(t, "acme", failed.Ref.TenantKey)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload, header := signedEvent(t, "whsec_other", event)
		_, err := c.VerifyEvent(payload, header)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		payload, _ := signedEvent(t, testWebhookSecret, event)
		_, err := c.VerifyEvent(payload, "")
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		payload, header := signedEvent(t, testWebhookSecret, event)
		tampered := []byte(strings.Replace(string(payload), "cus_1", "cus_2", 1))
		_, err := c.VerifyEvent(tampered, header)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})
}

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StripeConfig
		wantErr bool
	}{
		{"empty config selects not-configured mode", StripeConfig{}, false},
		{"test key", StripeConfig{APIKey: "sk_test_1"}, false},
		{"restricted key", StripeConfig{APIKey: "rk_live_1"}, false},
		{"publishable key rejected", StripeConfig{APIKey: "pk_test_1"}, true},
		{"negative timeout", StripeConfig{Timeout: -time.Second}, true},
		{"negative rate", StripeConfig{RateLimit: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.True(t, (&StripeConfig{APIKey: "sk_test_x"}).IsTestMode())
	assert.False(t, (&StripeConfig{APIKey: "sk_live_x"}).IsTestMode())
	assert.Equal(t, DefaultTimeout, (&StripeConfig{}).timeout())
}
