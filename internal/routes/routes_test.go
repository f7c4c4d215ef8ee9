package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/handler/admin"
	"github.com/dukerupert/parley/internal/handler/api"
	"github.com/dukerupert/parley/internal/handler/webhook"
	"github.com/dukerupert/parley/internal/middleware"
	"github.com/dukerupert/parley/internal/router"
	"github.com/dukerupert/parley/internal/service"
)

const operatorToken = "op-token"

type testServer struct {
	router *router.Router
	store  *service.MemoryStore
	client *billing.MockClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := service.NewMemoryStore()
	client := billing.NewMockClient()
	svc := service.NewBillingService(store, client, nil, nil, service.BillingConfig{}, nil)

	r := router.New(middleware.RequestID)
	RegisterWebhookRoutes(r, WebhookDeps{StripeHandler: webhook.NewStripeHandler(svc, nil)})
	RegisterAdminRoutes(r, AdminDeps{
		BillingHandler: admin.NewBillingHandler(svc, nil),
		OperatorToken:  operatorToken,
	})
	RegisterAPIRoutes(r, APIDeps{
		LockHandler: api.NewLockHandler(svc, nil),
		Tenant:      middleware.TenantConfig{BaseDomain: "parley.chat", Lookup: store},
		Lock:        svc,
	})

	return &testServer{router: r, store: store, client: client}
}

func (s *testServer) do(t *testing.T, method, host, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if host != "" {
		req.Host = host
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+operatorToken)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestAdminRoutes_RequireOperatorToken(t *testing.T) {
	s := newTestServer(t)
	s.store.Put(domain.NewTenantBilling(uuid.New(), "acme", "free"))

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/admin/billing/reconcile", `{}`},
		{http.MethodGet, "/admin/billing/tenants/acme", ""},
		{http.MethodPost, "/admin/billing/tenants/acme/lock", `{"reason":"abuse"}`},
		{http.MethodPost, "/admin/billing/tenants/acme/unlock", `{}`},
		{http.MethodDelete, "/admin/billing/tenants/acme/override", ""},
		{http.MethodPost, "/admin/billing/tenants/acme/checkout", `{"planKey":"pro"}`},
		{http.MethodPost, "/admin/billing/tenants/acme/portal", ""},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := s.do(t, rt.method, "", rt.path, rt.body, false)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestAdminRoutes_OverrideGatesTenantWrites(t *testing.T) {
	s := newTestServer(t)
	s.store.Put(domain.NewTenantBilling(uuid.New(), "acme", "free"))

	rr := s.do(t, http.MethodPost, "acme.parley.chat", "/api/billing/write-check", "", false)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, "", "/admin/billing/tenants/acme/lock", `{"reason":"chargeback"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "acme.parley.chat", "/api/billing/write-check", "", false)
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Contains(t, rr.Body.String(), string(domain.LockReasonManualLock))

	// Reads stay open while locked.
	rr = s.do(t, http.MethodGet, "acme.parley.chat", "/api/billing/lock", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"locked":true`)

	rr = s.do(t, http.MethodDelete, "", "/admin/billing/tenants/acme/override", "", true)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "acme.parley.chat", "/api/billing/write-check", "", false)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAPIRoutes_GraceExpiryLocksWithoutWrite(t *testing.T) {
	s := newTestServer(t)

	rec := domain.NewTenantBilling(uuid.New(), "acme", "pro")
	rec.BillingStatus = domain.BillingStatusPastDue
	deadline := time.Now().Add(-time.Hour)
	rec.GraceEndsAt = &deadline
	s.store.Put(rec)

	rr := s.do(t, http.MethodPost, "acme.parley.chat", "/api/billing/write-check", "", false)
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, 0, s.store.Writes)
}

func TestAPIRoutes_UnknownHost(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "ghost.parley.chat", "/api/billing/lock", "", false)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "parley.chat", "/api/billing/lock", "", false)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookRoutes_BadSignature(t *testing.T) {
	s := newTestServer(t)
	s.client.VerifyEventFunc = func([]byte, string) (billing.Event, error) {
		return nil, billing.ErrInvalidWebhookSignature
	}

	rr := s.do(t, http.MethodPost, "", "/webhooks/stripe", `{"id":"evt_1"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// GET is not routed.
	rr = s.do(t, http.MethodGet, "", "/webhooks/stripe", "", false)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
