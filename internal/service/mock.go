package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

// MockBillingService is a BillingService for handler and worker tests.
// Methods without a Func hook return zero values.
type MockBillingService struct {
	mu sync.Mutex

	HandleWebhookFunc         func(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
	ProcessEventFunc          func(ctx context.Context, ev billing.Event) (*WebhookResult, error)
	ReconcileFunc             func(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error)
	StatusFunc                func(ctx context.Context, tenantRef string) (*TenantStatus, error)
	LockDecisionFunc          func(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error)
	LockFunc                  func(ctx context.Context, tenantRef, reason string) (*TenantStatus, error)
	UnlockFunc                func(ctx context.Context, tenantRef, reason string) (*TenantStatus, error)
	ClearOverrideFunc         func(ctx context.Context, tenantRef string) (*TenantStatus, error)
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutParams) (*billing.Session, error)
	CreatePortalSessionFunc   func(ctx context.Context, tenantRef string) (*billing.Session, error)
	ProvisionFunc             func(ctx context.Context, tenantID uuid.UUID, tenantKey string) (*domain.TenantBilling, error)

	// ReconcileRequests records every Reconcile call.
	ReconcileRequests []ReconcileRequest
}

var _ BillingService = (*MockBillingService)(nil)

func (m *MockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, payload, signature)
	}
	return &WebhookResult{Outcome: OutcomeIgnored}, nil
}

func (m *MockBillingService) ProcessEvent(ctx context.Context, ev billing.Event) (*WebhookResult, error) {
	if m.ProcessEventFunc != nil {
		return m.ProcessEventFunc(ctx, ev)
	}
	return &WebhookResult{Outcome: OutcomeIgnored}, nil
}

func (m *MockBillingService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error) {
	m.mu.Lock()
	m.ReconcileRequests = append(m.ReconcileRequests, req)
	m.mu.Unlock()

	if m.ReconcileFunc != nil {
		return m.ReconcileFunc(ctx, req)
	}
	return &ReconcileReport{DryRun: req.DryRun, Results: []TenantResult{}, Errors: []ReconcileError{}}, nil
}

// Reconciles returns a copy of the recorded Reconcile requests.
func (m *MockBillingService) Reconciles() []ReconcileRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReconcileRequest(nil), m.ReconcileRequests...)
}

func (m *MockBillingService) Status(ctx context.Context, tenantRef string) (*TenantStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, tenantRef)
	}
	return nil, ErrTenantNotFound
}

func (m *MockBillingService) LockDecision(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error) {
	if m.LockDecisionFunc != nil {
		return m.LockDecisionFunc(ctx, tenantID)
	}
	return domain.LockDecision{}, nil
}

func (m *MockBillingService) Lock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, tenantRef, reason)
	}
	return nil, ErrTenantNotFound
}

func (m *MockBillingService) Unlock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error) {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, tenantRef, reason)
	}
	return nil, ErrTenantNotFound
}

func (m *MockBillingService) ClearOverride(ctx context.Context, tenantRef string) (*TenantStatus, error) {
	if m.ClearOverrideFunc != nil {
		return m.ClearOverrideFunc(ctx, tenantRef)
	}
	return nil, ErrTenantNotFound
}

func (m *MockBillingService) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*billing.Session, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	return nil, ErrBillingNotConfigured
}

func (m *MockBillingService) CreatePortalSession(ctx context.Context, tenantRef string) (*billing.Session, error) {
	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, tenantRef)
	}
	return nil, ErrBillingNotConfigured
}

func (m *MockBillingService) Provision(ctx context.Context, tenantID uuid.UUID, tenantKey string) (*domain.TenantBilling, error) {
	if m.ProvisionFunc != nil {
		return m.ProvisionFunc(ctx, tenantID, tenantKey)
	}
	return domain.NewTenantBilling(tenantID, tenantKey, domain.DefaultPlanKey), nil
}
