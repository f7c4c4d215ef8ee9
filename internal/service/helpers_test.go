package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Write(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type testEnv struct {
	svc    BillingService
	store  *MemoryStore
	client *billing.MockClient
	audit  *auditLog
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  NewMemoryStore(),
		client: billing.NewMockClient(),
		audit:  &auditLog{},
		clock:  &fakeClock{now: baseTime},
	}
	catalog := domain.NewPlanCatalog(map[string]string{
		"price_starter": "starter",
		"price_pro":     "pro",
	}, "free")

	env.svc = NewBillingService(
		env.store,
		env.client,
		audit.NewRecorder(env.audit, nil),
		catalog,
		BillingConfig{
			GraceDays:    7,
			DefaultBatch: 10,
			MaxBatch:     25,
			Concurrency:  3,
			SuccessURL:   "https://app.test/billing/success",
			CancelURL:    "https://app.test/billing/cancel",
			ReturnURL:    "https://app.test/billing",
			Now:          env.clock.Now,
		},
		nil,
	)
	return env
}

// seed stores a linked tenant and returns its record.
func (e *testEnv) seed(key, customerID string, mutate func(*domain.TenantBilling)) *domain.TenantBilling {
	rec := domain.NewTenantBilling(uuid.New(), key, "free")
	rec.ExternalCustomerID = customerID
	if mutate != nil {
		mutate(rec)
	}
	e.store.Put(rec)
	return rec
}

func sub(id, status string, created time.Time) billing.Subscription {
	return billing.Subscription{
		ID:         id,
		CustomerID: "cus_1",
		Status:     status,
		Created:    created,
		PriceID:    "price_pro",
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
