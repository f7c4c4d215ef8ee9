package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockClient is a billing client for tests. Each method can be overridden
// through its Func field; otherwise it serves from the Customers and
// Subscriptions maps.
type MockClient struct {
	mu sync.Mutex

	NotConfigured        bool
	WebhookNotConfigured bool

	VerifyEventFunc           func(payload []byte, signature string) (Event, error)
	GetCustomerFunc           func(ctx context.Context, customerID string) (*Customer, error)
	ListSubscriptionsFunc     func(ctx context.Context, customerID string) ([]Subscription, error)
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutSessionParams) (*Session, error)
	CreatePortalSessionFunc   func(ctx context.Context, params PortalSessionParams) (*Session, error)
	ValidatePromoCodeFunc     func(ctx context.Context, code string) error

	// Customers stores customers by id
	Customers map[string]*Customer

	// Subscriptions stores subscriptions by customer id
	Subscriptions map[string][]Subscription

	// CallLog tracks method calls for test assertions
	CallLog []string
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a new mock billing client.
func NewMockClient() *MockClient {
	return &MockClient{
		Customers:     make(map[string]*Customer),
		Subscriptions: make(map[string][]Subscription),
		CallLog:       []string{},
	}
}

func (m *MockClient) log(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// Calls returns a copy of the call log.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

func (m *MockClient) Configured() bool { return !m.NotConfigured }

func (m *MockClient) WebhookConfigured() bool { return !m.WebhookNotConfigured }

func (m *MockClient) VerifyEvent(payload []byte, signature string) (Event, error) {
	m.log("VerifyEvent")
	if m.WebhookNotConfigured {
		return nil, ErrNotConfigured
	}
	if m.VerifyEventFunc != nil {
		return m.VerifyEventFunc(payload, signature)
	}
	return nil, ErrInvalidWebhookSignature
}

func (m *MockClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.log(fmt.Sprintf("GetCustomer(%s)", customerID))
	if m.NotConfigured {
		return nil, ErrNotConfigured
	}
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Customers[customerID]; ok {
		return c, nil
	}
	return &Customer{ID: customerID}, nil
}

func (m *MockClient) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	m.log(fmt.Sprintf("ListSubscriptions(%s)", customerID))
	if m.NotConfigured {
		return nil, ErrNotConfigured
	}
	if m.ListSubscriptionsFunc != nil {
		return m.ListSubscriptionsFunc(ctx, customerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.Subscriptions[customerID]...), nil
}

func (m *MockClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*Session, error) {
	m.log(fmt.Sprintf("CreateCheckoutSession(%s, %s)", params.TenantKey, params.PriceID))
	if m.NotConfigured {
		return nil, ErrNotConfigured
	}
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	id := "cs_test_" + uuid.NewString()
	return &Session{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (m *MockClient) CreatePortalSession(ctx context.Context, params PortalSessionParams) (*Session, error) {
	m.log(fmt.Sprintf("CreatePortalSession(%s)", params.CustomerID))
	if m.NotConfigured {
		return nil, ErrNotConfigured
	}
	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, params)
	}
	id := "bps_test_" + uuid.NewString()
	return &Session{ID: id, URL: "https://billing.stripe.test/" + id}, nil
}

func (m *MockClient) ValidatePromoCode(ctx context.Context, code string) error {
	m.log(fmt.Sprintf("ValidatePromoCode(%s)", code))
	if m.NotConfigured {
		return ErrNotConfigured
	}
	if m.ValidatePromoCodeFunc != nil {
		return m.ValidatePromoCodeFunc(ctx, code)
	}
	return nil
}
