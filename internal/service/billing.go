package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/tenant"
)

// BillingService keeps each tenant's cached billing state consistent with the
// remote billing system. Two paths write the same record: verified webhook
// events and pull-based reconciliation. Both go through the same transition
// helpers and the same lock policy.
type BillingService interface {
	// HandleWebhook verifies a raw webhook payload and applies the event.
	//
	// Returns ErrWebhookNotConfigured when no signing secret is provisioned,
	// ErrInvalidSignature when verification fails and ErrMalformedEvent when
	// the verified payload cannot be decoded. No state is read in any of
	// those cases.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)

	// ProcessEvent applies an already verified event.
	//
	// Flow:
	//  1. Unrecognized event types are acknowledged and ignored
	//  2. The tenant is resolved by id, then key, then customer reference
	//  3. An event id equal to the stored watermark is a no-op
	//  4. The transition and the new watermark are written together
	//  5. An audit entry is recorded for the applied transition
	//
	// An unresolvable tenant is a benign skip. Store failures are returned
	// as EINTERNAL so the sender redelivers.
	ProcessEvent(ctx context.Context, ev billing.Event) (*WebhookResult, error)

	// Reconcile pulls current truth from the remote system for one tenant or
	// a bounded batch and folds it into local state.
	//
	// Returns ErrBillingNotConfigured without any remote call when the client
	// has no credentials, and ErrTenantNotFound when a named tenant does not
	// exist. Per-tenant failures are reported in the result, never returned.
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error)

	// Status returns the stored record and its current lock decision.
	Status(ctx context.Context, tenantRef string) (*TenantStatus, error)

	// LockDecision evaluates the lock policy for a tenant from stored fields only.
	LockDecision(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error)

	// Lock records an operator lock that wins over computed state until cleared.
	Lock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error)

	// Unlock records an operator unlock that wins over computed state until cleared.
	Unlock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error)

	// ClearOverride removes any operator override so the computed state applies.
	ClearOverride(ctx context.Context, tenantRef string) (*TenantStatus, error)

	// CreateCheckoutSession opens a hosted subscription checkout for a plan.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*billing.Session, error)

	// CreatePortalSession opens the hosted billing portal. The tenant must
	// already be linked to a remote customer.
	CreatePortalSession(ctx context.Context, tenantRef string) (*billing.Session, error)

	// Provision creates the empty billing record for a new tenant. Calling it
	// again for an existing tenant returns the stored record unchanged.
	Provision(ctx context.Context, tenantID uuid.UUID, tenantKey string) (*domain.TenantBilling, error)
}

// BillingConfig holds the tunables of the billing service.
type BillingConfig struct {
	// GraceDays is the length of the payment-failure grace window.
	GraceDays int

	// DefaultBatch is the batch size used when a reconcile request has no limit.
	DefaultBatch int

	// MaxBatch is the hard ceiling on a reconcile batch.
	MaxBatch int

	// Concurrency bounds the tenants reconciled in parallel.
	Concurrency int

	SuccessURL string
	CancelURL  string
	ReturnURL  string

	// Now overrides the clock in tests.
	Now func() time.Time
}

const (
	defaultGraceDays    = 7
	defaultBatchSize    = 50
	defaultMaxBatchSize = 500
	defaultConcurrency  = 4
)

func (c BillingConfig) withDefaults() BillingConfig {
	if c.GraceDays <= 0 {
		c.GraceDays = defaultGraceDays
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatchSize
	}
	if c.DefaultBatch <= 0 {
		c.DefaultBatch = defaultBatchSize
	}
	if c.DefaultBatch > c.MaxBatch {
		c.DefaultBatch = c.MaxBatch
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// TenantStatus is a billing record together with its lock decision.
type TenantStatus struct {
	Billing *domain.TenantBilling `json:"billing"`
	Lock    domain.LockDecision   `json:"lock"`
}

// CheckoutParams describes a checkout request for a tenant.
type CheckoutParams struct {
	TenantRef string
	PlanKey   string
	PromoCode string
}

// billingService implements BillingService
type billingService struct {
	store    BillingStore
	client   billing.Client
	resolver *tenant.Resolver
	audit    *audit.Recorder
	catalog  *domain.PlanCatalog
	config   BillingConfig
	logger   *slog.Logger
}

// NewBillingService creates a new BillingService instance
func NewBillingService(
	store BillingStore,
	client billing.Client,
	recorder *audit.Recorder,
	catalog *domain.PlanCatalog,
	config BillingConfig,
	logger *slog.Logger,
) BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = domain.NewPlanCatalog(nil, domain.DefaultPlanKey)
	}
	return &billingService{
		store:    store,
		client:   client,
		resolver: tenant.NewResolver(store),
		audit:    recorder,
		catalog:  catalog,
		config:   config.withDefaults(),
		logger:   logger.With("service", "billing"),
	}
}

func (s *billingService) now() time.Time {
	return s.config.Now().UTC()
}

func (s *billingService) grace() time.Duration {
	return time.Duration(s.config.GraceDays) * 24 * time.Hour
}

// findTenant looks a tenant up by id or key. Operator tooling passes either.
func (s *billingService) findTenant(ctx context.Context, op, ref string) (*domain.TenantBilling, error) {
	if ref == "" {
		return nil, domain.Invalid(op, "Tenant is required")
	}
	rec, _, err := s.resolver.Resolve(ctx, tenant.Ref{TenantID: ref, TenantKey: ref})
	if err != nil {
		return nil, storeError(err, op)
	}
	return rec, nil
}

// storeError maps store errors onto the service taxonomy.
func storeError(err error, op string) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return ErrTenantNotFound
	}
	return domain.Internal(err, op, "Failed to access billing record")
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, tenant.ErrTenantNotFound) || domain.IsCode(err, domain.ENOTFOUND))
}
