package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
)

// Lookup finds billing records by each identifier a remote event may carry.
// Each method returns ErrTenantNotFound when nothing matches.
type Lookup interface {
	ByID(ctx context.Context, id uuid.UUID) (*domain.TenantBilling, error)
	ByKey(ctx context.Context, key string) (*domain.TenantBilling, error)
	ByCustomerID(ctx context.Context, customerID string) (*domain.TenantBilling, error)
}

// Ref carries the identifiers available for resolving a tenant.
// Empty fields are skipped.
type Ref struct {
	TenantID   string
	TenantKey  string
	CustomerID string
}

// Strategy is one resolution step. ok is false when the step does not apply
// to the ref (its identifier is absent or malformed).
type Strategy struct {
	Name string
	Find func(ctx context.Context, ref Ref) (rec *domain.TenantBilling, ok bool, err error)
}

// DefaultStrategies resolves by tenant id, then tenant key, then remote
// customer id.
func DefaultStrategies(l Lookup) []Strategy {
	return []Strategy{
		{
			Name: "tenant_id",
			Find: func(ctx context.Context, ref Ref) (*domain.TenantBilling, bool, error) {
				if ref.TenantID == "" {
					return nil, false, nil
				}
				id, err := uuid.Parse(ref.TenantID)
				if err != nil {
					return nil, false, nil
				}
				rec, err := l.ByID(ctx, id)
				return rec, true, err
			},
		},
		{
			Name: "tenant_key",
			Find: func(ctx context.Context, ref Ref) (*domain.TenantBilling, bool, error) {
				if ref.TenantKey == "" {
					return nil, false, nil
				}
				rec, err := l.ByKey(ctx, ref.TenantKey)
				return rec, true, err
			},
		},
		{
			Name: "customer_id",
			Find: func(ctx context.Context, ref Ref) (*domain.TenantBilling, bool, error) {
				if ref.CustomerID == "" {
					return nil, false, nil
				}
				rec, err := l.ByCustomerID(ctx, ref.CustomerID)
				return rec, true, err
			},
		},
	}
}

// Resolver runs strategies in order and returns the first hit.
type Resolver struct {
	strategies []Strategy
}

// NewResolver creates a resolver using the default strategy order.
func NewResolver(l Lookup) *Resolver {
	return &Resolver{strategies: DefaultStrategies(l)}
}

// NewResolverWithStrategies creates a resolver with an explicit order.
func NewResolverWithStrategies(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve returns the record found by the first applicable strategy that
// hits, along with that strategy's name. A strategy that misses falls through
// to the next; any other error stops resolution.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*domain.TenantBilling, string, error) {
	for _, s := range r.strategies {
		rec, ok, err := s.Find(ctx, ref)
		if !ok {
			continue
		}
		if errors.Is(err, ErrTenantNotFound) {
			continue
		}
		if err != nil {
			return nil, s.Name, err
		}
		if rec != nil {
			return rec, s.Name, nil
		}
	}
	return nil, "", ErrTenantNotFound
}
