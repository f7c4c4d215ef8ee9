package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/tenant"
)

// UpdateFunc mutates a freshly read record in place and reports whether the
// result should be written. Returning an error aborts without writing.
type UpdateFunc func(rec *domain.TenantBilling) (write bool, err error)

// BillingStore persists tenant billing records.
type BillingStore interface {
	tenant.Lookup

	// Ensure creates the empty record for a tenant if none exists and returns
	// the stored record.
	Ensure(ctx context.Context, rec *domain.TenantBilling) (*domain.TenantBilling, error)

	// Update runs fn against the current record and persists the result as
	// one atomic read-modify-write. It returns the record as stored after
	// the call. Missing tenants yield tenant.ErrTenantNotFound.
	Update(ctx context.Context, tenantID uuid.UUID, fn UpdateFunc) (*domain.TenantBilling, error)

	// ListLinked returns up to limit records that have a remote customer
	// reference, most recently updated first.
	ListLinked(ctx context.Context, limit int) ([]*domain.TenantBilling, error)
}
