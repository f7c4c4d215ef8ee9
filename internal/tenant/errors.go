package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when no resolution strategy finds a tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrNoTenant is returned when tenant context is required but not present.
	ErrNoTenant = errors.New("no tenant in context")
)
