// Package domain provides the billing record, its status vocabulary, the lock
// policy and request-scoped context helpers shared by every other package.
package domain

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	tenantContextKey contextKey = iota
	actorContextKey
	requestIDContextKey
)

// Tenant identifies the tenant a request acts for. Upstream tenant
// resolution places it in the context before write-path middleware runs.
type Tenant struct {
	ID  uuid.UUID
	Key string
}

// NewContextWithTenant returns a new context with the tenant attached.
func NewContextWithTenant(ctx context.Context, tenant *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// TenantFromContext retrieves the tenant from context.
// Returns nil if no tenant is present.
func TenantFromContext(ctx context.Context) *Tenant {
	tenant, _ := ctx.Value(tenantContextKey).(*Tenant)
	return tenant
}

// TenantIDFromContext retrieves the tenant ID from context.
// Returns uuid.Nil if no tenant is present.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if tenant := TenantFromContext(ctx); tenant != nil {
		return tenant.ID
	}
	return uuid.Nil
}

// Actor names who triggered a state change, for audit entries.
const (
	ActorWebhook   = "stripe_webhook"
	ActorReconcile = "reconciler"
	ActorScheduler = "scheduler"
	ActorOperator  = "operator"
)

// NewContextWithActor records the acting operator (or system component).
func NewContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext returns the acting operator, or fallback when none is set.
func ActorFromContext(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return fallback
}

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
