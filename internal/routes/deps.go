package routes

import (
	"net/http"

	"github.com/dukerupert/parley/internal/handler/admin"
	"github.com/dukerupert/parley/internal/handler/api"
	"github.com/dukerupert/parley/internal/handler/webhook"
	"github.com/dukerupert/parley/internal/middleware"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler *webhook.StripeHandler

	// RateLimit guards the webhook endpoint. Optional.
	RateLimit func(http.Handler) http.Handler
}

// AdminDeps contains dependencies for the operator billing routes
type AdminDeps struct {
	BillingHandler *admin.BillingHandler

	// OperatorToken is the shared bearer token for operator access.
	// Empty disables the operator surface.
	OperatorToken string

	// RateLimit guards the operator endpoints, which trigger remote calls. Optional.
	RateLimit func(http.Handler) http.Handler
}

// APIDeps contains dependencies for the tenant-facing API routes
type APIDeps struct {
	LockHandler *api.LockHandler

	// Tenant resolves the tenant from the request host.
	Tenant middleware.TenantConfig

	// Lock gates tenant writes on the billing lock.
	Lock middleware.LockChecker
}
