package routes

import (
	"github.com/dukerupert/parley/internal/middleware"
	"github.com/dukerupert/parley/internal/router"
)

// RegisterAdminRoutes registers the operator billing routes.
// All routes require the operator bearer token.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	mw := []router.Middleware{middleware.RequireOperatorToken(deps.OperatorToken)}
	if deps.RateLimit != nil {
		mw = append(mw, deps.RateLimit)
	}
	admin := r.Group(mw...)
	h := deps.BillingHandler

	admin.Post("/admin/billing/reconcile", h.Reconcile)

	// Per-tenant state and overrides. {tenant} is a tenant id or key.
	admin.Get("/admin/billing/tenants/{tenant}", h.Status)
	admin.Post("/admin/billing/tenants/{tenant}/lock", h.Lock)
	admin.Post("/admin/billing/tenants/{tenant}/unlock", h.Unlock)
	admin.Delete("/admin/billing/tenants/{tenant}/override", h.ClearOverride)

	// Hosted pages
	admin.Post("/admin/billing/tenants/{tenant}/checkout", h.Checkout)
	admin.Post("/admin/billing/tenants/{tenant}/portal", h.Portal)
}
