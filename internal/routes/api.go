package routes

import (
	"github.com/dukerupert/parley/internal/middleware"
	"github.com/dukerupert/parley/internal/router"
)

// RegisterAPIRoutes registers the tenant-facing API routes. The tenant is
// resolved from the request host and writes are gated on the billing lock.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(
		middleware.ResolveTenant(deps.Tenant),
		middleware.WithRequestLogger(deps.Tenant.Logger),
		middleware.RequireBillingUnlocked(deps.Lock),
	)

	api.Get("/api/billing/lock", deps.LockHandler.Status)
	api.Post("/api/billing/write-check", deps.LockHandler.WriteCheck)
}
