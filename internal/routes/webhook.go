package routes

import (
	"github.com/dukerupert/parley/internal/router"
)

// RegisterWebhookRoutes registers all webhook routes.
//
// Webhook routes have no authentication middleware. The handler verifies
// the Stripe signature against the raw body itself.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	var mw []router.Middleware
	if deps.RateLimit != nil {
		mw = append(mw, deps.RateLimit)
	}
	r.Post("/webhooks/stripe", deps.StripeHandler.HandleWebhook, mw...)
}
