package service

import (
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

// Billing errors
var (
	ErrTenantNotFound       = domain.Errorf(domain.ENOTFOUND, "", "Tenant not found")
	ErrBillingNotConfigured = domain.WrapError(billing.ErrNotConfigured, domain.EUNAVAILABLE, "", "Billing is not configured")
	ErrNoRemoteCustomer     = domain.Errorf(domain.EINVALID, "", "No remote customer")
	ErrUnknownPlan          = domain.Errorf(domain.EINVALID, "", "Unknown plan")
	ErrInvalidPromoCode     = domain.WrapError(billing.ErrInvalidPromoCode, domain.EINVALID, "", "Promo code is invalid or expired")
	ErrInvalidOverride      = domain.Errorf(domain.EINVALID, "", "Override must be locked or unlocked")
)

// Webhook errors
var (
	ErrWebhookNotConfigured = domain.WrapError(billing.ErrNotConfigured, domain.EUNAVAILABLE, "", "Webhook signing secret is not configured")
	ErrInvalidSignature     = domain.WrapError(billing.ErrInvalidWebhookSignature, domain.EUNAUTHORIZED, "", "Invalid webhook signature")
	ErrMalformedEvent       = domain.Errorf(domain.EINVALID, "", "Malformed event payload")
)
