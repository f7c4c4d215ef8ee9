package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/billing"
	"github.com/dukerupert/parley/internal/domain"
)

// CreateCheckoutSession opens a hosted checkout for a plan.
//
// Flow:
//  1. Resolve the tenant and the plan's price
//  2. Validate the promo code, if any
//  3. Create the session with tenant metadata so the completion event
//     can be routed back to the tenant
func (s *billingService) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*billing.Session, error) {
	const op = "billing.checkout"

	if !s.client.Configured() {
		return nil, ErrBillingNotConfigured
	}

	rec, err := s.findTenant(ctx, op, params.TenantRef)
	if err != nil {
		return nil, err
	}

	priceID, ok := s.catalog.PriceForPlan(params.PlanKey)
	if !ok {
		return nil, ErrUnknownPlan
	}

	promo := strings.TrimSpace(params.PromoCode)
	if promo != "" {
		if err := s.client.ValidatePromoCode(ctx, promo); err != nil {
			if errors.Is(err, billing.ErrInvalidPromoCode) {
				return nil, ErrInvalidPromoCode
			}
			return nil, remoteError(err, op, "validate promo code")
		}
	}

	session, err := s.client.CreateCheckoutSession(ctx, billing.CheckoutSessionParams{
		TenantID:   rec.TenantID.String(),
		TenantKey:  rec.TenantKey,
		PlanKey:    params.PlanKey,
		PriceID:    priceID,
		CustomerID: rec.ExternalCustomerID,
		PromoCode:  promo,
		SuccessURL: s.config.SuccessURL,
		CancelURL:  s.config.CancelURL,
	})
	if err != nil {
		return nil, remoteError(err, op, "create checkout session")
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID: rec.TenantID,
		Actor:    domain.ActorFromContext(ctx, domain.ActorOperator),
		Action:   audit.ActionCheckoutOpened,
		Details: map[string]any{
			"sessionId": session.ID,
			"planKey":   params.PlanKey,
			"priceId":   priceID,
			"promoCode": promo,
		},
	})
	return session, nil
}

func (s *billingService) CreatePortalSession(ctx context.Context, tenantRef string) (*billing.Session, error) {
	const op = "billing.portal"

	if !s.client.Configured() {
		return nil, ErrBillingNotConfigured
	}

	rec, err := s.findTenant(ctx, op, tenantRef)
	if err != nil {
		return nil, err
	}
	if !rec.HasRemoteCustomer() {
		return nil, ErrNoRemoteCustomer
	}

	session, err := s.client.CreatePortalSession(ctx, billing.PortalSessionParams{
		CustomerID: rec.ExternalCustomerID,
		ReturnURL:  s.config.ReturnURL,
	})
	if err != nil {
		return nil, remoteError(err, op, "create portal session")
	}
	return session, nil
}

func (s *billingService) Provision(ctx context.Context, tenantID uuid.UUID, tenantKey string) (*domain.TenantBilling, error) {
	const op = "billing.provision"

	tenantKey = strings.TrimSpace(tenantKey)
	if tenantID == uuid.Nil {
		return nil, domain.NewValidationError(op, "tenantId", "is required")
	}
	if tenantKey == "" {
		return nil, domain.NewValidationError(op, "tenantKey", "is required")
	}

	rec, err := s.store.Ensure(ctx, domain.NewTenantBilling(tenantID, tenantKey, s.catalog.DefaultPlan()))
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to provision billing record")
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID: rec.TenantID,
		Actor:    domain.ActorFromContext(ctx, domain.ActorOperator),
		Action:   audit.ActionProvisioned,
		Details:  map[string]any{"tenantKey": rec.TenantKey, "planKey": rec.PlanKey},
	})
	return rec, nil
}
