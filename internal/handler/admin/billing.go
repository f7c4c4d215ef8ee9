package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/handler"
	"github.com/dukerupert/parley/internal/service"
)

// BillingHandler serves the operator billing endpoints. All responses are JSON.
type BillingHandler struct {
	billing service.BillingService
	logger  *slog.Logger
}

// NewBillingHandler creates a new operator billing handler
func NewBillingHandler(billing service.BillingService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing: billing,
		logger:  logger.With("handler", "admin_billing"),
	}
}

// ReconcileRequest is the body of POST /admin/billing/reconcile.
type ReconcileRequest struct {
	TenantKey string `json:"tenantKey" validate:"omitempty,max=255"`
	DryRun    bool   `json:"dryRun"`
	Limit     int    `json:"limit" validate:"min=0"`
}

// OverrideRequest is the body of the lock and unlock endpoints.
type OverrideRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CheckoutRequest is the body of POST /admin/billing/tenants/{tenant}/checkout.
type CheckoutRequest struct {
	PlanKey   string `json:"planKey" validate:"required,max=64"`
	PromoCode string `json:"promoCode" validate:"max=64"`
}

// SessionResponse carries a hosted page URL.
type SessionResponse struct {
	URL string `json:"url"`
}

// Reconcile handles POST /admin/billing/reconcile
// An empty tenantKey reconciles a batch of linked tenants.
func (h *BillingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := handler.DecodeJSON(w, r, "admin.reconcile", &req); err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}

	report, err := h.billing.Reconcile(r.Context(), service.ReconcileRequest{
		TenantKey: req.TenantKey,
		DryRun:    req.DryRun,
		Limit:     req.Limit,
		Trigger:   service.TriggerOperator,
	})
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}

	h.logger.Info("operator reconcile finished",
		"tenant_key", req.TenantKey,
		"dry_run", req.DryRun,
		"scanned", report.TenantsScanned,
		"updated", report.TenantsUpdated,
		"errors", len(report.Errors),
	)
	handler.WriteJSON(w, http.StatusOK, report)
}

// Status handles GET /admin/billing/tenants/{tenant}
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.billing.Status(r.Context(), r.PathValue("tenant"))
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, status)
}

// Lock handles POST /admin/billing/tenants/{tenant}/lock
func (h *BillingHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, "admin.lock", h.billing.Lock)
}

// Unlock handles POST /admin/billing/tenants/{tenant}/unlock
func (h *BillingHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, "admin.unlock", h.billing.Unlock)
}

func (h *BillingHandler) override(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(ctx context.Context, tenantRef, reason string) (*service.TenantStatus, error),
) {
	var req OverrideRequest
	if err := handler.DecodeJSON(w, r, op, &req); err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}

	status, err := apply(r.Context(), r.PathValue("tenant"), req.Reason)
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, status)
}

// ClearOverride handles DELETE /admin/billing/tenants/{tenant}/override
func (h *BillingHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	status, err := h.billing.ClearOverride(r.Context(), r.PathValue("tenant"))
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, status)
}

// Checkout handles POST /admin/billing/tenants/{tenant}/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := handler.DecodeJSON(w, r, "admin.checkout", &req); err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), service.CheckoutParams{
		TenantRef: r.PathValue("tenant"),
		PlanKey:   req.PlanKey,
		PromoCode: req.PromoCode,
	})
	if err != nil {
		if domain.IsCode(err, domain.EREMOTE) {
			h.logger.Warn("checkout session failed", "tenant", r.PathValue("tenant"), "error", err)
		}
		handler.JSONErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, SessionResponse{URL: session.URL})
}

// Portal handles POST /admin/billing/tenants/{tenant}/portal
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	session, err := h.billing.CreatePortalSession(r.Context(), r.PathValue("tenant"))
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, SessionResponse{URL: session.URL})
}
