package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/handler"
)

// LockChecker evaluates the billing lock for a tenant.
type LockChecker interface {
	LockDecision(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error)
}

// LockHandler exposes the billing lock to the widget and dashboard frontends
// of the tenant resolved from the request host.
type LockHandler struct {
	checker LockChecker
	logger  *slog.Logger
}

// NewLockHandler creates a new tenant lock handler
func NewLockHandler(checker LockChecker, logger *slog.Logger) *LockHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockHandler{
		checker: checker,
		logger:  logger.With("handler", "api_lock"),
	}
}

var errNoWorkspace = domain.Errorf(domain.ENOTFOUND, "api.lock", "No workspace for this host")

// lockResponse is the body of GET /api/billing/lock.
type lockResponse struct {
	TenantKey string            `json:"tenantKey"`
	Locked    bool              `json:"locked"`
	Reason    domain.LockReason `json:"reason,omitempty"`
}

// Status handles GET /api/billing/lock
//
// Response codes:
//   - 200 OK: lock decision for the resolved tenant
//   - 404 Not Found: no tenant subdomain, or no billing record
//   - 500 Internal Server Error: store failure
func (h *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	t := domain.TenantFromContext(r.Context())
	if t == nil {
		handler.JSONErrorResponse(w, r, errNoWorkspace)
		return
	}

	decision, err := h.checker.LockDecision(r.Context(), t.ID)
	if err != nil {
		handler.JSONErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, lockResponse{
		TenantKey: t.Key,
		Locked:    decision.Locked,
		Reason:    decision.Reason,
	})
}

// WriteCheck handles POST /api/billing/write-check
// It sits behind RequireBillingUnlocked, so reaching it means writes are
// allowed. Services that accept tenant writes out of band call it before
// committing.
func (h *LockHandler) WriteCheck(w http.ResponseWriter, r *http.Request) {
	if domain.TenantFromContext(r.Context()) == nil {
		handler.JSONErrorResponse(w, r, errNoWorkspace)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
