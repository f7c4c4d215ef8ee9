package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/telemetry"
	"github.com/dukerupert/parley/internal/tenant"
)

// TenantConfig holds configuration for tenant resolution middleware.
type TenantConfig struct {
	// BaseDomain is the root domain for subdomain extraction (e.g., "parley.chat" or "lvh.me:3000").
	// Tenant subdomains are extracted as: {key}.BaseDomain
	BaseDomain string

	// Lookup finds the tenant's billing record by key.
	Lookup tenant.Lookup

	// Logger is the structured logger for middleware operations.
	// If nil, uses slog.Default().
	Logger *slog.Logger
}

// ResolveTenant resolves the tenant from the request host and adds it to
// the context. Hosts without a tenant subdomain pass through untouched;
// an unknown tenant key answers 404.
func ResolveTenant(cfg TenantConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseDomain := stripPort(cfg.BaseDomain)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractSubdomain(stripPort(r.Host), baseDomain)
			if key == "" || key == "www" {
				next.ServeHTTP(w, r)
				return
			}

			rec, err := cfg.Lookup.ByKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					respondNotFound(w, r)
					return
				}
				logger.Error("tenant resolution failed", "tenant_key", key, "error", err)
				respondInternalError(w, r, err)
				return
			}

			ctx := domain.NewContextWithTenant(r.Context(), &domain.Tenant{ID: rec.TenantID, Key: rec.TenantKey})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LockChecker evaluates the billing lock for a tenant.
type LockChecker interface {
	LockDecision(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error)
}

// RequireBillingUnlocked rejects writes from billing-locked tenants with 402.
// Reads always pass, as do requests without a tenant in context. The
// decision is made from stored state only.
func RequireBillingUnlocked(checker LockChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isReadOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			t := domain.TenantFromContext(r.Context())
			if t == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := checker.LockDecision(r.Context(), t.ID)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) || domain.IsCode(err, domain.ENOTFOUND) {
					respondNotFound(w, r)
					return
				}
				respondInternalError(w, r, err)
				return
			}

			if decision.Locked {
				telemetry.Billing.WriteRejected(string(decision.Reason))
				respondWithError(w, r, domain.Errorf(domain.EPAYMENT, "billing.lock",
					"Workspace is locked for billing reasons (%s)", decision.Reason))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// extractSubdomain extracts the subdomain from a host given a base domain.
// Returns empty string if host doesn't have a subdomain or doesn't match base domain.
//
//	extractSubdomain("acme.parley.chat", "parley.chat") -> "acme"
//	extractSubdomain("parley.chat", "parley.chat") -> ""
//	extractSubdomain("sub.acme.parley.chat", "parley.chat") -> "" (nested subdomain)
func extractSubdomain(host, baseDomain string) string {
	if baseDomain == "" {
		return ""
	}
	suffix := "." + baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}

	subdomain := strings.TrimSuffix(host, suffix)
	if subdomain == "" || strings.Contains(subdomain, ".") {
		return ""
	}
	return subdomain
}

// stripPort removes the port from a host string.
func stripPort(host string) string {
	if colonIndex := strings.Index(host, ":"); colonIndex != -1 {
		return host[:colonIndex]
	}
	return host
}
