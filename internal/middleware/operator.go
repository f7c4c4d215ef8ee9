package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dukerupert/parley/internal/domain"
)

// OperatorHeader optionally names the human behind an operator request.
// It only labels audit entries; the bearer token is the credential.
const OperatorHeader = "X-Operator"

// RequireOperatorToken rejects requests whose bearer token does not match
// token. An empty token rejects everything, so unconfigured deployments
// expose no operator surface.
//
// Accepted requests carry the operator as the audit actor in their context.
func RequireOperatorToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondUnauthorized(w, r)
				return
			}

			presented, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondUnauthorized(w, r)
				return
			}

			actor := domain.ActorOperator
			if name := strings.TrimSpace(r.Header.Get(OperatorHeader)); name != "" && len(name) <= 64 {
				actor = domain.ActorOperator + ":" + name
			}

			ctx := domain.NewContextWithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
