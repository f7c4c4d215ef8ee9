// Package middleware provides the HTTP middleware for parley's billing endpoints.
package middleware

import (
	"net/http"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/handler"
)

type contextKey string

// respondWithError logs the rejection and writes a JSON error. Every route
// behind this package's middleware is a machine endpoint.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := handler.ErrorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if reqID := GetRequestID(r.Context()); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}

	logger := GetLogger(r.Context())
	if status >= 500 {
		logger.Error("middleware error", attrs...)
	} else {
		logger.Info("middleware error", attrs...)
	}

	handler.JSONErrorResponse(w, r, err)
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Unauthorized("", "Authentication required"))
}

func respondNotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

func respondInternalError(w http.ResponseWriter, r *http.Request, err error) {
	respondWithError(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}
