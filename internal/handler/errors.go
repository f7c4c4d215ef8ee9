package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/parley/internal/domain"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EREMOTE:
		return http.StatusBadGateway
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// JSONErrorResponse writes err as a JSON error body. Validation errors carry
// their field messages. Internal errors are logged with their operation and
// reported with a generic message.
func JSONErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if fields := domain.GetValidationFields(err); fields != nil {
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    domain.EINVALID,
			Message: "Validation failed",
			Fields:  fields,
		}})
		return
	}

	code := domain.ErrorCode(err)
	if code == domain.EINTERNAL {
		slog.ErrorContext(r.Context(), "internal error",
			"op", domain.ErrorOp(err),
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}

	WriteJSON(w, ErrorCodeToHTTPStatus(code), errorBody{Error: errorDetail{
		Code:    code,
		Message: domain.ErrorMessage(err),
	}})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
