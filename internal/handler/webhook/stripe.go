package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/handler"
	"github.com/dukerupert/parley/internal/service"
	"github.com/dukerupert/parley/internal/telemetry"
)

// MaxPayloadBytes caps the webhook body. Stripe events are well below this.
const MaxPayloadBytes = 1 << 20

// StripeHandler receives Stripe webhook deliveries.
type StripeHandler struct {
	billing service.BillingService
	logger  *slog.Logger
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(billing service.BillingService, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		billing: billing,
		logger:  logger.With("handler", "stripe_webhook"),
	}
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// HandleWebhook handles POST /webhooks/stripe
//
// Responses:
//
//	503 when no signing secret is configured
//	401 when the signature is missing or wrong
//	400 when the verified payload cannot be decoded
//	500 when the state change could not be persisted, so Stripe redelivers
//	200 otherwise, including duplicates and events for unknown tenants
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger invoice.payment_failed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handler.JSONErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.read", "Payload too large"))
			return
		}
		handler.JSONErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.read", "Error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")

	result, err := h.billing.HandleWebhook(ctx, payload, signature)
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EINTERNAL:
			h.logger.Error("webhook processing failed", "error", err)
			extras := map[string]interface{}{"op": domain.ErrorOp(err)}
			if result != nil {
				extras["event_id"] = result.EventID
				extras["event_type"] = result.EventType
			}
			telemetry.CaptureErrorFromContext(ctx, err, extras)
		case domain.EUNAUTHORIZED:
			h.logger.Warn("webhook signature rejected", "signature_present", signature != "")
		default:
			h.logger.Warn("webhook rejected", "error", err)
		}
		handler.JSONErrorResponse(w, r, err)
		return
	}

	telemetry.AddBreadcrumb("webhook", "stripe event handled", map[string]interface{}{
		"event_id":   result.EventID,
		"event_type": result.EventType,
		"outcome":    string(result.Outcome),
	})
	h.logger.Info("webhook handled",
		"event_id", result.EventID,
		"event_type", result.EventType,
		"outcome", result.Outcome,
	)
	handler.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
}
