package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/bottega-market/api/internal/platform/httpx"
	"github.com/bottega-market/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives PSP callbacks and forwards verified payment
// outcomes to the payment outcome service.
type WebhookHandlers struct {
	signingSecret string
	outcomes      services.PaymentOutcomeService
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs handlers verifying Stripe signatures with the
// given signing secret.
func NewWebhookHandlers(signingSecret string, outcomes services.PaymentOutcomeService, logger func(ctx context.Context, event string, fields map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		signingSecret: signingSecret,
		outcomes:      outcomes,
		logger:        logger,
	}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	var session stripe.CheckoutSession
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.expired":
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed checkout session payload", http.StatusBadRequest))
			return
		}
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
		h.logger(ctx, "webhook.ignored", map[string]any{"type": string(event.Type)})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	orderID := strings.TrimSpace(session.Metadata["order_id"])
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout session carries no order reference", http.StatusBadRequest))
		return
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		err = h.outcomes.HandleSessionCompleted(ctx, orderID, session.ID)
	case "checkout.session.expired":
		err = h.outcomes.HandleSessionExpired(ctx, orderID, session.ID)
	}
	if err != nil {
		h.writeOutcomeError(ctx, w, err)
		return
	}

	h.logger(ctx, "webhook.processed", map[string]any{
		"type":    string(event.Type),
		"orderId": orderID,
	})
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

func (h *WebhookHandlers) writeOutcomeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput), errors.Is(err, services.ErrPaymentSessionMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order matches the session", http.StatusNotFound))
	default:
		// A 5xx keeps the delivery in Stripe's retry queue.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process payment outcome", http.StatusInternalServerError))
	}
}
