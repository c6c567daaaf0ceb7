package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bottega-market/api/internal/platform/auth"
	"github.com/bottega-market/api/internal/platform/httpx"
	"github.com/bottega-market/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers exposes the checkout initiation endpoint.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs handlers enforcing customer authentication
// before invoking the checkout service.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleCustomer))
	}
	r.Post("/", h.initiate)
}

func (h *CheckoutHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req initiateCheckoutRequest
	if body, err := readLimitedBody(r, maxCheckoutBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.Initiate(ctx, services.InitiateCheckoutCommand{
		CustomerID:    identity.ID,
		CustomerName:  identity.Name,
		CustomerEmail: identity.Email,
		Address:       req.ShippingAddress,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, result, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:      buildOrderPayload(result.Order),
		PaymentURL: result.PaymentURL,
	})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, result services.CheckoutResult, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPendingExists):
		// The standing order is returned so the client can resume payment.
		writeJSONResponse(w, http.StatusConflict, checkoutConflictResponse{
			Error:      "pending_order_exists",
			Message:    "a pending order already exists; complete or cancel it first",
			Order:      buildOrderPayload(result.Order),
			PaymentURL: result.PaymentURL,
		})
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutSessionUnavailable):
		writeJSONResponse(w, http.StatusBadGateway, checkoutConflictResponse{
			Error:   "payment_session_unavailable",
			Message: "order created but the payment session could not be; retry checkout to attach one",
			Order:   buildOrderPayload(result.Order),
		})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}

type initiateCheckoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
}

type checkoutResponse struct {
	Order      orderPayload `json:"order"`
	PaymentURL string       `json:"payment_url,omitempty"`
}

type checkoutConflictResponse struct {
	Error      string       `json:"error"`
	Message    string       `json:"message"`
	Order      orderPayload `json:"order"`
	PaymentURL string       `json:"payment_url,omitempty"`
}
