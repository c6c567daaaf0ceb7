package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/platform/auth"
	"github.com/bottega-market/api/internal/platform/httpx"
	"github.com/bottega-market/api/internal/services"
)

// OrderHandlers exposes the customer order history and cancellation endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewOrderHandlers constructs handlers enforcing customer authentication
// before invoking the order services.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: checkout,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleCustomer))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	limit, offset := parsePaging(r)
	orders, err := h.orders.ListOrders(ctx, identity.ID, limit, offset)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, ordersResponse{Orders: payload})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.ID, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.checkout.Cancel(ctx, services.CancelOrderCommand{
		CustomerID: identity.ID,
		OrderID:    chi.URLParam(r, "orderID"),
	})
	if err != nil {
		h.writeCancelError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func (h *OrderHandlers) writeCancelError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "only pending orders can be cancelled", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to cancel order", http.StatusInternalServerError))
	}
}

func parsePaging(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	offset, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("offset")))
	return limit, offset
}

type ordersResponse struct {
	Orders []orderPayload `json:"orders"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Status     string            `json:"status"`
	Total      float64           `json:"total"`
	Payment    *paymentPayload   `json:"payment,omitempty"`
	SubOrders  []subOrderPayload `json:"sub_orders"`
	CreatedAt  string            `json:"created_at,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type paymentPayload struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type subOrderPayload struct {
	ID        string             `json:"id"`
	OrderID   string             `json:"order_id"`
	ArtisanID string             `json:"artisan_id"`
	Status    string             `json:"status"`
	Subtotal  float64            `json:"subtotal"`
	Lines     []orderLinePayload `json:"lines"`
	CreatedAt string             `json:"created_at,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		Total:      order.Total,
		SubOrders:  make([]subOrderPayload, 0, len(order.SubOrders)),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}
	if order.Payment.SessionID != "" {
		payload.Payment = &paymentPayload{
			SessionID: order.Payment.SessionID,
			URL:       order.Payment.URL,
			ExpiresAt: formatTime(order.Payment.ExpiresAt),
		}
	}
	for _, sub := range order.SubOrders {
		payload.SubOrders = append(payload.SubOrders, buildSubOrderPayload(sub))
	}
	return payload
}

func buildSubOrderPayload(sub domain.SubOrder) subOrderPayload {
	payload := subOrderPayload{
		ID:        sub.ID,
		OrderID:   sub.OrderID,
		ArtisanID: sub.ArtisanID,
		Status:    string(sub.Status),
		Subtotal:  sub.Subtotal,
		Lines:     make([]orderLinePayload, 0, len(sub.Lines)),
		CreatedAt: formatTime(sub.CreatedAt),
		UpdatedAt: formatTime(sub.UpdatedAt),
	}
	for _, line := range sub.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
	}
	return payload
}
