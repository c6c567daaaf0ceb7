package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/platform/auth"
	"github.com/bottega-market/api/internal/platform/httpx"
	"github.com/bottega-market/api/internal/services"
)

const maxArtisanBodySize = 4 * 1024

// ArtisanHandlers exposes the fulfillment endpoints for artisan accounts.
type ArtisanHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewArtisanHandlers constructs handlers enforcing artisan authentication
// before invoking the order service.
func NewArtisanHandlers(authn *auth.Authenticator, orders services.OrderService) *ArtisanHandlers {
	return &ArtisanHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /artisan endpoints onto the provided router.
func (h *ArtisanHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleArtisan))
	}
	r.Get("/suborders", h.listSubOrders)
	r.Get("/suborders/{subOrderID}", h.getSubOrder)
	r.Patch("/suborders/{subOrderID}", h.setSubOrderStatus)
}

func (h *ArtisanHandlers) listSubOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	limit, offset := parsePaging(r)
	subs, err := h.orders.ListSubOrders(ctx, identity.ID, services.SubOrderListFilter{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeSubOrderError(ctx, w, err)
		return
	}

	payload := make([]artisanSubOrderPayload, 0, len(subs))
	for _, sub := range subs {
		payload = append(payload, buildArtisanSubOrderPayload(sub))
	}
	writeJSONResponse(w, http.StatusOK, artisanSubOrdersResponse{SubOrders: payload})
}

func (h *ArtisanHandlers) getSubOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	sub, err := h.orders.GetSubOrder(ctx, identity.ID, chi.URLParam(r, "subOrderID"))
	if err != nil {
		h.writeSubOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, artisanSubOrderResponse{SubOrder: buildArtisanSubOrderPayload(sub)})
}

func (h *ArtisanHandlers) setSubOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxArtisanBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setSubOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	sub, err := h.orders.SetSubOrderStatus(ctx, services.SetSubOrderStatusCommand{
		ArtisanID:  identity.ID,
		SubOrderID: chi.URLParam(r, "subOrderID"),
		NewStatus:  req.Status,
	})
	if err != nil {
		h.writeSubOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, artisanSubOrderResponse{SubOrder: buildArtisanSubOrderPayload(sub)})
}

func (h *ArtisanHandlers) writeSubOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSubOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("suborder_not_found", "sub-order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSubOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "sub-order belongs to another artisan", http.StatusForbidden))
	case errors.Is(err, services.ErrSubOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("suborder_error", "failed to process sub-order request", http.StatusInternalServerError))
	}
}

type setSubOrderStatusRequest struct {
	Status string `json:"status"`
}

type artisanSubOrdersResponse struct {
	SubOrders []artisanSubOrderPayload `json:"sub_orders"`
}

type artisanSubOrderResponse struct {
	SubOrder artisanSubOrderPayload `json:"sub_order"`
}

type artisanSubOrderPayload struct {
	ID          string             `json:"id"`
	OrderID     string             `json:"order_id"`
	OrderStatus string             `json:"order_status"`
	Status      string             `json:"status"`
	Subtotal    float64            `json:"subtotal"`
	Lines       []orderLinePayload `json:"lines"`
	Customer    customerPayload    `json:"customer"`
	CreatedAt   string             `json:"created_at,omitempty"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
}

type customerPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

func buildArtisanSubOrderPayload(sub domain.SubOrder) artisanSubOrderPayload {
	payload := artisanSubOrderPayload{
		ID:          sub.ID,
		OrderID:     sub.OrderID,
		OrderStatus: string(sub.ParentStatus),
		Status:      string(sub.Status),
		Subtotal:    sub.Subtotal,
		Lines:       make([]orderLinePayload, 0, len(sub.Lines)),
		Customer: customerPayload{
			Name:    sub.Customer.Name,
			Email:   sub.Customer.Email,
			Address: sub.Customer.Address,
		},
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
