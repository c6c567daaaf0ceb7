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

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the authenticated cart endpoints for the current customer.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing customer authentication before
// invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleCustomer))
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.setQuantity)
	r.Patch("/items/{productID}", h.adjustQuantity)
	r.Delete("/items/{productID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.ID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddItemCommand{
		CustomerID: identity.ID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setQuantityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SetQuantity(ctx, services.SetQuantityCommand{
		CustomerID: identity.ID,
		ProductID:  chi.URLParam(r, "productID"),
		Quantity:   *req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) adjustQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adjustQuantityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.Delta == nil || *req.Delta == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delta must be a non-zero integer", http.StatusBadRequest))
		return
	}

	cmd := services.AdjustQuantityCommand{
		CustomerID: identity.ID,
		ProductID:  chi.URLParam(r, "productID"),
	}

	var cart domain.Cart
	if *req.Delta > 0 {
		cmd.Delta = *req.Delta
		cart, err = h.carts.Increment(ctx, cmd)
	} else {
		cmd.Delta = -*req.Delta
		cart, err = h.carts.Decrement(ctx, cmd)
	}
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, identity.ID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, identity.ID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemExists):
		httpx.WriteError(ctx, w, httpx.NewError("item_already_in_cart", "product already has a cart line; update its quantity instead", http.StatusConflict))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type adjustQuantityRequest struct {
	Delta *int `json:"delta"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	CustomerID string            `json:"customer_id"`
	Items      []cartItemPayload `json:"items"`
	ItemsCount int               `json:"items_count"`
	Total      float64           `json:"total"`
}

type cartItemPayload struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	ArtisanID   string  `json:"artisan_id"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	Subtotal    float64 `json:"subtotal"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, cartItemPayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ArtisanID:   line.ArtisanID,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal,
			UpdatedAt:   formatTime(line.UpdatedAt),
		})
	}
	return cartPayload{
		CustomerID: cart.CustomerID,
		Items:      items,
		ItemsCount: len(items),
		Total:      cart.Total,
	}
}
