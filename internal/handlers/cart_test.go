package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/platform/auth"
	"github.com/bottega-market/api/internal/services"
)

type stubCartService struct {
	getCart     func(ctx context.Context, customerID string) (domain.Cart, error)
	addItem     func(ctx context.Context, cmd services.AddItemCommand) (domain.Cart, error)
	setQuantity func(ctx context.Context, cmd services.SetQuantityCommand) (domain.Cart, error)
	increment   func(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error)
	decrement   func(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error)
	removeItem  func(ctx context.Context, customerID, productID string) (domain.Cart, error)
	clearCart   func(ctx context.Context, customerID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	return s.getCart(ctx, customerID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddItemCommand) (domain.Cart, error) {
	return s.addItem(ctx, cmd)
}

func (s *stubCartService) SetQuantity(ctx context.Context, cmd services.SetQuantityCommand) (domain.Cart, error) {
	return s.setQuantity(ctx, cmd)
}

func (s *stubCartService) Increment(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error) {
	return s.increment(ctx, cmd)
}

func (s *stubCartService) Decrement(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error) {
	return s.decrement(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, customerID, productID string) (domain.Cart, error) {
	return s.removeItem(ctx, customerID, productID)
}

func (s *stubCartService) ClearCart(ctx context.Context, customerID string) error {
	return s.clearCart(ctx, customerID)
}

func customerRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	identity := &auth.Identity{ID: "cust-1", Email: "giulia@example.com", Name: "Giulia", Role: auth.RoleCustomer}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func newCartRouter(service services.CartService) chi.Router {
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getCart: func(ctx context.Context, customerID string) (domain.Cart, error) {
			if customerID != "cust-1" {
				t.Fatalf("unexpected customer id %q", customerID)
			}
			return domain.Cart{
				CustomerID: "cust-1",
				Items: []domain.CartLine{{
					CustomerID:  "cust-1",
					ProductID:   "prod-1",
					ProductName: "vaso",
					ArtisanID:   "art-1",
					UnitPrice:   19.99,
					Quantity:    2,
					Subtotal:    39.98,
					UpdatedAt:   now,
				}},
				Total: 39.98,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, customerRequest(http.MethodGet, "/cart", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ItemsCount != 1 || resp.Cart.Total != 39.98 {
		t.Fatalf("unexpected cart payload: %+v", resp.Cart)
	}
	if resp.Cart.Items[0].ArtisanID != "art-1" {
		t.Fatalf("expected artisan id on line, got %+v", resp.Cart.Items[0])
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	service := &stubCartService{}
	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	service := &stubCartService{
		addItem: func(ctx context.Context, cmd services.AddItemCommand) (domain.Cart, error) {
			if cmd.ProductID != "prod-1" || cmd.Quantity != 2 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return domain.Cart{CustomerID: cmd.CustomerID, Total: 39.98}, nil
		},
	}

	rr := httptest.NewRecorder()
	req := customerRequest(http.MethodPost, "/cart/items", `{"product_id":"prod-1","quantity":2}`)
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItemDuplicateConflict(t *testing.T) {
	service := &stubCartService{
		addItem: func(ctx context.Context, cmd services.AddItemCommand) (domain.Cart, error) {
			return domain.Cart{}, services.ErrCartItemExists
		},
	}

	rr := httptest.NewRecorder()
	req := customerRequest(http.MethodPost, "/cart/items", `{"product_id":"prod-1","quantity":1}`)
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "item_already_in_cart") {
		t.Fatalf("expected item_already_in_cart code, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemInsufficientStock(t *testing.T) {
	service := &stubCartService{
		addItem: func(ctx context.Context, cmd services.AddItemCommand) (domain.Cart, error) {
			return domain.Cart{}, services.ErrCartInsufficientStock
		},
	}

	rr := httptest.NewRecorder()
	req := customerRequest(http.MethodPost, "/cart/items", `{"product_id":"prod-1","quantity":99}`)
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "insufficient_stock") {
		t.Fatalf("expected insufficient_stock code, got %s", rr.Body.String())
	}
}

func TestCartHandlersSetQuantity(t *testing.T) {
	service := &stubCartService{
		setQuantity: func(ctx context.Context, cmd services.SetQuantityCommand) (domain.Cart, error) {
			if cmd.ProductID != "prod-1" || cmd.Quantity != 0 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return domain.Cart{CustomerID: cmd.CustomerID}, nil
		},
	}

	rr := httptest.NewRecorder()
	req := customerRequest(http.MethodPut, "/cart/items/prod-1", `{"quantity":0}`)
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAdjustQuantityRoutesSign(t *testing.T) {
	incremented := false
	decremented := false
	service := &stubCartService{
		increment: func(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error) {
			if cmd.Delta != 2 {
				t.Fatalf("expected delta 2, got %d", cmd.Delta)
			}
			incremented = true
			return domain.Cart{}, nil
		},
		decrement: func(ctx context.Context, cmd services.AdjustQuantityCommand) (domain.Cart, error) {
			if cmd.Delta != 1 {
				t.Fatalf("expected delta 1, got %d", cmd.Delta)
			}
			decremented = true
			return domain.Cart{}, nil
		},
	}
	router := newCartRouter(service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPatch, "/cart/items/prod-1", `{"delta":2}`))
	if rr.Code != http.StatusOK || !incremented {
		t.Fatalf("expected increment, got %d incremented=%v", rr.Code, incremented)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPatch, "/cart/items/prod-1", `{"delta":-1}`))
	if rr.Code != http.StatusOK || !decremented {
		t.Fatalf("expected decrement, got %d decremented=%v", rr.Code, decremented)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPatch, "/cart/items/prod-1", `{"delta":0}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero delta, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItemNotFound(t *testing.T) {
	service := &stubCartService{
		removeItem: func(ctx context.Context, customerID, productID string) (domain.Cart, error) {
			return domain.Cart{}, services.ErrCartItemNotFound
		},
	}

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, customerRequest(http.MethodDelete, "/cart/items/ghost", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearCart: func(ctx context.Context, customerID string) error {
			cleared = true
			return nil
		},
	}

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, customerRequest(http.MethodDelete, "/cart", ""))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatal("expected the cart to be cleared")
	}
}
