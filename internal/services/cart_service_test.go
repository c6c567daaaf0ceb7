package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/repositories"
)

type stubCartRepository struct {
	insertLine func(ctx context.Context, line domain.CartLine) error
	updateLine func(ctx context.Context, line domain.CartLine) error
	getLine    func(ctx context.Context, customerID, productID string) (domain.CartLine, error)
	deleteLine func(ctx context.Context, customerID, productID string) error
	listLines  func(ctx context.Context, customerID string) ([]domain.CartLine, error)
	clear      func(ctx context.Context, customerID string) error
}

func (s *stubCartRepository) InsertLine(ctx context.Context, line domain.CartLine) error {
	return s.insertLine(ctx, line)
}

func (s *stubCartRepository) UpdateLine(ctx context.Context, line domain.CartLine) error {
	return s.updateLine(ctx, line)
}

func (s *stubCartRepository) GetLine(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
	return s.getLine(ctx, customerID, productID)
}

func (s *stubCartRepository) DeleteLine(ctx context.Context, customerID, productID string) error {
	return s.deleteLine(ctx, customerID, productID)
}

func (s *stubCartRepository) ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	return s.listLines(ctx, customerID)
}

func (s *stubCartRepository) Clear(ctx context.Context, customerID string) error {
	return s.clear(ctx, customerID)
}

type stubProductRepository struct {
	findByID func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return s.findByID(ctx, productID)
}

type stubStockLedger struct {
	available func(ctx context.Context, productID string) (int, error)
	check     func(ctx context.Context, productID string, quantity int) error
}

func (s *stubStockLedger) AvailableQuantity(ctx context.Context, productID string) (int, error) {
	return s.available(ctx, productID)
}

func (s *stubStockLedger) CheckAvailability(ctx context.Context, productID string, quantity int) error {
	return s.check(ctx, productID, quantity)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("NewCartService returned error: %v", err)
	}
	return svc
}

func emptyListLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	return nil, nil
}

func okProduct(available int) func(ctx context.Context, productID string) (domain.Product, error) {
	return func(ctx context.Context, productID string) (domain.Product, error) {
		return domain.Product{ID: productID, Name: "vaso", UnitPrice: 19.99, Available: available, ArtisanID: "art-1"}, nil
	}
}

func okStock() *stubStockLedger {
	return &stubStockLedger{
		available: func(ctx context.Context, productID string) (int, error) { return 10, nil },
		check:     func(ctx context.Context, productID string, quantity int) error { return nil },
	}
}

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); err == nil {
		t.Fatal("expected error when dependencies are missing")
	}
}

func TestAddItemInsertsLine(t *testing.T) {
	ctx := context.Background()
	var inserted domain.CartLine
	carts := &stubCartRepository{
		insertLine: func(ctx context.Context, line domain.CartLine) error {
			inserted = line
			return nil
		},
		listLines: func(ctx context.Context, customerID string) ([]domain.CartLine, error) {
			return []domain.CartLine{{
				CustomerID: customerID,
				ProductID:  "prod-1",
				Quantity:   2,
				UnitPrice:  19.99,
				Subtotal:   39.98,
			}}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	cart, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}
	if inserted.Quantity != 2 || inserted.ProductID != "prod-1" {
		t.Fatalf("unexpected inserted line: %+v", inserted)
	}
	if len(cart.Items) != 1 || cart.Total != 39.98 {
		t.Fatalf("unexpected cart: %+v", cart)
	}
}

func TestAddItemRejectsMissingProduct(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, CartServiceDeps{
		Carts: &stubCartRepository{},
		Products: &stubProductRepository{findByID: func(ctx context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, repositories.NewStoreError(repositories.ErrorNotFound, "product not found", nil)
		}},
		Stock: okStock(),
	})

	_, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "cust-1", ProductID: "ghost", Quantity: 1})
	if !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected ErrCartProductNotFound, got %v", err)
	}
}

func TestAddItemRejectsDuplicateLineWithoutMutation(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		insertLine: func(ctx context.Context, line domain.CartLine) error {
			return repositories.NewStoreError(repositories.ErrorConflict, "line exists", nil)
		},
		listLines: func(ctx context.Context, customerID string) ([]domain.CartLine, error) {
			t.Fatal("cart must not be re-read after a rejected insert")
			return nil, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	_, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 1})
	if !errors.Is(err, ErrCartItemExists) {
		t.Fatalf("expected ErrCartItemExists, got %v", err)
	}
}

func TestAddItemRejectsQuantityBeyondStock(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		insertLine: func(ctx context.Context, line domain.CartLine) error {
			t.Fatal("insert must not run when stock is short")
			return nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(3)},
		Stock: &stubStockLedger{
			available: func(ctx context.Context, productID string) (int, error) { return 3, nil },
			check: func(ctx context.Context, productID string, quantity int) error {
				return repositories.NewStoreError(repositories.ErrorInsufficientStock, "3 available", nil)
			},
		},
	})

	_, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 4})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock, got %v", err)
	}
}

func TestAddItemValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    &stubCartRepository{},
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	if _, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 0}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for zero quantity, got %v", err)
	}
	if _, err := svc.AddItem(ctx, AddItemCommand{CustomerID: "", ProductID: "prod-1", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for missing customer, got %v", err)
	}
}

func TestSetQuantityUpdatesLine(t *testing.T) {
	ctx := context.Background()
	var updated domain.CartLine
	carts := &stubCartRepository{
		getLine: func(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
			return domain.CartLine{CustomerID: customerID, ProductID: productID, Quantity: 1}, nil
		},
		updateLine: func(ctx context.Context, line domain.CartLine) error {
			updated = line
			return nil
		},
		listLines: emptyListLines,
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	if _, err := svc.SetQuantity(ctx, SetQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 3}); err != nil {
		t.Fatalf("SetQuantity returned error: %v", err)
	}
	if updated.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", updated.Quantity)
	}
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	deleted := false
	carts := &stubCartRepository{
		deleteLine: func(ctx context.Context, customerID, productID string) error {
			deleted = true
			return nil
		},
		updateLine: func(ctx context.Context, line domain.CartLine) error {
			t.Fatal("update must not run for a zero quantity")
			return nil
		},
		listLines: emptyListLines,
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	if _, err := svc.SetQuantity(ctx, SetQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 0}); err != nil {
		t.Fatalf("SetQuantity returned error: %v", err)
	}
	if !deleted {
		t.Fatal("expected the line to be deleted")
	}
}

func TestSetQuantityMissingLine(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		getLine: func(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
			return domain.CartLine{}, repositories.NewStoreError(repositories.ErrorNotFound, "no line", nil)
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	_, err := svc.SetQuantity(ctx, SetQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Quantity: 2})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestIncrementAddsDelta(t *testing.T) {
	ctx := context.Background()
	var updated domain.CartLine
	carts := &stubCartRepository{
		getLine: func(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
			return domain.CartLine{CustomerID: customerID, ProductID: productID, Quantity: 2}, nil
		},
		updateLine: func(ctx context.Context, line domain.CartLine) error {
			updated = line
			return nil
		},
		listLines: emptyListLines,
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(10)},
		Stock:    okStock(),
	})

	if _, err := svc.Increment(ctx, AdjustQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Delta: 3}); err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if updated.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", updated.Quantity)
	}
}

func TestIncrementBeyondStockLeavesLineUntouched(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		getLine: func(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
			return domain.CartLine{CustomerID: customerID, ProductID: productID, Quantity: 2}, nil
		},
		updateLine: func(ctx context.Context, line domain.CartLine) error {
			t.Fatal("update must not run when stock is short")
			return nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(3)},
		Stock: &stubStockLedger{
			available: func(ctx context.Context, productID string) (int, error) { return 3, nil },
			check: func(ctx context.Context, productID string, quantity int) error {
				if quantity > 3 {
					return repositories.NewStoreError(repositories.ErrorInsufficientStock, "3 available", nil)
				}
				return nil
			},
		},
	})

	_, err := svc.Increment(ctx, AdjustQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Delta: 2})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock, got %v", err)
	}
}

func TestDecrementToZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	deleted := false
	carts := &stubCartRepository{
		getLine: func(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
			return domain.CartLine{CustomerID: customerID, ProductID: productID, Quantity: 2}, nil
		},
		deleteLine: func(ctx context.Context, customerID, productID string) error {
			deleted = true
			return nil
		},
		listLines: emptyListLines,
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	if _, err := svc.Decrement(ctx, AdjustQuantityCommand{CustomerID: "cust-1", ProductID: "prod-1", Delta: 2}); err != nil {
		t.Fatalf("Decrement returned error: %v", err)
	}
	if !deleted {
		t.Fatal("expected the line to be removed")
	}
}

func TestRemoveItemMissingLine(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		deleteLine: func(ctx context.Context, customerID, productID string) error {
			return repositories.NewStoreError(repositories.ErrorNotFound, "no line", nil)
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	_, err := svc.RemoveItem(ctx, "cust-1", "prod-1")
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestClearCartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	calls := 0
	carts := &stubCartRepository{
		clear: func(ctx context.Context, customerID string) error {
			calls++
			return nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	if err := svc.ClearCart(ctx, "cust-1"); err != nil {
		t.Fatalf("ClearCart returned error: %v", err)
	}
	if err := svc.ClearCart(ctx, "cust-1"); err != nil {
		t.Fatalf("second ClearCart returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 clear calls, got %d", calls)
	}
}

func TestGetCartRoundsTotal(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		listLines: func(ctx context.Context, customerID string) ([]domain.CartLine, error) {
			return []domain.CartLine{
				{ProductID: "a", Quantity: 1, UnitPrice: 0.1, Subtotal: 0.1},
				{ProductID: "b", Quantity: 1, UnitPrice: 0.2, Subtotal: 0.2},
			}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{
		Carts:    carts,
		Products: &stubProductRepository{findByID: okProduct(5)},
		Stock:    okStock(),
	})

	cart, err := svc.GetCart(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if cart.Total != 0.3 {
		t.Fatalf("expected total 0.30, got %v", cart.Total)
	}
}
