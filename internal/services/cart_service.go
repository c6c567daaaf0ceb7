package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/repositories"
)

const (
	eventCartItemAdded   = "cart.item_added"
	eventCartItemUpdated = "cart.item_updated"
	eventCartItemRemoved = "cart.item_removed"
	eventCartCleared     = "cart.cleared"
)

var (
	// ErrCartInvalidInput signals the caller provided invalid arguments.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the product is missing or soft-deleted.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartItemExists indicates the product already has a line in this cart.
	ErrCartItemExists = errors.New("cart: item already in cart")
	// ErrCartItemNotFound indicates the cart has no line for this product.
	ErrCartItemNotFound = errors.New("cart: item not in cart")
	// ErrCartInsufficientStock indicates the requested quantity exceeds availability.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
	// ErrCartInternal indicates an unexpected persistence failure.
	ErrCartInternal = errors.New("cart: internal error")
)

// CartServiceDeps bundles the collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Stock    repositories.StockLedger
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	stock    repositories.StockLedger
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cart service: stock ledger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		stock:    deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetCart returns the customer's lines with the computed, rounded total.
func (s *cartService) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	lines, err := s.carts.ListLines(ctx, customerID)
	if err != nil {
		return domain.Cart{}, s.mapRepositoryError(err)
	}
	return assembleCart(customerID, lines), nil
}

// AddItem inserts a new line after checking the product and its availability.
// Stock is only checked here, never decremented.
func (s *cartService) AddItem(ctx context.Context, cmd AddItemCommand) (domain.Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" || productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return domain.Cart{}, s.mapProductError(err)
	}
	if err := s.stock.CheckAvailability(ctx, productID, cmd.Quantity); err != nil {
		return domain.Cart{}, s.mapRepositoryError(err)
	}

	line := domain.CartLine{
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   cmd.Quantity,
		UpdatedAt:  s.clock(),
	}
	if err := s.carts.InsertLine(ctx, line); err != nil {
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorConflict {
			return domain.Cart{}, fmt.Errorf("%w: product %s", ErrCartItemExists, productID)
		}
		return domain.Cart{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventCartItemAdded, map[string]any{
		"customerId": customerID,
		"productId":  productID,
		"quantity":   cmd.Quantity,
	})

	return s.GetCart(ctx, customerID)
}

// SetQuantity replaces a line's quantity. Zero or negative removes the line.
func (s *cartService) SetQuantity(ctx context.Context, cmd SetQuantityCommand) (domain.Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" || productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}

	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, customerID, productID)
	}

	if _, err := s.carts.GetLine(ctx, customerID, productID); err != nil {
		return domain.Cart{}, s.mapLineError(err)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return domain.Cart{}, s.mapProductError(err)
	}
	if err := s.stock.CheckAvailability(ctx, productID, cmd.Quantity); err != nil {
		return domain.Cart{}, s.mapRepositoryError(err)
	}

	line := domain.CartLine{
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   cmd.Quantity,
		UpdatedAt:  s.clock(),
	}
	if err := s.carts.UpdateLine(ctx, line); err != nil {
		return domain.Cart{}, s.mapLineError(err)
	}

	s.logger(ctx, eventCartItemUpdated, map[string]any{
		"customerId": customerID,
		"productId":  productID,
		"quantity":   cmd.Quantity,
	})

	return s.GetCart(ctx, customerID)
}

// Increment raises a line's quantity by the delta.
func (s *cartService) Increment(ctx context.Context, cmd AdjustQuantityCommand) (domain.Cart, error) {
	return s.adjust(ctx, cmd, +1)
}

// Decrement lowers a line's quantity by the delta, removing it at zero.
func (s *cartService) Decrement(ctx context.Context, cmd AdjustQuantityCommand) (domain.Cart, error) {
	return s.adjust(ctx, cmd, -1)
}

func (s *cartService) adjust(ctx context.Context, cmd AdjustQuantityCommand, sign int) (domain.Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" || productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Delta <= 0 {
		return domain.Cart{}, fmt.Errorf("%w: delta must be positive", ErrCartInvalidInput)
	}

	line, err := s.carts.GetLine(ctx, customerID, productID)
	if err != nil {
		return domain.Cart{}, s.mapLineError(err)
	}

	return s.SetQuantity(ctx, SetQuantityCommand{
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   line.Quantity + sign*cmd.Delta,
	})
}

// RemoveItem deletes the line, reporting not found when it was never present.
func (s *cartService) RemoveItem(ctx context.Context, customerID, productID string) (domain.Cart, error) {
	customerID = strings.TrimSpace(customerID)
	productID = strings.TrimSpace(productID)
	if customerID == "" || productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}

	if err := s.carts.DeleteLine(ctx, customerID, productID); err != nil {
		return domain.Cart{}, s.mapLineError(err)
	}

	s.logger(ctx, eventCartItemRemoved, map[string]any{
		"customerId": customerID,
		"productId":  productID,
	})

	return s.GetCart(ctx, customerID)
}

// ClearCart removes every line. Clearing an empty cart succeeds.
func (s *cartService) ClearCart(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	if err := s.carts.Clear(ctx, customerID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, eventCartCleared, map[string]any{
		"customerId": customerID,
	})
	return nil
}

func assembleCart(customerID string, lines []domain.CartLine) domain.Cart {
	cart := domain.Cart{CustomerID: customerID, Items: lines}
	total := 0.0
	for _, line := range lines {
		total += line.Subtotal
	}
	cart.Total = domain.Round2(total)
	return cart
}

func (s *cartService) mapProductError(err error) error {
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorNotFound {
		return fmt.Errorf("%w: %s", ErrCartProductNotFound, storeErr.Message)
	}
	return s.mapRepositoryError(err)
}

func (s *cartService) mapLineError(err error) error {
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorNotFound {
		return fmt.Errorf("%w: %s", ErrCartItemNotFound, storeErr.Message)
	}
	return s.mapRepositoryError(err)
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case repositories.ErrorNotFound:
			return fmt.Errorf("%w: %s", ErrCartItemNotFound, storeErr.Message)
		case repositories.ErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrCartInsufficientStock, storeErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrCartInternal, err)
}
