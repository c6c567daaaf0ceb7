package services

import (
	"context"

	"github.com/bottega-market/api/internal/domain"
)

// AddItemCommand inserts a new cart line for the customer.
type AddItemCommand struct {
	CustomerID string
	ProductID  string
	Quantity   int
}

// SetQuantityCommand replaces the quantity of an existing cart line.
// A quantity of zero or less removes the line.
type SetQuantityCommand struct {
	CustomerID string
	ProductID  string
	Quantity   int
}

// AdjustQuantityCommand shifts the quantity of an existing cart line by a
// positive delta, up for Increment and down for Decrement.
type AdjustQuantityCommand struct {
	CustomerID string
	ProductID  string
	Delta      int
}

// CartService owns live cart mutation and reads.
type CartService interface {
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	AddItem(ctx context.Context, cmd AddItemCommand) (domain.Cart, error)
	SetQuantity(ctx context.Context, cmd SetQuantityCommand) (domain.Cart, error)
	Increment(ctx context.Context, cmd AdjustQuantityCommand) (domain.Cart, error)
	Decrement(ctx context.Context, cmd AdjustQuantityCommand) (domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, productID string) (domain.Cart, error)
	ClearCart(ctx context.Context, customerID string) error
}

// InitiateCheckoutCommand converts the customer's cart into a pending order.
type InitiateCheckoutCommand struct {
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Address       string
}

// CancelOrderCommand cancels the caller's own pending order.
type CancelOrderCommand struct {
	CustomerID string
	OrderID    string
}

// CheckoutResult carries the order backing a checkout attempt. Existing is
// true when a prior pending order was found instead of a new one created.
type CheckoutResult struct {
	Order      domain.Order
	PaymentURL string
	Existing   bool
}

// CheckoutService orchestrates cart-to-order conversion and cancellation.
type CheckoutService interface {
	Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
}

// SubOrderListFilter narrows an artisan's sub-order listing.
type SubOrderListFilter struct {
	Status string
	Limit  int
	Offset int
}

// SetSubOrderStatusCommand applies a fulfillment transition on behalf of the
// owning artisan.
type SetSubOrderStatusCommand struct {
	ArtisanID  string
	SubOrderID string
	NewStatus  string
}

// OrderService exposes order history to customers and fulfillment to artisans.
type OrderService interface {
	ListOrders(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, error)
	GetOrder(ctx context.Context, customerID, orderID string) (domain.Order, error)
	ListSubOrders(ctx context.Context, artisanID string, filter SubOrderListFilter) ([]domain.SubOrder, error)
	GetSubOrder(ctx context.Context, artisanID, subOrderID string) (domain.SubOrder, error)
	SetSubOrderStatus(ctx context.Context, cmd SetSubOrderStatusCommand) (domain.SubOrder, error)
}

// PaymentOutcomeService reconciles external payment results with order state.
type PaymentOutcomeService interface {
	// HandleSessionCompleted finalizes the order tied to a paid session.
	HandleSessionCompleted(ctx context.Context, orderID, sessionID string) error
	// HandleSessionExpired releases the order tied to a lapsed session.
	HandleSessionExpired(ctx context.Context, orderID, sessionID string) error
	// ReconcileExpired sweeps pending orders whose sessions lapsed without a
	// webhook, verifying each with the provider before releasing stock.
	ReconcileExpired(ctx context.Context, limit int) (int, error)
}
