package repositories

import (
	"context"
	"time"

	"github.com/bottega-market/api/internal/domain"
)

// ProductRepository reads catalog rows. The marketplace core never mutates
// catalog data except the availability counter, which only the stock ledger
// touches.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository owns live cart line persistence keyed by (customer, product).
type CartRepository interface {
	InsertLine(ctx context.Context, line domain.CartLine) error
	UpdateLine(ctx context.Context, line domain.CartLine) error
	GetLine(ctx context.Context, customerID, productID string) (domain.CartLine, error)
	DeleteLine(ctx context.Context, customerID, productID string) error
	ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error)
	Clear(ctx context.Context, customerID string) error
}

// StockLedger exposes availability reads against the catalog. Reservation and
// release writes run inside order transactions and are owned by
// OrderRepository so holds and status flips stay atomic.
type StockLedger interface {
	AvailableQuantity(ctx context.Context, productID string) (int, error)
	CheckAvailability(ctx context.Context, productID string, quantity int) error
}

// SubOrderFilter narrows artisan sub-order listings.
type SubOrderFilter struct {
	Status domain.SubOrderStatus
	Limit  int
	Offset int
}

// OrderRepository persists order headers, sub-orders, frozen lines, and the
// stock reservations tied to them.
type OrderRepository interface {
	// CreatePendingOrder atomically upserts the customer contact, inserts the
	// order header, sub-orders and lines, decrements stock, records
	// reservations, and clears the cart. Returns a conflict error when the
	// customer already has a pending order and an insufficient-stock error
	// when any hold cannot be taken.
	CreatePendingOrder(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error

	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindPendingByCustomer(ctx context.Context, customerID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, error)

	// FindCustomer loads the stored contact for notification delivery and
	// payment-session prefill.
	FindCustomer(ctx context.Context, customerID string) (domain.CustomerInfo, error)

	AttachPaymentSession(ctx context.Context, orderID string, ref domain.PaymentSessionRef) error

	// MarkPaid flips a pending order to paid and commits its reservations.
	// Orders already terminal are left untouched and reported as invalid state.
	MarkPaid(ctx context.Context, orderID string, now time.Time) error

	// ReleaseAndFinish flips a pending order to the given terminal status,
	// restores reserved stock, and marks the reservations released.
	ReleaseAndFinish(ctx context.Context, orderID string, to domain.OrderStatus, now time.Time) error

	// ListExpiredPending returns pending orders whose payment session lapsed
	// before the given instant, for the reconciliation sweep.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)

	FindSubOrder(ctx context.Context, subOrderID string) (domain.SubOrder, error)
	ListSubOrdersByArtisan(ctx context.Context, artisanID string, filter SubOrderFilter) ([]domain.SubOrder, error)

	// UpdateSubOrderStatus applies a guarded transition, failing with invalid
	// state when the stored status no longer matches from.
	UpdateSubOrderStatus(ctx context.Context, subOrderID string, from, to domain.SubOrderStatus, now time.Time) error
}

// HealthRepository reports backing store connectivity for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
