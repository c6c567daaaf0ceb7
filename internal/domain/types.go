package domain

import (
	"math"
	"time"
)

// Role identifies the kind of authenticated account acting on the API.
type Role string

const (
	// RoleCustomer is a buyer account owning a cart and placing orders.
	RoleCustomer Role = "customer"
	// RoleArtisan is a seller account owning products and fulfilling sub-orders.
	RoleArtisan Role = "artisan"
)

// OrderStatus enumerates the lifecycle states of an order header.
type OrderStatus string

const (
	// OrderStatusPending indicates stock is reserved and payment is awaited.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the payment session was confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusExpired indicates the payment session lapsed before confirmation.
	OrderStatusExpired OrderStatus = "expired"
	// OrderStatusCancelled indicates the customer cancelled before payment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed on the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

// SubOrderStatus enumerates the fulfillment states of a per-artisan order slice.
type SubOrderStatus string

const (
	// SubOrderStatusInAttesa is the initial state set at order creation.
	SubOrderStatusInAttesa SubOrderStatus = "in_attesa"
	// SubOrderStatusSpedito indicates the artisan shipped the items.
	SubOrderStatusSpedito SubOrderStatus = "spedito"
	// SubOrderStatusConsegnato is the terminal state of a normal fulfillment.
	SubOrderStatusConsegnato SubOrderStatus = "consegnato"
)

// Valid reports whether the value is one of the known fulfillment states.
func (s SubOrderStatus) Valid() bool {
	switch s {
	case SubOrderStatusInAttesa, SubOrderStatusSpedito, SubOrderStatusConsegnato:
		return true
	}
	return false
}

// Next returns the single allowed forward transition, or empty when terminal.
func (s SubOrderStatus) Next() SubOrderStatus {
	switch s {
	case SubOrderStatusInAttesa:
		return SubOrderStatusSpedito
	case SubOrderStatusSpedito:
		return SubOrderStatusConsegnato
	}
	return ""
}

// ReservationStatus enumerates the states of a stock reservation row.
type ReservationStatus string

const (
	// ReservationStatusReserved marks stock temporarily held for a pending order.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusCommitted marks a hold made permanent by payment.
	ReservationStatusCommitted ReservationStatus = "committed"
	// ReservationStatusReleased marks a hold returned to the catalog.
	ReservationStatusReleased ReservationStatus = "released"
)

// Product is the read-mostly catalog entity. This core never mutates catalog
// rows other than the availability counter, and only through the stock ledger.
type Product struct {
	ID        string
	Name      string
	UnitPrice float64
	Available int
	ArtisanID string
	Deleted   bool
}

// CartLine is a live cart entry. Its subtotal is recomputed from the current
// catalog price on every mutation and must never be trusted from the client.
type CartLine struct {
	CustomerID  string
	ProductID   string
	ProductName string
	ArtisanID   string
	UnitPrice   float64
	Quantity    int
	Subtotal    float64
	UpdatedAt   time.Time
}

// Cart is the ordered view of a customer's cart with its computed total.
type Cart struct {
	CustomerID string
	Items      []CartLine
	Total      float64
}

// PaymentSessionRef records the external payment session attached to an order.
type PaymentSessionRef struct {
	SessionID string
	IntentID  string
	URL       string
	ExpiresAt time.Time
}

// Order is the immutable header created at checkout. Orders are never
// deleted; terminal states are reached only through status transitions.
type Order struct {
	ID         string
	CustomerID string
	Status     OrderStatus
	Total      float64
	Payment    PaymentSessionRef
	SubOrders  []SubOrder
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CustomerInfo is the shipping contact exposed to the owning artisan.
type CustomerInfo struct {
	ID      string
	Name    string
	Email   string
	Address string
}

// SubOrder is the slice of an order belonging to one artisan, with its own
// fulfillment state. ParentStatus mirrors the order header so transition
// checks do not need a second read.
type SubOrder struct {
	ID           string
	OrderID      string
	ArtisanID    string
	Status       SubOrderStatus
	ParentStatus OrderStatus
	Subtotal     float64
	Lines        []OrderLine
	Customer     CustomerInfo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderLine freezes a purchased item. UnitPrice is the historical price
// snapshotted at order creation and is immune to later catalog changes.
type OrderLine struct {
	SubOrderID  string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   float64
	Subtotal    float64
}

// StockReservation is the explicit hold tying reserved quantity to an order,
// so release is a precise inverse rather than inferred from order lines.
type StockReservation struct {
	OrderID   string
	ProductID string
	Quantity  int
	Status    ReservationStatus
}

// Round2 rounds a currency amount to two decimal places using standard
// rounding, not truncation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
