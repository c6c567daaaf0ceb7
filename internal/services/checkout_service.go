package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/events"
	"github.com/bottega-market/api/internal/notifications"
	"github.com/bottega-market/api/internal/payments"
	"github.com/bottega-market/api/internal/repositories"
)

const (
	eventCheckoutInitiated      = "checkout.initiated"
	eventCheckoutPendingReused  = "checkout.pending_reused"
	eventCheckoutSessionFailed  = "checkout.session_failed"
	eventCheckoutOrderCancelled = "checkout.order_cancelled"
	eventCheckoutPublishFailed  = "checkout.publish_failed"
	eventCheckoutNotifyFailed   = "checkout.notify_failed"

	checkoutCurrency = "eur"
)

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid arguments.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates checkout was attempted on an empty cart.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutPendingExists indicates the customer already has a pending
	// order. The accompanying CheckoutResult carries that order.
	ErrCheckoutPendingExists = errors.New("checkout: pending order exists")
	// ErrCheckoutInsufficientStock indicates a reservation could not be taken.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutSessionUnavailable indicates the order was created but the
	// payment session could not be. The order stays pending and retryable.
	ErrCheckoutSessionUnavailable = errors.New("checkout: payment session unavailable")
	// ErrCheckoutOrderNotFound indicates the order does not exist or is not
	// owned by the caller.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
	// ErrCheckoutInvalidState indicates the order status forbids the operation.
	ErrCheckoutInvalidState = errors.New("checkout: invalid order state")
	// ErrCheckoutInternal indicates an unexpected failure.
	ErrCheckoutInternal = errors.New("checkout: internal error")
)

// PaymentGateway is the slice of the payments manager checkout needs.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	ExpireSession(ctx context.Context, req payments.ExpireRequest) error
	LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// CheckoutServiceDeps bundles the collaborators required to construct a
// checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	Payments   PaymentGateway
	Events     events.Publisher
	Notifier   notifications.Notifier
	SuccessURL string
	CancelURL  string
	SessionTTL time.Duration
	Clock      func() time.Time
	NewID      func() string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	payments   PaymentGateway
	events     events.Publisher
	notifier   notifications.Notifier
	successURL string
	cancelURL  string
	sessionTTL time.Duration
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NopNotifier{}
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 30 * time.Minute
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		payments:   deps.Payments,
		events:     deps.Events,
		notifier:   deps.Notifier,
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		sessionTTL: deps.SessionTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Initiate converts the customer's cart into a pending order with stock held
// and a payment session attached. A second call while an order is pending
// returns that order instead of creating another.
func (s *checkoutService) Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}

	if existing, err := s.orders.FindPendingByCustomer(ctx, customerID); err == nil {
		return s.reusePending(ctx, existing)
	} else if mapped := s.mapLookupError(err); !errors.Is(mapped, ErrCheckoutOrderNotFound) {
		return CheckoutResult{}, mapped
	}

	lines, err := s.carts.ListLines(ctx, customerID)
	if err != nil {
		return CheckoutResult{}, s.mapStoreError(err)
	}
	if len(lines) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	now := s.clock()
	order := domain.Order{
		ID:         s.newID(),
		CustomerID: customerID,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	subOrders, err := SplitOrder(order.ID, lines, s.newID, now)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInternal, err)
	}
	order.SubOrders = subOrders
	order.Total = OrderTotal(subOrders)

	customer := domain.CustomerInfo{
		ID:      customerID,
		Name:    strings.TrimSpace(cmd.CustomerName),
		Email:   strings.TrimSpace(cmd.CustomerEmail),
		Address: strings.TrimSpace(cmd.Address),
	}
	if err := s.orders.CreatePendingOrder(ctx, order, customer); err != nil {
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorConflict {
			// Lost a race with a concurrent checkout: surface the winner.
			if existing, findErr := s.orders.FindPendingByCustomer(ctx, customerID); findErr == nil {
				return s.reusePending(ctx, existing)
			}
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutPendingExists, storeErr.Message)
		}
		return CheckoutResult{}, s.mapStoreError(err)
	}

	s.logger(ctx, eventCheckoutInitiated, map[string]any{
		"customerId": customerID,
		"orderId":    order.ID,
		"total":      order.Total,
		"subOrders":  len(order.SubOrders),
	})
	s.publish(ctx, events.Envelope{
		ID:         s.newID(),
		Type:       events.TypeOrderCreated,
		OccurredAt: now,
		OrderID:    order.ID,
		CustomerID: customerID,
		Payload:    map[string]any{"total": order.Total, "sub_orders": len(order.SubOrders)},
	})

	ref, err := s.createSession(ctx, order, customer.Email)
	if err != nil {
		// The order stays pending with stock held. A retry lands on the
		// pending-order path and attaches a fresh session there.
		s.logger(ctx, eventCheckoutSessionFailed, map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{Order: order}, fmt.Errorf("%w: %v", ErrCheckoutSessionUnavailable, err)
	}
	order.Payment = ref

	if err := s.notifier.OrderCreated(ctx, order, customer); err != nil {
		s.logger(ctx, eventCheckoutNotifyFailed, map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return CheckoutResult{Order: order, PaymentURL: ref.URL}, nil
}

// reusePending returns the customer's standing pending order, creating a fresh
// payment session when the previous attempt failed to attach one.
func (s *checkoutService) reusePending(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	if order.Payment.SessionID == "" {
		email := ""
		if customer, err := s.orders.FindCustomer(ctx, order.CustomerID); err == nil {
			email = customer.Email
		}
		ref, err := s.createSession(ctx, order, email)
		if err != nil {
			s.logger(ctx, eventCheckoutSessionFailed, map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return CheckoutResult{Order: order, Existing: true},
				fmt.Errorf("%w: order %s has no payment session", ErrCheckoutPendingExists, order.ID)
		}
		order.Payment = ref
	}

	s.logger(ctx, eventCheckoutPendingReused, map[string]any{
		"customerId": order.CustomerID,
		"orderId":    order.ID,
	})
	return CheckoutResult{Order: order, PaymentURL: order.Payment.URL, Existing: true},
		fmt.Errorf("%w: order %s", ErrCheckoutPendingExists, order.ID)
}

// createSession opens a PSP checkout session for the order and persists the
// reference on the header.
func (s *checkoutService) createSession(ctx context.Context, order domain.Order, email string) (domain.PaymentSessionRef, error) {
	expiresAt := s.clock().Add(s.sessionTTL)
	req := payments.CheckoutSessionRequest{
		Amount:        payments.MinorUnits(order.Total),
		Currency:      checkoutCurrency,
		CustomerEmail: email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		},
		IdempotencyKey: "checkout-" + order.ID,
		ExpiresAt:      expiresAt,
	}
	for _, sub := range order.SubOrders {
		for _, line := range sub.Lines {
			req.Items = append(req.Items, payments.CheckoutLineItem{
				Name:     line.ProductName,
				SKU:      line.ProductID,
				Quantity: int64(line.Quantity),
				Amount:   payments.MinorUnits(line.UnitPrice),
				Currency: checkoutCurrency,
			})
		}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return domain.PaymentSessionRef{}, err
	}

	ref := domain.PaymentSessionRef{
		SessionID: session.ID,
		IntentID:  session.IntentID,
		URL:       session.RedirectURL,
		ExpiresAt: expiresAt,
	}
	if !session.ExpiresAt.IsZero() {
		ref.ExpiresAt = session.ExpiresAt
	}
	if err := s.orders.AttachPaymentSession(ctx, order.ID, ref); err != nil {
		return domain.PaymentSessionRef{}, s.mapStoreError(err)
	}
	return ref, nil
}

// Cancel voids the caller's own pending order, releasing held stock. Orders
// belonging to other customers are reported as not found.
func (s *checkoutService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if customerID == "" || orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id and order id are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapLookupError(err)
	}
	if order.CustomerID != customerID {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrCheckoutOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutInvalidState, orderID, order.Status)
	}

	now := s.clock()
	if err := s.orders.ReleaseAndFinish(ctx, orderID, domain.OrderStatusCancelled, now); err != nil {
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorInvalidState {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidState, storeErr.Message)
		}
		return domain.Order{}, s.mapStoreError(err)
	}

	if order.Payment.SessionID != "" {
		if err := s.payments.ExpireSession(ctx, payments.ExpireRequest{
			SessionID:      order.Payment.SessionID,
			IdempotencyKey: "cancel-" + orderID,
		}); err != nil {
			s.logger(ctx, eventCheckoutSessionFailed, map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, eventCheckoutOrderCancelled, map[string]any{
		"customerId": customerID,
		"orderId":    orderID,
	})
	s.publish(ctx, events.Envelope{
		ID:         s.newID(),
		Type:       events.TypeOrderCancelled,
		OccurredAt: now,
		OrderID:    orderID,
		CustomerID: customerID,
	})

	cancelled, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapLookupError(err)
	}
	return cancelled, nil
}

func (s *checkoutService) publish(ctx context.Context, event events.Envelope) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, eventCheckoutPublishFailed, map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) mapLookupError(err error) error {
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorNotFound {
		return fmt.Errorf("%w: %s", ErrCheckoutOrderNotFound, storeErr.Message)
	}
	return s.mapStoreError(err)
}

func (s *checkoutService) mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case repositories.ErrorNotFound:
			return fmt.Errorf("%w: %s", ErrCheckoutOrderNotFound, storeErr.Message)
		case repositories.ErrorConflict:
			return fmt.Errorf("%w: %s", ErrCheckoutPendingExists, storeErr.Message)
		case repositories.ErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, storeErr.Message)
		case repositories.ErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrCheckoutInvalidState, storeErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutInternal, err)
}
