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
	eventPaymentConfirmed      = "payment.confirmed"
	eventPaymentExpired        = "payment.expired"
	eventPaymentSessionSkipped = "payment.session_skipped"
	eventPaymentReconcileItem  = "payment.reconcile_item"
	eventPaymentStateConflict  = "payment.state_conflict"
	eventPaymentPublishFailed  = "payment.publish_failed"
	eventPaymentNotifyFailed   = "payment.notify_failed"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid arguments.
	ErrPaymentInvalidInput = errors.New("payment outcome: invalid input")
	// ErrPaymentOrderNotFound indicates no order matches the session.
	ErrPaymentOrderNotFound = errors.New("payment outcome: order not found")
	// ErrPaymentSessionMismatch indicates the session does not belong to the order.
	ErrPaymentSessionMismatch = errors.New("payment outcome: session mismatch")
	// ErrPaymentInternal indicates an unexpected failure.
	ErrPaymentInternal = errors.New("payment outcome: internal error")
)

// PaymentOutcomeServiceDeps bundles the collaborators required to construct a
// payment outcome service.
type PaymentOutcomeServiceDeps struct {
	Orders   repositories.OrderRepository
	Payments PaymentGateway
	Events   events.Publisher
	Notifier notifications.Notifier
	Clock    func() time.Time
	NewID    func() string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentOutcomeService struct {
	orders   repositories.OrderRepository
	payments PaymentGateway
	events   events.Publisher
	notifier notifications.Notifier
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentOutcomeService wires dependencies into a concrete
// PaymentOutcomeService.
func NewPaymentOutcomeService(deps PaymentOutcomeServiceDeps) (PaymentOutcomeService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment outcome service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment outcome service: payment gateway is required")
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NopNotifier{}
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

	return &paymentOutcomeService{
		orders:   deps.Orders,
		payments: deps.Payments,
		events:   deps.Events,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// HandleSessionCompleted flips the order to paid and commits its stock holds.
// Replayed deliveries for an already paid order succeed without effect.
func (s *paymentOutcomeService) HandleSessionCompleted(ctx context.Context, orderID, sessionID string) error {
	orderID = strings.TrimSpace(orderID)
	sessionID = strings.TrimSpace(sessionID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapStoreError(ctx, orderID, err)
	}
	if sessionID != "" && order.Payment.SessionID != "" && order.Payment.SessionID != sessionID {
		return fmt.Errorf("%w: order %s is tied to another session", ErrPaymentSessionMismatch, orderID)
	}
	if order.Status == domain.OrderStatusPaid {
		return nil
	}

	now := s.clock()
	if err := s.orders.MarkPaid(ctx, orderID, now); err != nil {
		return s.mapStoreError(ctx, orderID, err)
	}

	s.logger(ctx, eventPaymentConfirmed, map[string]any{
		"orderId":   orderID,
		"sessionId": sessionID,
	})
	s.publish(ctx, events.Envelope{
		ID:         s.newID(),
		Type:       events.TypeOrderPaid,
		OccurredAt: now,
		OrderID:    orderID,
		CustomerID: order.CustomerID,
		Payload:    map[string]any{"total": order.Total},
	})

	customer, err := s.orders.FindCustomer(ctx, order.CustomerID)
	if err != nil {
		s.logger(ctx, eventPaymentNotifyFailed, map[string]any{
			"orderId":    orderID,
			"customerId": order.CustomerID,
			"error":      err.Error(),
		})
		customer = domain.CustomerInfo{ID: order.CustomerID}
	}
	if err := s.notifier.OrderPaid(ctx, order, customer); err != nil {
		s.logger(ctx, eventPaymentNotifyFailed, map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
	return nil
}

// HandleSessionExpired releases the order's stock holds and marks it expired.
// Orders already terminal are left untouched.
func (s *paymentOutcomeService) HandleSessionExpired(ctx context.Context, orderID, sessionID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapStoreError(ctx, orderID, err)
	}
	if order.Status != domain.OrderStatusPending {
		s.logger(ctx, eventPaymentSessionSkipped, map[string]any{
			"orderId": orderID,
			"status":  string(order.Status),
		})
		return nil
	}

	now := s.clock()
	if err := s.orders.ReleaseAndFinish(ctx, orderID, domain.OrderStatusExpired, now); err != nil {
		return s.mapStoreError(ctx, orderID, err)
	}

	s.logger(ctx, eventPaymentExpired, map[string]any{
		"orderId":   orderID,
		"sessionId": sessionID,
	})
	s.publish(ctx, events.Envelope{
		ID:         s.newID(),
		Type:       events.TypeOrderExpired,
		OccurredAt: now,
		OrderID:    orderID,
		CustomerID: order.CustomerID,
	})
	return nil
}

// ReconcileExpired sweeps pending orders whose sessions lapsed without a
// webhook delivery. Each order is verified with the provider first so a paid
// order whose webhook was lost is confirmed rather than released.
func (s *paymentOutcomeService) ReconcileExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	now := s.clock()
	orders, err := s.orders.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, s.mapStoreError(ctx, "", err)
	}

	processed := 0
	for _, order := range orders {
		outcome, err := s.reconcileOrder(ctx, order)
		if err != nil {
			s.logger(ctx, eventPaymentReconcileItem, map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		s.logger(ctx, eventPaymentReconcileItem, map[string]any{
			"orderId": order.ID,
			"outcome": outcome,
		})
		processed++
	}
	return processed, nil
}

func (s *paymentOutcomeService) reconcileOrder(ctx context.Context, order domain.Order) (string, error) {
	if order.Payment.SessionID != "" {
		details, err := s.payments.LookupPayment(ctx, payments.LookupRequest{SessionID: order.Payment.SessionID})
		if err != nil {
			return "", err
		}
		if details.Status == payments.StatusSucceeded {
			if err := s.HandleSessionCompleted(ctx, order.ID, order.Payment.SessionID); err != nil {
				return "", err
			}
			return "confirmed", nil
		}
	}
	if err := s.HandleSessionExpired(ctx, order.ID, order.Payment.SessionID); err != nil {
		return "", err
	}
	return "released", nil
}

func (s *paymentOutcomeService) publish(ctx context.Context, event events.Envelope) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, eventPaymentPublishFailed, map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}

func (s *paymentOutcomeService) mapStoreError(ctx context.Context, orderID string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case repositories.ErrorNotFound:
			return fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, storeErr.Message)
		case repositories.ErrorInvalidState:
			// A concurrent transition already settled the order. The delivery
			// is acked, but the conflict is worth a trace: a completed session
			// landing on a released order means money was captured for stock
			// that is gone.
			s.logger(ctx, eventPaymentStateConflict, map[string]any{
				"orderId": orderID,
				"detail":  storeErr.Message,
			})
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrPaymentInternal, err)
}
