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
	"github.com/bottega-market/api/internal/repositories"
)

const (
	eventSubOrderTransition = "suborder.transition"
	eventOrderPublishFailed = "order.publish_failed"
	eventOrderNotifyFailed  = "order.notify_failed"
	defaultOrderListLimit   = 20
	maxOrderListLimit       = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible
	// to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrSubOrderNotFound indicates the sub-order does not exist or is not
	// visible to the caller.
	ErrSubOrderNotFound = errors.New("order: sub-order not found")
	// ErrSubOrderForbidden indicates the sub-order belongs to another artisan.
	ErrSubOrderForbidden = errors.New("order: sub-order belongs to another artisan")
	// ErrSubOrderInvalidTransition indicates the requested fulfillment step is
	// not allowed from the current state.
	ErrSubOrderInvalidTransition = errors.New("order: invalid fulfillment transition")
	// ErrOrderInternal indicates an unexpected failure.
	ErrOrderInternal = errors.New("order: internal error")
)

// OrderServiceDeps bundles the collaborators required to construct an order
// service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Events   events.Publisher
	Notifier notifications.Notifier
	Clock    func() time.Time
	NewID    func() string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	events   events.Publisher
	notifier notifications.Notifier
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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

	return &orderService{
		orders:   deps.Orders,
		events:   deps.Events,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// ListOrders returns the customer's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	limit, offset = clampPage(limit, offset)

	orders, err := s.orders.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	return orders, nil
}

// GetOrder returns a single order. Orders owned by other customers are
// reported as not found.
func (s *orderService) GetOrder(ctx context.Context, customerID, orderID string) (domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	orderID = strings.TrimSpace(orderID)
	if customerID == "" || orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id and order id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapStoreError(err)
	}
	if order.CustomerID != customerID {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListSubOrders returns the artisan's fulfillment queue, optionally narrowed
// to one status.
func (s *orderService) ListSubOrders(ctx context.Context, artisanID string, filter SubOrderListFilter) ([]domain.SubOrder, error) {
	artisanID = strings.TrimSpace(artisanID)
	if artisanID == "" {
		return nil, fmt.Errorf("%w: artisan id is required", ErrOrderInvalidInput)
	}

	repoFilter := repositories.SubOrderFilter{}
	repoFilter.Limit, repoFilter.Offset = clampPage(filter.Limit, filter.Offset)
	if raw := strings.TrimSpace(filter.Status); raw != "" {
		status := domain.SubOrderStatus(raw)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		repoFilter.Status = status
	}

	subs, err := s.orders.ListSubOrdersByArtisan(ctx, artisanID, repoFilter)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	return subs, nil
}

// GetSubOrder returns one sub-order. Sub-orders owned by other artisans are
// reported as not found.
func (s *orderService) GetSubOrder(ctx context.Context, artisanID, subOrderID string) (domain.SubOrder, error) {
	artisanID = strings.TrimSpace(artisanID)
	subOrderID = strings.TrimSpace(subOrderID)
	if artisanID == "" || subOrderID == "" {
		return domain.SubOrder{}, fmt.Errorf("%w: artisan id and sub-order id are required", ErrOrderInvalidInput)
	}

	sub, err := s.orders.FindSubOrder(ctx, subOrderID)
	if err != nil {
		return domain.SubOrder{}, s.mapSubOrderError(err)
	}
	if sub.ArtisanID != artisanID {
		return domain.SubOrder{}, fmt.Errorf("%w: sub-order %s", ErrSubOrderNotFound, subOrderID)
	}
	return sub, nil
}

// SetSubOrderStatus applies a single forward fulfillment step on behalf of
// the owning artisan. Transitions require the parent order to be paid.
func (s *orderService) SetSubOrderStatus(ctx context.Context, cmd SetSubOrderStatusCommand) (domain.SubOrder, error) {
	artisanID := strings.TrimSpace(cmd.ArtisanID)
	subOrderID := strings.TrimSpace(cmd.SubOrderID)
	if artisanID == "" || subOrderID == "" {
		return domain.SubOrder{}, fmt.Errorf("%w: artisan id and sub-order id are required", ErrOrderInvalidInput)
	}
	target := domain.SubOrderStatus(strings.TrimSpace(cmd.NewStatus))
	if !target.Valid() {
		return domain.SubOrder{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.NewStatus)
	}

	sub, err := s.orders.FindSubOrder(ctx, subOrderID)
	if err != nil {
		return domain.SubOrder{}, s.mapSubOrderError(err)
	}
	if sub.ArtisanID != artisanID {
		return domain.SubOrder{}, fmt.Errorf("%w: sub-order %s", ErrSubOrderForbidden, subOrderID)
	}
	if sub.ParentStatus != domain.OrderStatusPaid {
		return domain.SubOrder{}, fmt.Errorf("%w: order %s is %s", ErrSubOrderInvalidTransition, sub.OrderID, sub.ParentStatus)
	}
	if target != sub.Status.Next() {
		return domain.SubOrder{}, fmt.Errorf("%w: %s to %s", ErrSubOrderInvalidTransition, sub.Status, target)
	}

	now := s.clock()
	if err := s.orders.UpdateSubOrderStatus(ctx, subOrderID, sub.Status, target, now); err != nil {
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorInvalidState {
			return domain.SubOrder{}, fmt.Errorf("%w: %s", ErrSubOrderInvalidTransition, storeErr.Message)
		}
		return domain.SubOrder{}, s.mapSubOrderError(err)
	}

	previous := sub.Status
	sub.Status = target
	sub.UpdatedAt = now

	s.logger(ctx, eventSubOrderTransition, map[string]any{
		"artisanId":  artisanID,
		"subOrderId": subOrderID,
		"orderId":    sub.OrderID,
		"from":       string(previous),
		"to":         string(target),
	})
	if err := s.events.Publish(ctx, events.Envelope{
		ID:         s.newID(),
		Type:       events.TypeSubOrderStatusChanged,
		OccurredAt: now,
		OrderID:    sub.OrderID,
		CustomerID: sub.Customer.ID,
		Payload: map[string]any{
			"sub_order_id": subOrderID,
			"artisan_id":   artisanID,
			"from":         string(previous),
			"to":           string(target),
		},
	}); err != nil {
		s.logger(ctx, eventOrderPublishFailed, map[string]any{
			"subOrderId": subOrderID,
			"error":      err.Error(),
		})
	}

	if target == domain.SubOrderStatusSpedito {
		if err := s.notifier.SubOrderShipped(ctx, sub); err != nil {
			s.logger(ctx, eventOrderNotifyFailed, map[string]any{
				"subOrderId": subOrderID,
				"error":      err.Error(),
			})
		}
	}

	return sub, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	if limit > maxOrderListLimit {
		limit = maxOrderListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *orderService) mapSubOrderError(err error) error {
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) && storeErr.Code == repositories.ErrorNotFound {
		return fmt.Errorf("%w: %s", ErrSubOrderNotFound, storeErr.Message)
	}
	return s.mapStoreError(err)
}

func (s *orderService) mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case repositories.ErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, storeErr.Message)
		case repositories.ErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrSubOrderInvalidTransition, storeErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderInternal, err)
}
