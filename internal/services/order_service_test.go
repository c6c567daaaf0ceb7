package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/events"
	"github.com/bottega-market/api/internal/repositories"
)

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	}
	if deps.NewID == nil {
		deps.NewID = sequentialIDs("evt")
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func paidSubOrder() domain.SubOrder {
	return domain.SubOrder{
		ID:           "sub-1",
		OrderID:      "ord-1",
		ArtisanID:    "art-1",
		Status:       domain.SubOrderStatusInAttesa,
		ParentStatus: domain.OrderStatusPaid,
		Subtotal:     20.00,
		Customer:     domain.CustomerInfo{ID: "cust-1", Email: "giulia@example.com"},
	}
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findByID: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "someone-else"}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.GetOrder(ctx, "cust-1", "ord-1")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrdersClampsPaging(t *testing.T) {
	ctx := context.Background()
	var gotLimit, gotOffset int
	orders := &stubOrderRepository{
		listByCustomer: func(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.ListOrders(ctx, "cust-1", 0, -5); err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if gotLimit != defaultOrderListLimit || gotOffset != 0 {
		t.Fatalf("expected defaults, got limit=%d offset=%d", gotLimit, gotOffset)
	}

	if _, err := svc.ListOrders(ctx, "cust-1", 5000, 10); err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if gotLimit != maxOrderListLimit || gotOffset != 10 {
		t.Fatalf("expected clamped limit, got limit=%d offset=%d", gotLimit, gotOffset)
	}
}

func TestListSubOrdersRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepository{}})

	_, err := svc.ListSubOrders(ctx, "art-1", SubOrderListFilter{Status: "teleported"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestGetSubOrderHidesForeignSubOrders(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			sub := paidSubOrder()
			sub.ArtisanID = "someone-else"
			return sub, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.GetSubOrder(ctx, "art-1", "sub-1")
	if !errors.Is(err, ErrSubOrderNotFound) {
		t.Fatalf("expected ErrSubOrderNotFound, got %v", err)
	}
}

func TestSetSubOrderStatusShipsAndNotifies(t *testing.T) {
	ctx := context.Background()
	var gotFrom, gotTo domain.SubOrderStatus
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			return paidSubOrder(), nil
		},
		updateSubOrderStatus: func(ctx context.Context, subOrderID string, from, to domain.SubOrderStatus, now time.Time) error {
			gotFrom, gotTo = from, to
			return nil
		},
	}
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: publisher, Notifier: notifier})

	sub, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
		ArtisanID:  "art-1",
		SubOrderID: "sub-1",
		NewStatus:  "spedito",
	})
	if err != nil {
		t.Fatalf("SetSubOrderStatus returned error: %v", err)
	}
	if gotFrom != domain.SubOrderStatusInAttesa || gotTo != domain.SubOrderStatusSpedito {
		t.Fatalf("unexpected guarded transition %s to %s", gotFrom, gotTo)
	}
	if sub.Status != domain.SubOrderStatusSpedito {
		t.Fatalf("expected spedito, got %s", sub.Status)
	}
	if len(publisher.published) != 1 || publisher.published[0].Type != events.TypeSubOrderStatusChanged {
		t.Fatalf("expected one status-changed event, got %+v", publisher.published)
	}
	if len(notifier.shipped) != 1 {
		t.Fatalf("expected one shipped email, got %d", len(notifier.shipped))
	}
}

func TestSetSubOrderStatusDeliveredSkipsShippedEmail(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			sub := paidSubOrder()
			sub.Status = domain.SubOrderStatusSpedito
			return sub, nil
		},
		updateSubOrderStatus: func(ctx context.Context, subOrderID string, from, to domain.SubOrderStatus, now time.Time) error {
			return nil
		},
	}
	notifier := &recordingNotifier{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Notifier: notifier})

	sub, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
		ArtisanID:  "art-1",
		SubOrderID: "sub-1",
		NewStatus:  "consegnato",
	})
	if err != nil {
		t.Fatalf("SetSubOrderStatus returned error: %v", err)
	}
	if sub.Status != domain.SubOrderStatusConsegnato {
		t.Fatalf("expected consegnato, got %s", sub.Status)
	}
	if len(notifier.shipped) != 0 {
		t.Fatalf("expected no shipped email, got %d", len(notifier.shipped))
	}
}

func TestSetSubOrderStatusForbiddenForOtherArtisans(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			sub := paidSubOrder()
			sub.ArtisanID = "someone-else"
			return sub, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
		ArtisanID:  "art-1",
		SubOrderID: "sub-1",
		NewStatus:  "spedito",
	})
	if !errors.Is(err, ErrSubOrderForbidden) {
		t.Fatalf("expected ErrSubOrderForbidden, got %v", err)
	}
}

func TestSetSubOrderStatusRequiresPaidParent(t *testing.T) {
	ctx := context.Background()
	for _, parent := range []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
	} {
		orders := &stubOrderRepository{
			findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
				sub := paidSubOrder()
				sub.ParentStatus = parent
				return sub, nil
			},
		}
		svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

		_, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
			ArtisanID:  "art-1",
			SubOrderID: "sub-1",
			NewStatus:  "spedito",
		})
		if !errors.Is(err, ErrSubOrderInvalidTransition) {
			t.Fatalf("parent %s: expected ErrSubOrderInvalidTransition, got %v", parent, err)
		}
	}
}

func TestSetSubOrderStatusRejectsSkippingSteps(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			return paidSubOrder(), nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
		ArtisanID:  "art-1",
		SubOrderID: "sub-1",
		NewStatus:  "consegnato",
	})
	if !errors.Is(err, ErrSubOrderInvalidTransition) {
		t.Fatalf("expected ErrSubOrderInvalidTransition, got %v", err)
	}
}

func TestSetSubOrderStatusGuardedUpdateConflict(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepository{
		findSubOrder: func(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
			return paidSubOrder(), nil
		},
		updateSubOrderStatus: func(ctx context.Context, subOrderID string, from, to domain.SubOrderStatus, now time.Time) error {
			return repositories.NewStoreError(repositories.ErrorInvalidState, "status changed concurrently", nil)
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.SetSubOrderStatus(ctx, SetSubOrderStatusCommand{
		ArtisanID:  "art-1",
		SubOrderID: "sub-1",
		NewStatus:  "spedito",
	})
	if !errors.Is(err, ErrSubOrderInvalidTransition) {
		t.Fatalf("expected ErrSubOrderInvalidTransition, got %v", err)
	}
}
