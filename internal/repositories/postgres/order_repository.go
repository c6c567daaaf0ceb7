package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/repositories"
)

// OrderRepository persists order headers, sub-orders, frozen lines, and the
// stock reservations tied to them. All multi-row writes run in a single
// transaction.
type OrderRepository struct {
	pool   *pgxpool.Pool
	ledger *StockLedger
}

// NewOrderRepository wraps an existing connection pool and stock ledger.
func NewOrderRepository(pool *pgxpool.Pool, ledger *StockLedger) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	if ledger == nil {
		return nil, errors.New("postgres: stock ledger is required")
	}
	return &OrderRepository{pool: pool, ledger: ledger}, nil
}

// CreatePendingOrder atomically upserts the customer contact, inserts the
// order header, sub-orders and lines, takes the stock holds, and clears the
// customer's cart. The partial unique index on pending orders turns a second
// live checkout into a conflict error.
func (r *OrderRepository) CreatePendingOrder(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error {
	const op = "orders.CreatePendingOrder"

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapError(op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO customers (id, name, email, address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, address = EXCLUDED.address`,
		order.CustomerID, customer.Name, customer.Email, customer.Address); err != nil {
		return wrapError(op, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.CustomerID, order.Status, order.Total, order.CreatedAt, order.UpdatedAt); err != nil {
		return wrapError(op, err)
	}

	holds := aggregateHolds(order)
	if err := r.ledger.ReserveWithin(ctx, tx, order.ID, holds); err != nil {
		return err
	}

	for _, sub := range order.SubOrders {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sub_orders (id, order_id, artisan_id, status, subtotal, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sub.ID, order.ID, sub.ArtisanID, sub.Status, sub.Subtotal, sub.CreatedAt, sub.UpdatedAt); err != nil {
			return wrapError(op, err)
		}
		for _, line := range sub.Lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_lines (sub_order_id, product_id, product_name, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				sub.ID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
				return wrapError(op, err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, order.CustomerID); err != nil {
		return wrapError(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// aggregateHolds merges order lines into per-product quantities sorted by
// product id so row locks are always taken in the same order.
func aggregateHolds(order domain.Order) []domain.StockReservation {
	byProduct := make(map[string]int)
	for _, sub := range order.SubOrders {
		for _, line := range sub.Lines {
			byProduct[line.ProductID] += line.Quantity
		}
	}

	holds := make([]domain.StockReservation, 0, len(byProduct))
	for productID, quantity := range byProduct {
		holds = append(holds, domain.StockReservation{
			OrderID:   order.ID,
			ProductID: productID,
			Quantity:  quantity,
			Status:    domain.ReservationStatusReserved,
		})
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].ProductID < holds[j].ProductID })
	return holds
}

// FindByID loads a full order with its sub-orders and frozen lines.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "orders.FindByID"

	var order domain.Order
	var expires *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, status, total, session_id, intent_id, session_url, session_expires_at, created_at, updated_at
		FROM orders WHERE id = $1`, orderID).
		Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
			&order.Payment.SessionID, &order.Payment.IntentID, &order.Payment.URL, &expires,
			&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	if expires != nil {
		order.Payment.ExpiresAt = *expires
	}

	subs, err := r.loadSubOrders(ctx, op, `o.id = $1`, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.SubOrders = subs
	return order, nil
}

// FindPendingByCustomer returns the customer's live checkout, if any.
func (r *OrderRepository) FindPendingByCustomer(ctx context.Context, customerID string) (domain.Order, error) {
	const op = "orders.FindPendingByCustomer"

	var orderID string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM orders WHERE customer_id = $1 AND status = $2`,
		customerID, domain.OrderStatusPending).Scan(&orderID)
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return r.FindByID(ctx, orderID)
}

// ListByCustomer returns order headers for the customer, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, error) {
	const op = "orders.ListByCustomer"

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, status, total, session_id, intent_id, session_url, session_expires_at, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, customerID, limit, offset)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		var expires *time.Time
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
			&order.Payment.SessionID, &order.Payment.IntentID, &order.Payment.URL, &expires,
			&order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, wrapError(op, err)
		}
		if expires != nil {
			order.Payment.ExpiresAt = *expires
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

// FindCustomer loads the stored contact for a customer.
func (r *OrderRepository) FindCustomer(ctx context.Context, customerID string) (domain.CustomerInfo, error) {
	const op = "orders.FindCustomer"

	var customer domain.CustomerInfo
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, address FROM customers WHERE id = $1`, customerID).
		Scan(&customer.ID, &customer.Name, &customer.Email, &customer.Address)
	if err != nil {
		return domain.CustomerInfo{}, wrapError(op, err)
	}
	return customer, nil
}

// AttachPaymentSession stores the external payment session on the order.
func (r *OrderRepository) AttachPaymentSession(ctx context.Context, orderID string, ref domain.PaymentSessionRef) error {
	const op = "orders.AttachPaymentSession"

	var expires *time.Time
	if !ref.ExpiresAt.IsZero() {
		expires = &ref.ExpiresAt
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET session_id = $2, intent_id = $3, session_url = $4, session_expires_at = $5, updated_at = now()
		WHERE id = $1`,
		orderID, ref.SessionID, ref.IntentID, ref.URL, expires)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		return repositories.NewStoreError(repositories.ErrorNotFound, "order not found", nil).WithOp(op)
	}
	return nil
}

// MarkPaid flips a pending order to paid and commits its reservations.
// Marking an already-paid order again is a no-op so payment webhooks can be
// retried safely.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, now time.Time) error {
	const op = "orders.MarkPaid"

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapError(op, err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		orderID, domain.OrderStatusPaid, now, domain.OrderStatusPending)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		return r.describeTransitionFailure(ctx, op, orderID, domain.OrderStatusPaid)
	}

	if err := r.ledger.CommitWithin(ctx, tx, orderID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// ReleaseAndFinish flips a pending order to the given terminal status,
// restores reserved stock, and marks the reservations released. Repeating
// the same transition is a no-op.
func (r *OrderRepository) ReleaseAndFinish(ctx context.Context, orderID string, to domain.OrderStatus, now time.Time) error {
	const op = "orders.ReleaseAndFinish"

	if !to.Terminal() || to == domain.OrderStatusPaid {
		return repositories.NewStoreError(repositories.ErrorInvalidState, "release target must be expired or cancelled", nil).WithOp(op)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapError(op, err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		orderID, to, now, domain.OrderStatusPending)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		return r.describeTransitionFailure(ctx, op, orderID, to)
	}

	if err := r.ledger.ReleaseWithin(ctx, tx, orderID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// describeTransitionFailure explains why a guarded status update matched no
// rows: missing order, already in the target state, or a different terminal
// state.
func (r *OrderRepository) describeTransitionFailure(ctx context.Context, op, orderID string, to domain.OrderStatus) error {
	var current domain.OrderStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if err != nil {
		return wrapError(op, err)
	}
	if current == to {
		return nil
	}
	return repositories.NewStoreError(repositories.ErrorInvalidState,
		"order is "+string(current)+", cannot transition to "+string(to), nil).WithOp(op)
}

// ListExpiredPending returns pending orders whose payment session lapsed
// before the given instant.
func (r *OrderRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	const op = "orders.ListExpiredPending"

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, status, total, session_id, created_at, updated_at
		FROM orders
		WHERE status = $1 AND session_expires_at IS NOT NULL AND session_expires_at < $2
		ORDER BY session_expires_at
		LIMIT $3`, domain.OrderStatusPending, now, limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
			&order.Payment.SessionID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

// FindSubOrder loads one sub-order with its lines, parent status, and the
// customer contact exposed to the owning artisan.
func (r *OrderRepository) FindSubOrder(ctx context.Context, subOrderID string) (domain.SubOrder, error) {
	const op = "orders.FindSubOrder"

	subs, err := r.loadSubOrders(ctx, op, `s.id = $1`, subOrderID)
	if err != nil {
		return domain.SubOrder{}, err
	}
	if len(subs) == 0 {
		return domain.SubOrder{}, repositories.NewStoreError(repositories.ErrorNotFound, "sub-order not found", nil).WithOp(op)
	}
	return subs[0], nil
}

// ListSubOrdersByArtisan returns the artisan's sub-orders, newest first,
// optionally filtered by fulfillment status.
func (r *OrderRepository) ListSubOrdersByArtisan(ctx context.Context, artisanID string, filter repositories.SubOrderFilter) ([]domain.SubOrder, error) {
	const op = "orders.ListSubOrdersByArtisan"

	where := `s.artisan_id = $1`
	args := []any{artisanID}
	if filter.Status != "" {
		where += ` AND s.status = $2`
		args = append(args, filter.Status)
	}

	subs, err := r.loadSubOrders(ctx, op, where, args...)
	if err != nil {
		return nil, err
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(subs) {
			return nil, nil
		}
		subs = subs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(subs) {
		subs = subs[:filter.Limit]
	}
	return subs, nil
}

// UpdateSubOrderStatus applies a guarded transition, failing with invalid
// state when the stored status no longer matches from.
func (r *OrderRepository) UpdateSubOrderStatus(ctx context.Context, subOrderID string, from, to domain.SubOrderStatus, now time.Time) error {
	const op = "orders.UpdateSubOrderStatus"

	ct, err := r.pool.Exec(ctx, `
		UPDATE sub_orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		subOrderID, to, now, from)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		var current domain.SubOrderStatus
		err := r.pool.QueryRow(ctx, `SELECT status FROM sub_orders WHERE id = $1`, subOrderID).Scan(&current)
		if err != nil {
			return wrapError(op, err)
		}
		return repositories.NewStoreError(repositories.ErrorInvalidState,
			"sub-order is "+string(current)+", expected "+string(from), nil).WithOp(op)
	}
	return nil
}

// Ping reports backing store connectivity for readiness probes.
func (r *OrderRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return wrapError("orders.Ping", err)
	}
	return nil
}

// loadSubOrders fetches sub-order headers matching the where clause, then
// attaches their frozen lines in a second query.
func (r *OrderRepository) loadSubOrders(ctx context.Context, op, where string, args ...any) ([]domain.SubOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.order_id, s.artisan_id, s.status, o.status, s.subtotal,
		       c.id, c.name, c.email, c.address,
		       s.created_at, s.updated_at
		FROM sub_orders s
		JOIN orders o ON o.id = s.order_id
		JOIN customers c ON c.id = o.customer_id
		WHERE `+where+`
		ORDER BY s.created_at DESC, s.id`, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var subs []domain.SubOrder
	index := make(map[string]int)
	for rows.Next() {
		var sub domain.SubOrder
		if err := rows.Scan(&sub.ID, &sub.OrderID, &sub.ArtisanID, &sub.Status, &sub.ParentStatus, &sub.Subtotal,
			&sub.Customer.ID, &sub.Customer.Name, &sub.Customer.Email, &sub.Customer.Address,
			&sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, wrapError(op, err)
		}
		index[sub.ID] = len(subs)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}

	lineRows, err := r.pool.Query(ctx, `
		SELECT sub_order_id, product_id, product_name, quantity, unit_price, subtotal
		FROM order_lines
		WHERE sub_order_id = ANY($1)
		ORDER BY sub_order_id, product_id`, ids)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.SubOrderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, wrapError(op, err)
		}
		if i, ok := index[line.SubOrderID]; ok {
			subs[i].Lines = append(subs[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return subs, nil
}
