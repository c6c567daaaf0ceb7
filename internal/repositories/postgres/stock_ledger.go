package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/repositories"
)

// StockLedger owns availability reads and the reservation writes performed
// inside order transactions. Row locks are taken in product-id order so
// concurrent checkouts cannot deadlock.
type StockLedger struct {
	pool *pgxpool.Pool
}

// NewStockLedger wraps an existing connection pool.
func NewStockLedger(pool *pgxpool.Pool) (*StockLedger, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &StockLedger{pool: pool}, nil
}

// AvailableQuantity returns the current availability counter for a product.
func (l *StockLedger) AvailableQuantity(ctx context.Context, productID string) (int, error) {
	const op = "stock.AvailableQuantity"

	var available int
	err := l.pool.QueryRow(ctx, `
		SELECT available FROM products WHERE id = $1 AND deleted = FALSE`, productID).
		Scan(&available)
	if err != nil {
		return 0, wrapError(op, err)
	}
	return available, nil
}

// CheckAvailability is an advisory read. The authoritative check happens
// under row locks inside ReserveWithin.
func (l *StockLedger) CheckAvailability(ctx context.Context, productID string, quantity int) error {
	const op = "stock.CheckAvailability"

	available, err := l.AvailableQuantity(ctx, productID)
	if err != nil {
		return err
	}
	if available < quantity {
		return repositories.NewStoreError(
			repositories.ErrorInsufficientStock,
			fmt.Sprintf("product %s has %d available, %d requested", productID, available, quantity),
			nil,
		).WithOp(op)
	}
	return nil
}

// ReserveWithin locks each product row, decrements availability, and records
// a reservation tied to the order. All-or-nothing: the first shortage aborts
// the surrounding transaction with an insufficient-stock error.
func (l *StockLedger) ReserveWithin(ctx context.Context, tx pgx.Tx, orderID string, holds []domain.StockReservation) error {
	const op = "stock.ReserveWithin"

	for _, hold := range holds {
		var available int
		err := tx.QueryRow(ctx, `
			SELECT available FROM products WHERE id = $1 AND deleted = FALSE FOR UPDATE`, hold.ProductID).
			Scan(&available)
		if err != nil {
			return wrapError(op, err)
		}
		if available < hold.Quantity {
			return repositories.NewStoreError(
				repositories.ErrorInsufficientStock,
				fmt.Sprintf("product %s has %d available, %d requested", hold.ProductID, available, hold.Quantity),
				nil,
			).WithOp(op)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE products SET available = available - $2 WHERE id = $1`,
			hold.ProductID, hold.Quantity); err != nil {
			return wrapError(op, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_reservations (order_id, product_id, quantity, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, hold.ProductID, hold.Quantity, domain.ReservationStatusReserved); err != nil {
			return wrapError(op, err)
		}
	}
	return nil
}

// ReleaseWithin restores availability for every live hold on the order and
// marks the reservations released. Releasing an order with no live holds is
// a no-op.
func (l *StockLedger) ReleaseWithin(ctx context.Context, tx pgx.Tx, orderID string) error {
	const op = "stock.ReleaseWithin"

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM stock_reservations
		WHERE order_id = $1 AND status = $2
		ORDER BY product_id`, orderID, domain.ReservationStatusReserved)
	if err != nil {
		return wrapError(op, err)
	}
	defer rows.Close()

	type hold struct {
		productID string
		quantity  int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.productID, &h.quantity); err != nil {
			return wrapError(op, err)
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return wrapError(op, err)
	}

	for _, h := range holds {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET available = available + $2 WHERE id = $1`,
			h.productID, h.quantity); err != nil {
			return wrapError(op, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status = $2
		WHERE order_id = $1 AND status = $3`,
		orderID, domain.ReservationStatusReleased, domain.ReservationStatusReserved); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// CommitWithin marks every live hold on the order as committed.
func (l *StockLedger) CommitWithin(ctx context.Context, tx pgx.Tx, orderID string) error {
	const op = "stock.CommitWithin"

	if _, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status = $2
		WHERE order_id = $1 AND status = $3`,
		orderID, domain.ReservationStatusCommitted, domain.ReservationStatusReserved); err != nil {
		return wrapError(op, err)
	}
	return nil
}
