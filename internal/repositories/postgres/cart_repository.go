package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottega-market/api/internal/domain"
	"github.com/bottega-market/api/internal/repositories"
)

// CartRepository persists live cart lines keyed by (customer, product).
// Prices are never stored on cart rows; listings join the catalog so every
// read reflects the current price.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository wraps an existing connection pool.
func NewCartRepository(pool *pgxpool.Pool) (*CartRepository, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &CartRepository{pool: pool}, nil
}

// InsertLine adds a new line and fails with a conflict when one already exists.
func (r *CartRepository) InsertLine(ctx context.Context, line domain.CartLine) error {
	const op = "carts.InsertLine"

	_, err := r.pool.Exec(ctx, `
		INSERT INTO cart_lines (customer_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)`,
		line.CustomerID, line.ProductID, line.Quantity, line.UpdatedAt)
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

// UpdateLine replaces the quantity of an existing line.
func (r *CartRepository) UpdateLine(ctx context.Context, line domain.CartLine) error {
	const op = "carts.UpdateLine"

	ct, err := r.pool.Exec(ctx, `
		UPDATE cart_lines
		SET quantity = $3, updated_at = $4
		WHERE customer_id = $1 AND product_id = $2`,
		line.CustomerID, line.ProductID, line.Quantity, line.UpdatedAt)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		return repositories.NewStoreError(repositories.ErrorNotFound, "cart line not found", nil).WithOp(op)
	}
	return nil
}

// GetLine fetches a single line joined with current catalog data.
func (r *CartRepository) GetLine(ctx context.Context, customerID, productID string) (domain.CartLine, error) {
	const op = "carts.GetLine"

	var line domain.CartLine
	err := r.pool.QueryRow(ctx, `
		SELECT c.customer_id, c.product_id, p.name, p.artisan_id, p.unit_price, c.quantity, c.updated_at
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.customer_id = $1 AND c.product_id = $2`, customerID, productID).
		Scan(&line.CustomerID, &line.ProductID, &line.ProductName, &line.ArtisanID, &line.UnitPrice, &line.Quantity, &line.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, wrapError(op, err)
	}
	line.Subtotal = domain.Round2(line.UnitPrice * float64(line.Quantity))
	return line, nil
}

// DeleteLine removes one line, failing with not found when absent.
func (r *CartRepository) DeleteLine(ctx context.Context, customerID, productID string) error {
	const op = "carts.DeleteLine"

	ct, err := r.pool.Exec(ctx, `
		DELETE FROM cart_lines WHERE customer_id = $1 AND product_id = $2`,
		customerID, productID)
	if err != nil {
		return wrapError(op, err)
	}
	if ct.RowsAffected() == 0 {
		return repositories.NewStoreError(repositories.ErrorNotFound, "cart line not found", nil).WithOp(op)
	}
	return nil
}

// ListLines returns the customer's lines joined with current catalog prices,
// ordered by most recent update.
func (r *CartRepository) ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	const op = "carts.ListLines"

	rows, err := r.pool.Query(ctx, `
		SELECT c.customer_id, c.product_id, p.name, p.artisan_id, p.unit_price, c.quantity, c.updated_at
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.customer_id = $1 AND p.deleted = FALSE
		ORDER BY c.updated_at DESC, c.product_id`, customerID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.CustomerID, &line.ProductID, &line.ProductName, &line.ArtisanID, &line.UnitPrice, &line.Quantity, &line.UpdatedAt); err != nil {
			return nil, wrapError(op, err)
		}
		line.Subtotal = domain.Round2(line.UnitPrice * float64(line.Quantity))
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return lines, nil
}

// Clear drops every line for the customer. Clearing an empty cart succeeds.
func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	const op = "carts.Clear"

	if _, err := r.pool.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, customerID); err != nil {
		return wrapError(op, err)
	}
	return nil
}
