package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottega-market/api/internal/domain"
)

// ProductRepository reads catalog rows from Postgres.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository wraps an existing connection pool.
func NewProductRepository(pool *pgxpool.Pool) (*ProductRepository, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &ProductRepository{pool: pool}, nil
}

// FindByID returns the product when it exists and is not soft-deleted.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	const op = "products.FindByID"

	var p domain.Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, unit_price, available, artisan_id, deleted
		FROM products
		WHERE id = $1 AND deleted = FALSE`, productID).
		Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Available, &p.ArtisanID, &p.Deleted)
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	return p, nil
}
