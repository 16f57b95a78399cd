package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_id, items, subtotal, discounts, total, currency, promotion_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	countOrdersSQL = `SELECT count(*) FROM orders WHERE customer_id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a placed order. Line items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.CustomerID, itemsJSON,
		o.Subtotal.Amount, o.Discounts.Amount, o.Total.Amount,
		o.Total.Currency, o.PromotionCode,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// CountByCustomer returns how many orders the customer has placed. Rules
// like first_order depend on this being read fresh per quote.
func (r *OrderRepository) CountByCustomer(ctx context.Context, customerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countOrdersSQL, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting orders for customer %q: %w", customerID, err)
	}
	return count, nil
}
