package product

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/money"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Price    money.Money
	Category string
	// Attributes holds free-form product attributes (brand, color, ...)
	// that property rules can match against.
	Attributes map[string]string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
