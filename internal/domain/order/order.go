package order

import (
	"context"
	"time"

	"github.com/xenking/promo-engine/internal/domain/money"
)

// LineItem is a single priced line of an order snapshot.
type LineItem struct {
	ID        string
	ProductID string
	Category  string
	UnitPrice money.Money
	Quantity  int
	Subtotal  money.Money
	// Attributes holds product attributes referenced by property rules,
	// keyed by attribute name.
	Attributes map[string]string
}

// Attribute returns the named product attribute and whether it is present.
func (li LineItem) Attribute(name string) (string, bool) {
	v, ok := li.Attributes[name]
	return v, ok
}

// Snapshot is the read-only view of an order that promotion evaluation
// operates on. It is assembled by the pricing pipeline and never mutated
// by the engine.
type Snapshot struct {
	ID         string
	CustomerID string
	// CustomerOrderCount is the number of orders the customer has placed
	// before this one. Zero means this is their first order.
	CustomerOrderCount int
	CustomerGroups     []string
	Currency           string
	Subtotal           money.Money
	Items              []LineItem
}

// InGroup reports whether the customer belongs to the named group.
func (s *Snapshot) InGroup(group string) bool {
	for _, g := range s.CustomerGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Order represents a placed order with its final pricing.
type Order struct {
	ID            string
	CustomerID    string
	Items         []PlacedItem
	Subtotal      money.Money
	Discounts     money.Money
	Total         money.Money
	PromotionCode string
	CreatedAt     time.Time
}

// PlacedItem is a persisted order line.
type PlacedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	// CountByCustomer returns how many orders the customer has placed.
	CountByCustomer(ctx context.Context, customerID string) (int, error)
}
