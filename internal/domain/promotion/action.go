package promotion

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/money"
)

// ActionScope determines what an action's discount applies to.
type ActionScope string

const (
	// ScopeOrder discounts the order subtotal as a whole.
	ScopeOrder ActionScope = "order_discount"
	// ScopeItem discounts each eligible line item independently.
	ScopeItem ActionScope = "item_discount"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountFixed subtracts a fixed amount, capped at the base.
	DiscountFixed DiscountType = "fixed"
	// DiscountPercentage subtracts a fraction of the base, truncated to
	// whole minor units.
	DiscountPercentage DiscountType = "percentage"
)

var (
	// ErrInvalidDiscountType is returned when the discount type is not recognized.
	ErrInvalidDiscountType = errors.New("invalid discount type")
	// ErrInvalidPercentageValue is returned when a percentage action's rate
	// is missing or outside (0, 1].
	ErrInvalidPercentageValue = errors.New("percentage value must be in (0, 1]")
	// ErrInvalidFixedAmount is returned when a fixed action's amount is
	// missing or carries a stray rate.
	ErrInvalidFixedAmount = errors.New("fixed amount required")
)

// Action describes a promotion's monetary effect: scope crossed with
// discount type. Exactly one of Amount/Rate is populated, discriminated by
// Type. Actions are immutable after construction.
type Action struct {
	Scope ActionScope
	Type  DiscountType
	// Amount is the fixed discount. Set only when Type is DiscountFixed.
	Amount money.Money
	// Rate is the discount rate. Set only when Type is DiscountPercentage.
	Rate money.Percentage
}

// NewOrderDiscount constructs an order-scoped action.
func NewOrderDiscount(typ DiscountType, amount money.Money, rate money.Percentage) (Action, error) {
	return newAction(ScopeOrder, typ, amount, rate)
}

// NewItemDiscount constructs an item-scoped action.
func NewItemDiscount(typ DiscountType, amount money.Money, rate money.Percentage) (Action, error) {
	return newAction(ScopeItem, typ, amount, rate)
}

func newAction(scope ActionScope, typ DiscountType, amount money.Money, rate money.Percentage) (Action, error) {
	switch typ {
	case DiscountFixed:
		if amount.Currency == "" || !rate.IsZero() {
			return Action{}, ErrInvalidFixedAmount
		}
		// money.New enforces amount >= 0; re-check in case of a
		// hand-built Money value.
		if amount.Amount < 0 {
			return Action{}, ErrInvalidFixedAmount
		}
		return Action{Scope: scope, Type: typ, Amount: amount}, nil

	case DiscountPercentage:
		if rate.IsZero() || amount.Currency != "" {
			return Action{}, ErrInvalidPercentageValue
		}
		return Action{Scope: scope, Type: typ, Rate: rate}, nil
	}

	return Action{}, errors.Wrapf(ErrInvalidDiscountType, "%q", typ)
}

// Calculate returns the discount for the given base amount. A fixed discount
// never exceeds the base; a percentage discount truncates toward zero.
//
// An unrecognized discount type here means construction-time validation was
// bypassed, which is a programmer defect, so it panics rather than returning
// a silently wrong amount.
func (a Action) Calculate(base money.Money) money.Money {
	switch a.Type {
	case DiscountFixed:
		return money.Min(a.Amount, base)
	case DiscountPercentage:
		return a.Rate.ApplyTo(base)
	}
	panic(fmt.Sprintf("promotion: unknown discount type %q", a.Type))
}
