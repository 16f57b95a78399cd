// Package money provides integer minor-unit monetary values and bounded
// percentage rates. All arithmetic is exact: amounts are int64 minor units
// (cents) and percentage application truncates toward zero, so repeated
// calculations never accumulate rounding drift.
package money

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount is returned when constructing a Money with a
	// negative amount. Discounts are stored as positive magnitudes.
	ErrNegativeAmount = errors.New("money: amount must not be negative")
	// ErrInvalidCurrency is returned when the currency code is not a
	// three-letter code.
	ErrInvalidCurrency = errors.New("money: currency must be a 3-letter code")
)

// Money is a monetary value in minor currency units.
type Money struct {
	Amount   int64
	Currency string
}

// New validates and constructs a Money value.
func New(amount int64, currency string) (Money, error) {
	if amount < 0 {
		return Money{}, ErrNegativeAmount
	}
	if len(currency) != 3 {
		return Money{}, ErrInvalidCurrency
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustNew is New but panics on invalid input. Intended for constants and tests.
func MustNew(amount int64, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero value in the given currency.
func Zero(currency string) Money {
	return Money{Amount: 0, Currency: currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// LessThan reports whether m is strictly less than o.
// Comparing different currencies is a programming error and panics.
func (m Money) LessThan(o Money) bool {
	m.assertSameCurrency(o)
	return m.Amount < o.Amount
}

// Add returns the sum of m and o.
// Adding different currencies is a programming error and panics.
func (m Money) Add(o Money) Money {
	m.assertSameCurrency(o)
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}
}

// String formats the value as "<amount> <currency>", e.g. "1500 USD".
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

func (m Money) assertSameCurrency(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s vs %s", m.Currency, o.Currency))
	}
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if b.LessThan(a) {
		return b
	}
	return a
}

// ErrInvalidPercentage is returned when a rate is outside (0, 1].
var ErrInvalidPercentage = errors.New("money: percentage must be in (0, 1]")

var one = decimal.NewFromInt(1)

// Percentage is a discount rate where 1.0 represents 100%.
// The zero value is invalid; construct via NewPercentage.
type Percentage struct {
	rate decimal.Decimal
}

// NewPercentage validates 0 < rate <= 1 and constructs a Percentage.
func NewPercentage(rate decimal.Decimal) (Percentage, error) {
	if !rate.IsPositive() || rate.GreaterThan(one) {
		return Percentage{}, ErrInvalidPercentage
	}
	return Percentage{rate: rate}, nil
}

// MustNewPercentage is NewPercentage but panics on invalid input.
func MustNewPercentage(rate decimal.Decimal) Percentage {
	p, err := NewPercentage(rate)
	if err != nil {
		panic(err)
	}
	return p
}

// Rate returns the underlying decimal rate.
func (p Percentage) Rate() decimal.Decimal {
	return p.rate
}

// IsZero reports whether p is the (invalid) zero value.
func (p Percentage) IsZero() bool {
	return p.rate.IsZero()
}

// ApplyTo returns floor(m * rate) in minor units. Truncation is toward zero,
// so the computed discount never exceeds the configured rate.
func (p Percentage) ApplyTo(m Money) Money {
	amount := decimal.NewFromInt(m.Amount).Mul(p.rate).IntPart()
	return Money{Amount: amount, Currency: m.Currency}
}

// String formats the rate as a percentage, e.g. "20%".
func (p Percentage) String() string {
	return p.rate.Mul(decimal.NewFromInt(100)).String() + "%"
}
