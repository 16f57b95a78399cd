package promotion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/order"
)

var calcNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testCalculator() *Calculator {
	c := NewCalculator()
	c.now = func() time.Time { return calcNow }
	return c
}

func snapshotWithSubtotal(subtotal int64) *order.Snapshot {
	return &order.Snapshot{
		ID:       "order-1",
		Currency: "USD",
		Subtotal: money.MustNew(subtotal, "USD"),
	}
}

// threeItemSnapshot has line items with subtotals 1000, 2000, 3000.
func threeItemSnapshot() *order.Snapshot {
	return &order.Snapshot{
		ID:       "order-1",
		Currency: "USD",
		Subtotal: money.MustNew(6000, "USD"),
		Items: []order.LineItem{
			{ID: "li-1", ProductID: "prod-1", Quantity: 1, UnitPrice: money.MustNew(1000, "USD"), Subtotal: money.MustNew(1000, "USD")},
			{ID: "li-2", ProductID: "prod-2", Quantity: 2, UnitPrice: money.MustNew(1000, "USD"), Subtotal: money.MustNew(2000, "USD")},
			{ID: "li-3", ProductID: "prod-3", Quantity: 3, UnitPrice: money.MustNew(1000, "USD"), Subtotal: money.MustNew(3000, "USD")},
		},
	}
}

func TestCalculator_Calculate_MalformedInput(t *testing.T) {
	calc := testCalculator()

	_, err := calc.Calculate(nil, snapshotWithSubtotal(1000))
	require.ErrorIs(t, err, ErrNilPromotion)

	p, err := New(Params{Name: "P", Action: fixedOrderAction(t, 100)})
	require.NoError(t, err)

	_, err = calc.Calculate(p, nil)
	require.ErrorIs(t, err, ErrNilOrder)

	// Structurally invalid promotion is an error, not an empty result.
	p.RequiresCouponCode = true
	p.Code = ""
	_, err = calc.Calculate(p, snapshotWithSubtotal(1000))
	require.ErrorIs(t, err, ErrCodeRequired)
}

func TestCalculator_Calculate_FixedOrderDiscount(t *testing.T) {
	// Scenario: $15 off orders of $50 or more.
	p, err := New(Params{
		Name:               "Fifteen off fifty",
		MinimumOrderAmount: moneyPtr(5000),
		Action:             fixedOrderAction(t, 1500),
	})
	require.NoError(t, err)

	calc := testCalculator()

	// Above the minimum: one order-level adjustment of 1500.
	res, err := calc.Calculate(p, snapshotWithSubtotal(6000))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, int64(1500), res.Adjustments[0].Amount.Amount)
	assert.Empty(t, res.Adjustments[0].LineItemID, "order-level adjustment")
	assert.Equal(t, p.ID, res.PromotionID)

	// Below the minimum: success with zero adjustments, not an error.
	res, err = calc.Calculate(p, snapshotWithSubtotal(4000))
	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)
}

func TestCalculator_Calculate_PercentageCappedByMaxDiscount(t *testing.T) {
	// Scenario: 20% off capped at $10.
	action, err := NewOrderDiscount(DiscountPercentage, money.Money{}, pct(t, "0.2"))
	require.NoError(t, err)

	p, err := New(Params{
		Name:                  "Twenty percent",
		MaximumDiscountAmount: moneyPtr(1000),
		Action:                action,
	})
	require.NoError(t, err)

	res, err := testCalculator().Calculate(p, snapshotWithSubtotal(10000))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, int64(1000), res.Adjustments[0].Amount.Amount, "raw 2000 capped to 1000")
}

func TestCalculator_Calculate_AdmissionChecks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *Promotion
	}{
		{
			name: "inactive promotion",
			setup: func(t *testing.T) *Promotion {
				p, err := New(Params{Name: "Off", Action: fixedOrderAction(t, 100)})
				require.NoError(t, err)
				p.Deactivate()
				return p
			},
		},
		{
			name: "not yet started",
			setup: func(t *testing.T) *Promotion {
				p, err := New(Params{Name: "Later", StartsAt: timePtr(calcNow.Add(time.Hour)), Action: fixedOrderAction(t, 100)})
				require.NoError(t, err)
				return p
			},
		},
		{
			name: "already expired",
			setup: func(t *testing.T) *Promotion {
				p, err := New(Params{
					Name:      "Gone",
					StartsAt:  timePtr(calcNow.Add(-2 * time.Hour)),
					ExpiresAt: timePtr(calcNow.Add(-time.Hour)),
					Action:    fixedOrderAction(t, 100),
				})
				require.NoError(t, err)
				return p
			},
		},
		{
			name: "usage limit exhausted",
			setup: func(t *testing.T) *Promotion {
				p, err := New(Params{Name: "Spent", UsageLimit: intPtr(1), Action: fixedOrderAction(t, 100)})
				require.NoError(t, err)
				require.NoError(t, p.IncrementUsage())
				return p
			},
		},
		{
			name: "unmet order rule",
			setup: func(t *testing.T) *Promotion {
				p, err := New(Params{Name: "Grouped", Action: fixedOrderAction(t, 100)})
				require.NoError(t, err)
				r, err := NewRule(p.ID, RuleCustomerGroup, "wholesale", "")
				require.NoError(t, err)
				require.NoError(t, p.AddRule(r))
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup(t)

			res, err := testCalculator().Calculate(p, snapshotWithSubtotal(6000))
			require.NoError(t, err, "inapplicable is not an error")
			assert.Empty(t, res.Adjustments)
		})
	}
}

func TestCalculator_Calculate_UsageExhausted_IncrementAlsoFails(t *testing.T) {
	p, err := New(Params{Name: "Once", UsageLimit: intPtr(1), Action: fixedOrderAction(t, 100)})
	require.NoError(t, err)
	require.NoError(t, p.IncrementUsage())

	res, err := testCalculator().Calculate(p, snapshotWithSubtotal(6000))
	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)

	require.ErrorIs(t, p.IncrementUsage(), ErrUsageLimitReached)
}

func TestCalculator_Calculate_MatchPolicy(t *testing.T) {
	snap := snapshotWithSubtotal(6000)
	snap.CustomerGroups = []string{"vip"}

	mustRule := func(t *testing.T, p *Promotion, typ RuleType, value string) {
		t.Helper()
		r, err := NewRule(p.ID, typ, value, "")
		require.NoError(t, err)
		require.NoError(t, p.AddRule(r))
	}

	tests := []struct {
		name      string
		policy    MatchPolicy
		setup     func(t *testing.T, p *Promotion)
		wantApply bool
	}{
		{
			name:      "all policy with every rule satisfied",
			policy:    MatchAll,
			wantApply: true,
			setup: func(t *testing.T, p *Promotion) {
				mustRule(t, p, RuleCustomerGroup, "vip")
				mustRule(t, p, RuleMinimumOrderAmount, "5000")
			},
		},
		{
			name:      "all policy with one failing rule",
			policy:    MatchAll,
			wantApply: false,
			setup: func(t *testing.T, p *Promotion) {
				mustRule(t, p, RuleCustomerGroup, "vip")
				mustRule(t, p, RuleMinimumOrderAmount, "9000")
			},
		},
		{
			name:      "any policy with one satisfied rule",
			policy:    MatchAny,
			wantApply: true,
			setup: func(t *testing.T, p *Promotion) {
				mustRule(t, p, RuleCustomerGroup, "wholesale")
				mustRule(t, p, RuleMinimumOrderAmount, "5000")
			},
		},
		{
			name:      "any policy with no satisfied rule",
			policy:    MatchAny,
			wantApply: false,
			setup: func(t *testing.T, p *Promotion) {
				mustRule(t, p, RuleCustomerGroup, "wholesale")
				mustRule(t, p, RuleMinimumOrderAmount, "9000")
			},
		},
		{
			name:      "all policy over zero rules is vacuously satisfied",
			policy:    MatchAll,
			wantApply: true,
			setup:     func(*testing.T, *Promotion) {},
		},
		{
			name:      "any policy over zero rules never matches",
			policy:    MatchAny,
			wantApply: false,
			setup:     func(*testing.T, *Promotion) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Params{Name: "Policy", MatchPolicy: tt.policy, Action: fixedOrderAction(t, 100)})
			require.NoError(t, err)
			tt.setup(t, p)

			res, err := testCalculator().Calculate(p, snap)
			require.NoError(t, err)
			if tt.wantApply {
				assert.NotEmpty(t, res.Adjustments)
			} else {
				assert.Empty(t, res.Adjustments)
			}
		})
	}
}

func TestCalculator_Calculate_ItemDiscountWithProductList(t *testing.T) {
	// Scenario: 10% off items in the list; items 1 and 3 match, item 2 is
	// excluded entirely.
	action, err := NewItemDiscount(DiscountPercentage, money.Money{}, pct(t, "0.1"))
	require.NoError(t, err)

	p, err := New(Params{Name: "Ten percent on selected", Action: action})
	require.NoError(t, err)
	r, err := NewRule(p.ID, RuleProductInList, "prod-1,prod-3", "")
	require.NoError(t, err)
	require.NoError(t, p.AddRule(r))

	res, err := testCalculator().Calculate(p, threeItemSnapshot())
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 2)

	assert.Equal(t, "li-1", res.Adjustments[0].LineItemID)
	assert.Equal(t, int64(100), res.Adjustments[0].Amount.Amount)
	assert.Equal(t, "li-3", res.Adjustments[1].LineItemID)
	assert.Equal(t, int64(300), res.Adjustments[1].Amount.Amount)
}

func TestCalculator_Calculate_ItemDiscountNoEligibleItems(t *testing.T) {
	action, err := NewItemDiscount(DiscountPercentage, money.Money{}, pct(t, "0.1"))
	require.NoError(t, err)

	// Admission passes through the satisfied group rule under the any
	// policy, but no line item matches the product list.
	p, err := New(Params{Name: "Nobody", MatchPolicy: MatchAny, Action: action})
	require.NoError(t, err)
	group, err := NewRule(p.ID, RuleCustomerGroup, "vip", "")
	require.NoError(t, err)
	require.NoError(t, p.AddRule(group))
	list, err := NewRule(p.ID, RuleProductInList, "prod-99", "")
	require.NoError(t, err)
	require.NoError(t, p.AddRule(list))

	snap := threeItemSnapshot()
	snap.CustomerGroups = []string{"vip"}

	res, err := testCalculator().Calculate(p, snap)
	require.NoError(t, err, "empty eligible set is a valid zero-effect outcome")
	assert.Empty(t, res.Adjustments)
}

func TestCalculator_Calculate_ItemDiscountProportionalCap(t *testing.T) {
	// 50% of subtotals 1000/2000/3000 is 500+1000+1500 = 3000, capped at
	// 1000: floor-scaled to 166/333/500 = 999, residual cent assigned to
	// the first adjustment.
	action, err := NewItemDiscount(DiscountPercentage, money.Money{}, pct(t, "0.5"))
	require.NoError(t, err)

	p, err := New(Params{
		Name:                  "Half off capped",
		MaximumDiscountAmount: moneyPtr(1000),
		Action:                action,
	})
	require.NoError(t, err)

	res, err := testCalculator().Calculate(p, threeItemSnapshot())
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 3)

	assert.Equal(t, int64(167), res.Adjustments[0].Amount.Amount)
	assert.Equal(t, int64(333), res.Adjustments[1].Amount.Amount)
	assert.Equal(t, int64(500), res.Adjustments[2].Amount.Amount)
	assert.Equal(t, int64(1000), res.TotalDiscount("USD").Amount, "total equals the cap exactly")
}

func TestCalculator_Calculate_Idempotent(t *testing.T) {
	action, err := NewItemDiscount(DiscountPercentage, money.Money{}, pct(t, "0.1"))
	require.NoError(t, err)

	p, err := New(Params{Name: "Repeatable", Action: action})
	require.NoError(t, err)

	calc := testCalculator()
	snap := threeItemSnapshot()

	first, err := calc.Calculate(p, snap)
	require.NoError(t, err)
	second, err := calc.Calculate(p, snap)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical inputs must produce identical results")
	assert.Equal(t, int64(6000), snap.Subtotal.Amount, "order snapshot untouched")
	assert.Zero(t, p.UsageCount, "promotion untouched")
}

func TestCalculator_Calculate_FirstOrderRule(t *testing.T) {
	p, err := New(Params{Name: "Welcome", Action: fixedOrderAction(t, 500)})
	require.NoError(t, err)
	r, err := NewRule(p.ID, RuleFirstOrder, "true", "")
	require.NoError(t, err)
	require.NoError(t, p.AddRule(r))

	calc := testCalculator()

	fresh := snapshotWithSubtotal(6000)
	res, err := calc.Calculate(p, fresh)
	require.NoError(t, err)
	assert.Len(t, res.Adjustments, 1)

	repeat := snapshotWithSubtotal(6000)
	repeat.CustomerOrderCount = 3
	res, err = calc.Calculate(p, repeat)
	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)
}
