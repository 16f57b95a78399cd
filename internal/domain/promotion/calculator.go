package promotion

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/order"
)

// Errors returned by Calculate for malformed input. "Promotion does not
// apply" is never an error; it is a success with zero adjustments, because
// a pricing pipeline evaluates many candidates per order and skipping
// inapplicable ones must be cheap.
var (
	ErrNilPromotion = errors.New("calculate: promotion is nil")
	ErrNilOrder     = errors.New("calculate: order snapshot is nil")
)

// Adjustment is one computed monetary delta. Amount is a positive
// magnitude; the caller subtracts it when applying to the order. An empty
// LineItemID means the adjustment targets the order total.
type Adjustment struct {
	Description string
	Amount      money.Money
	LineItemID  string
}

// Result is the outcome of evaluating one promotion against one order.
// An empty Adjustments slice is a valid non-error outcome meaning the
// promotion is inapplicable or produced a zero-value discount.
type Result struct {
	PromotionID uuid.UUID
	Adjustments []Adjustment
}

// TotalDiscount sums the adjustment amounts.
func (r *Result) TotalDiscount(currency string) money.Money {
	total := money.Zero(currency)
	for _, adj := range r.Adjustments {
		total = total.Add(adj.Amount)
	}
	return total
}

// Calculator decides whether a promotion applies to an order and computes
// the resulting adjustments. It is stateless and side-effect free: it never
// mutates the promotion or the order, identical inputs yield identical
// results, and concurrent calls need no synchronization.
type Calculator struct {
	now func() time.Time
}

// NewCalculator creates a Calculator using the wall clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// Calculate evaluates the promotion against the order snapshot.
//
// Admission checks run in order and short-circuit to an empty (non-error)
// result: structural validity, active flag and time window, usage limit,
// minimum order amount, and rule evaluation under the match policy. Only
// structurally invalid input produces an error.
func (c *Calculator) Calculate(p *Promotion, snap *order.Snapshot) (*Result, error) {
	if p == nil {
		return nil, ErrNilPromotion
	}
	if snap == nil {
		return nil, ErrNilOrder
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid promotion")
	}

	result := &Result{PromotionID: p.ID}

	if !p.Active || !p.WithinWindow(c.now()) {
		return result, nil
	}
	if p.UsageExhausted() {
		return result, nil
	}
	if p.MinimumOrderAmount != nil && snap.Subtotal.LessThan(*p.MinimumOrderAmount) {
		return result, nil
	}
	if !c.rulesSatisfied(p, snap) {
		return result, nil
	}

	switch p.Action.Scope {
	case ScopeOrder:
		result.Adjustments = c.orderAdjustments(p, snap)
	case ScopeItem:
		result.Adjustments = c.itemAdjustments(p, snap)
	}

	return result, nil
}

// rulesSatisfied combines every rule outcome under the promotion's match
// policy. Order-scoped rules are evaluated against the order; item-scoped
// rules count as satisfied when at least one line item matches.
//
// An empty rule set is vacuously satisfied under MatchAll. Under MatchAny
// it never matches: "any of zero rules" has no rule to match.
func (c *Calculator) rulesSatisfied(p *Promotion, snap *order.Snapshot) bool {
	if len(p.Rules) == 0 {
		return p.MatchPolicy == MatchAll
	}

	for _, r := range p.Rules {
		ok := false
		if r.ItemScoped() {
			for i := range snap.Items {
				if r.Evaluate(snap, &snap.Items[i]) {
					ok = true
					break
				}
			}
		} else {
			ok = r.Evaluate(snap, nil)
		}

		switch p.MatchPolicy {
		case MatchAll:
			if !ok {
				return false
			}
		case MatchAny:
			if ok {
				return true
			}
		}
	}

	return p.MatchPolicy == MatchAll
}

// eligibleItems filters line items by the promotion's item-scoped rules
// under the match policy. When the promotion has no item-scoped rules,
// every line item is eligible.
func (c *Calculator) eligibleItems(p *Promotion, snap *order.Snapshot) []order.LineItem {
	itemRules := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.ItemScoped() {
			itemRules = append(itemRules, r)
		}
	}
	if len(itemRules) == 0 {
		return snap.Items
	}

	eligible := make([]order.LineItem, 0, len(snap.Items))
	for i := range snap.Items {
		if itemMatches(itemRules, p.MatchPolicy, snap, &snap.Items[i]) {
			eligible = append(eligible, snap.Items[i])
		}
	}
	return eligible
}

func itemMatches(rules []Rule, policy MatchPolicy, snap *order.Snapshot, item *order.LineItem) bool {
	for _, r := range rules {
		ok := r.Evaluate(snap, item)
		switch policy {
		case MatchAll:
			if !ok {
				return false
			}
		case MatchAny:
			if ok {
				return true
			}
		}
	}
	return policy == MatchAll
}

// orderAdjustments computes the single order-level adjustment, clamped to
// the maximum discount amount when one is configured.
func (c *Calculator) orderAdjustments(p *Promotion, snap *order.Snapshot) []Adjustment {
	amount := p.Action.Calculate(snap.Subtotal)
	if p.MaximumDiscountAmount != nil {
		amount = money.Min(amount, *p.MaximumDiscountAmount)
	}

	return []Adjustment{{
		Description: p.Name,
		Amount:      amount,
	}}
}

// itemAdjustments computes one adjustment per eligible line item. When the
// summed discount exceeds the configured cap, each adjustment is scaled
// down by floor(raw * cap / sum) and the residual minor units from
// truncation are assigned to the first adjustment, so the total equals the
// cap exactly and iteration order stays deterministic.
func (c *Calculator) itemAdjustments(p *Promotion, snap *order.Snapshot) []Adjustment {
	items := c.eligibleItems(p, snap)
	if len(items) == 0 {
		return nil
	}

	adjustments := make([]Adjustment, 0, len(items))
	total := money.Zero(snap.Currency)
	for _, item := range items {
		amount := p.Action.Calculate(item.Subtotal)
		adjustments = append(adjustments, Adjustment{
			Description: p.Name,
			Amount:      amount,
			LineItemID:  item.ID,
		})
		total = total.Add(amount)
	}

	if p.MaximumDiscountAmount == nil || !p.MaximumDiscountAmount.LessThan(total) {
		return adjustments
	}

	limit := p.MaximumDiscountAmount.Amount
	scaled := int64(0)
	for i := range adjustments {
		raw := adjustments[i].Amount.Amount
		adjustments[i].Amount.Amount = raw * limit / total.Amount
		scaled += adjustments[i].Amount.Amount
	}
	// Residual cents from per-item truncation go to the first adjustment.
	adjustments[0].Amount.Amount += limit - scaled

	return adjustments
}
