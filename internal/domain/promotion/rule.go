package promotion

import (
	"path"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/promo-engine/internal/domain/order"
)

// RuleType enumerates the supported eligibility predicates.
type RuleType string

const (
	// RuleFirstOrder matches when the customer has never placed an order.
	RuleFirstOrder RuleType = "first_order"
	// RuleMinimumOrderAmount matches when the order subtotal (minor units)
	// is at least the rule value.
	RuleMinimumOrderAmount RuleType = "minimum_order_amount"
	// RuleProductInList matches line items whose product ID appears in the
	// comma-separated rule value.
	RuleProductInList RuleType = "product_in_list"
	// RuleCustomerGroup matches when the customer belongs to the group
	// named by the rule value.
	RuleCustomerGroup RuleType = "customer_group"
	// RuleProductProperty matches line items whose named product attribute
	// equals the rule value. Values containing * or ? are treated as glob
	// patterns.
	RuleProductProperty RuleType = "product_property"
)

// MaxRuleValueLen bounds the stored comparison operand.
const MaxRuleValueLen = 255

var (
	// ErrRuleValueRequired is returned when a rule is created with an empty value.
	ErrRuleValueRequired = errors.New("rule value required")
	// ErrRuleValueTooLong is returned when a rule value exceeds MaxRuleValueLen.
	ErrRuleValueTooLong = errors.New("rule value too long")
	// ErrInvalidRuleType is returned when the rule type is not a recognized enumerant.
	ErrInvalidRuleType = errors.New("invalid rule type")
)

// Rule is a single eligibility predicate owned by a promotion.
type Rule struct {
	ID          uuid.UUID
	PromotionID uuid.UUID
	Type        RuleType
	// Value is the string-encoded comparison operand. Its interpretation
	// depends on Type.
	Value string
	// PropertyName names the product attribute compared by
	// RuleProductProperty. Ignored by other types.
	PropertyName string
}

// NewRule validates and constructs a Rule. Construction is the only place
// rule input is validated; evaluation treats stored data as trusted and
// fails closed instead of erroring.
func NewRule(promotionID uuid.UUID, typ RuleType, value, propertyName string) (Rule, error) {
	if value == "" {
		return Rule{}, ErrRuleValueRequired
	}
	if len(value) > MaxRuleValueLen {
		return Rule{}, ErrRuleValueTooLong
	}
	if !typ.valid() {
		return Rule{}, errors.Wrapf(ErrInvalidRuleType, "%q", typ)
	}

	return Rule{
		ID:           uuid.New(),
		PromotionID:  promotionID,
		Type:         typ,
		Value:        value,
		PropertyName: propertyName,
	}, nil
}

func (t RuleType) valid() bool {
	switch t {
	case RuleFirstOrder, RuleMinimumOrderAmount, RuleProductInList,
		RuleCustomerGroup, RuleProductProperty:
		return true
	}
	return false
}

// ItemScoped reports whether the rule evaluates individual line items
// rather than the order as a whole.
func (r Rule) ItemScoped() bool {
	return r.Type == RuleProductInList || r.Type == RuleProductProperty
}

// equivalent reports whether two rules would test the same condition.
// Promotions reject duplicates by this definition.
func (r Rule) equivalent(o Rule) bool {
	return r.Type == o.Type && r.Value == o.Value && r.PropertyName == o.PropertyName
}

// Evaluate applies the predicate to the order, or to the given line item for
// item-scoped rule types. Malformed stored values evaluate to false: the
// data was validated at creation time, so a parse failure here means stale
// or corrupted state, and a promotion must never apply on garbage input.
func (r Rule) Evaluate(snap *order.Snapshot, item *order.LineItem) bool {
	switch r.Type {
	case RuleFirstOrder:
		want, err := strconv.ParseBool(r.Value)
		if err != nil {
			return false
		}
		return (snap.CustomerOrderCount == 0) == want

	case RuleMinimumOrderAmount:
		minAmount, err := strconv.ParseInt(r.Value, 10, 64)
		if err != nil || minAmount < 0 {
			return false
		}
		return snap.Subtotal.Amount >= minAmount

	case RuleCustomerGroup:
		return snap.InGroup(r.Value)

	case RuleProductInList:
		if item == nil {
			return false
		}
		for _, id := range strings.Split(r.Value, ",") {
			if strings.TrimSpace(id) == item.ProductID {
				return true
			}
		}
		return false

	case RuleProductProperty:
		if item == nil {
			return false
		}
		got, ok := item.Attribute(r.PropertyName)
		if !ok {
			return false
		}
		return matchValue(r.Value, got)
	}

	return false
}

// matchValue compares an attribute value against the rule operand. Operands
// containing glob metacharacters are matched as patterns, everything else
// as plain equality.
func matchValue(pattern, value string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == value
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
