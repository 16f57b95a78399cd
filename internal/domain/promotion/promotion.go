package promotion

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/promo-engine/internal/domain/money"
)

// MatchPolicy controls how a promotion's rules are combined.
type MatchPolicy string

const (
	// MatchAll requires every rule to be satisfied.
	MatchAll MatchPolicy = "all"
	// MatchAny requires at least one rule to be satisfied. A promotion
	// with zero rules never matches under this policy.
	MatchAny MatchPolicy = "any"
)

// Validation and state errors. Construction accumulates all violations into
// a single joined error, so callers can errors.Is against any of them.
var (
	ErrNameRequired       = errors.New("promotion name required")
	ErrCodeRequired       = errors.New("promotion code required when coupon code is mandatory")
	ErrInvalidDateRange   = errors.New("promotion starts_at must be before expires_at")
	ErrInvalidUsageLimit  = errors.New("promotion usage limit must not be negative")
	ErrInvalidMatchPolicy = errors.New("invalid rules match policy")
	ErrDuplicateRule      = errors.New("equivalent rule already exists on promotion")
	ErrRuleNotFound       = errors.New("rule not found on promotion")
	ErrUsageLimitReached  = errors.New("promotion usage limit reached")
	ErrPromotionExpired   = errors.New("promotion already expired")
	ErrNotFound           = errors.New("promotion not found")
)

// Promotion is the aggregate root for a marketing offer: an activation
// window, usage accounting, an ordered rule set, and one discount action.
type Promotion struct {
	ID          uuid.UUID
	Name        string
	Code        string
	Description string

	// UsageLimit caps total redemptions; nil means unlimited.
	UsageLimit *int
	UsageCount int

	StartsAt  *time.Time
	ExpiresAt *time.Time

	MinimumOrderAmount    *money.Money
	MaximumDiscountAmount *money.Money

	Active             bool
	RequiresCouponCode bool

	MatchPolicy MatchPolicy
	Rules       []Rule
	Action      Action
}

// Params holds the input for constructing a Promotion.
type Params struct {
	Name        string
	Code        string
	Description string

	UsageLimit *int

	StartsAt  *time.Time
	ExpiresAt *time.Time

	MinimumOrderAmount    *money.Money
	MaximumDiscountAmount *money.Money

	RequiresCouponCode bool
	// MatchPolicy defaults to MatchAll when empty.
	MatchPolicy MatchPolicy

	Action Action
}

// New validates every invariant and constructs an active Promotion. All
// violations are accumulated and returned as one joined error; on failure
// no partial aggregate escapes.
func New(p Params) (*Promotion, error) {
	policy := p.MatchPolicy
	if policy == "" {
		policy = MatchAll
	}

	if err := validateParams(p, policy); err != nil {
		return nil, err
	}

	return &Promotion{
		ID:                    uuid.New(),
		Name:                  p.Name,
		Code:                  p.Code,
		Description:           p.Description,
		UsageLimit:            p.UsageLimit,
		StartsAt:              p.StartsAt,
		ExpiresAt:             p.ExpiresAt,
		MinimumOrderAmount:    p.MinimumOrderAmount,
		MaximumDiscountAmount: p.MaximumDiscountAmount,
		Active:                true,
		RequiresCouponCode:    p.RequiresCouponCode,
		MatchPolicy:           policy,
		Action:                p.Action,
	}, nil
}

func validateParams(p Params, policy MatchPolicy) error {
	var violations []error

	if p.Name == "" {
		violations = append(violations, ErrNameRequired)
	}
	if p.RequiresCouponCode && p.Code == "" {
		violations = append(violations, ErrCodeRequired)
	}
	if p.StartsAt != nil && p.ExpiresAt != nil && !p.StartsAt.Before(*p.ExpiresAt) {
		violations = append(violations, ErrInvalidDateRange)
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		violations = append(violations, ErrInvalidUsageLimit)
	}
	if p.MinimumOrderAmount != nil && p.MinimumOrderAmount.Amount < 0 {
		violations = append(violations, errors.Wrap(money.ErrNegativeAmount, "minimum order amount"))
	}
	if p.MaximumDiscountAmount != nil && p.MaximumDiscountAmount.Amount < 0 {
		violations = append(violations, errors.Wrap(money.ErrNegativeAmount, "maximum discount amount"))
	}
	if policy != MatchAll && policy != MatchAny {
		violations = append(violations, ErrInvalidMatchPolicy)
	}
	if p.Action.Type == "" {
		violations = append(violations, ErrInvalidDiscountType)
	}

	return stderrors.Join(violations...)
}

// UpdateParams carries a partial-field update. Nil fields are left unchanged.
type UpdateParams struct {
	Name        *string
	Code        *string
	Description *string

	UsageLimit **int

	StartsAt  **time.Time
	ExpiresAt **time.Time

	MinimumOrderAmount    **money.Money
	MaximumDiscountAmount **money.Money

	RequiresCouponCode *bool
	MatchPolicy        *MatchPolicy
}

// Update applies the non-nil fields and re-validates the aggregate
// atomically: a candidate copy is mutated and checked first, so a failed
// update leaves the promotion untouched.
func (p *Promotion) Update(u UpdateParams) error {
	candidate := *p

	if u.Name != nil {
		candidate.Name = *u.Name
	}
	if u.Code != nil {
		candidate.Code = *u.Code
	}
	if u.Description != nil {
		candidate.Description = *u.Description
	}
	if u.UsageLimit != nil {
		candidate.UsageLimit = *u.UsageLimit
	}
	if u.StartsAt != nil {
		candidate.StartsAt = *u.StartsAt
	}
	if u.ExpiresAt != nil {
		candidate.ExpiresAt = *u.ExpiresAt
	}
	if u.MinimumOrderAmount != nil {
		candidate.MinimumOrderAmount = *u.MinimumOrderAmount
	}
	if u.MaximumDiscountAmount != nil {
		candidate.MaximumDiscountAmount = *u.MaximumDiscountAmount
	}
	if u.RequiresCouponCode != nil {
		candidate.RequiresCouponCode = *u.RequiresCouponCode
	}
	if u.MatchPolicy != nil {
		candidate.MatchPolicy = *u.MatchPolicy
	}

	err := validateParams(Params{
		Name:                  candidate.Name,
		Code:                  candidate.Code,
		UsageLimit:            candidate.UsageLimit,
		StartsAt:              candidate.StartsAt,
		ExpiresAt:             candidate.ExpiresAt,
		MinimumOrderAmount:    candidate.MinimumOrderAmount,
		MaximumDiscountAmount: candidate.MaximumDiscountAmount,
		RequiresCouponCode:    candidate.RequiresCouponCode,
		Action:                candidate.Action,
	}, candidate.MatchPolicy)
	if err != nil {
		return err
	}

	*p = candidate
	return nil
}

// Activate turns the promotion on. Activating a promotion whose expiry is
// already in the past fails with ErrPromotionExpired.
func (p *Promotion) Activate(now time.Time) error {
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return ErrPromotionExpired
	}
	p.Active = true
	return nil
}

// Deactivate unconditionally turns the promotion off.
func (p *Promotion) Deactivate() {
	p.Active = false
}

// AddRule appends a rule, rejecting equivalents of an existing rule.
// Insertion order is preserved.
func (p *Promotion) AddRule(r Rule) error {
	for _, existing := range p.Rules {
		if existing.equivalent(r) {
			return ErrDuplicateRule
		}
	}
	p.Rules = append(p.Rules, r)
	return nil
}

// RemoveRule removes the rule with the given ID.
func (p *Promotion) RemoveRule(ruleID uuid.UUID) error {
	for i, r := range p.Rules {
		if r.ID == ruleID {
			p.Rules = append(p.Rules[:i], p.Rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

// IncrementUsage records one redemption. It is the only mutator of
// UsageCount and fails without side effects when the limit is exhausted.
// The transactional caller must invoke it exactly once per applied
// promotion, inside the same transaction as order placement.
func (p *Promotion) IncrementUsage() error {
	if p.UsageLimit != nil && p.UsageCount+1 > *p.UsageLimit {
		return ErrUsageLimitReached
	}
	p.UsageCount++
	return nil
}

// UsageExhausted reports whether the usage limit has been reached.
func (p *Promotion) UsageExhausted() bool {
	return p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit
}

// Validate is the pure structural check run before calculation: date-range
// consistency and coupon-code presence. Window and usage-limit admission are
// re-evaluated live by the Calculator because they depend on the current
// time and a freshly read counter.
func (p *Promotion) Validate() error {
	if p.StartsAt != nil && p.ExpiresAt != nil && !p.StartsAt.Before(*p.ExpiresAt) {
		return ErrInvalidDateRange
	}
	if p.RequiresCouponCode && p.Code == "" {
		return ErrCodeRequired
	}
	return nil
}

// WithinWindow reports whether now falls inside [StartsAt, ExpiresAt).
// Unset bounds are open.
func (p *Promotion) WithinWindow(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	return true
}

// Repository provides lookup and mutation of promotions. IncrementUsage must
// be implemented as a single atomic check-and-increment (usage_count guarded
// against usage_limit in the same statement) so concurrent checkouts cannot
// over-redeem.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Promotion, error)
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	// List returns every promotion, newest first.
	List(ctx context.Context) ([]*Promotion, error)
	// ListAutomatic returns active promotions that do not require a coupon
	// code, for evaluation against every order.
	ListAutomatic(ctx context.Context) ([]*Promotion, error)
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}
