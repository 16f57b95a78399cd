package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, code, description, usage_limit, usage_count,
		starts_at, expires_at, minimum_order_amount, maximum_discount_amount,
		currency, active, requires_coupon_code, match_policy,
		action_scope, action_type, action_amount, action_rate`

	findPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	findPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE UPPER(code) = UPPER($1) AND code <> ''`

	listPromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions ORDER BY created_at DESC`

	listAutomaticSQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE active = TRUE AND requires_coupon_code = FALSE
		ORDER BY created_at`

	promotionRulesSQL = `SELECT id, promotion_id, rule_type, value, property_name
		FROM promotion_rules WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, position`

	insertPromotionSQL = `INSERT INTO promotions (id, name, code, description,
		usage_limit, usage_count, starts_at, expires_at,
		minimum_order_amount, maximum_discount_amount, currency, active,
		requires_coupon_code, match_policy, action_scope, action_type,
		action_amount, action_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	updatePromotionSQL = `UPDATE promotions SET name = $2, code = $3,
		description = $4, usage_limit = $5, starts_at = $6, expires_at = $7,
		minimum_order_amount = $8, maximum_discount_amount = $9,
		currency = $10, active = $11, requires_coupon_code = $12,
		match_policy = $13, updated_at = now()
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`

	insertRuleSQL = `INSERT INTO promotion_rules (id, promotion_id, rule_type, value, property_name, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	deleteRulesSQL = `DELETE FROM promotion_rules WHERE promotion_id = $1 AND NOT (id = ANY($2))`

	// The guard against usage_limit lives in the statement itself, so the
	// check-and-increment is one atomic step under row-level locking.
	incrementUsageSQL = `UPDATE promotions SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByID loads a promotion and its rules.
// Returns promotion.ErrNotFound when no row exists.
func (r *PromotionRepository) FindByID(ctx context.Context, id uuid.UUID) (*promotion.Promotion, error) {
	return r.findOne(ctx, findPromotionByIDSQL, id)
}

// FindByCode loads a coded promotion (case-insensitive).
// Returns promotion.ErrNotFound when no row exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	return r.findOne(ctx, findPromotionByCodeSQL, code)
}

func (r *PromotionRepository) findOne(ctx context.Context, sql string, arg any) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding promotion: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion: %w", err)
	}

	if err := r.attachRules(ctx, []*promotion.Promotion{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns every promotion, newest first, with rules attached.
func (r *PromotionRepository) List(ctx context.Context) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}

	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}

	if err := r.attachRules(ctx, promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// ListAutomatic returns active promotions evaluated against every order
// (those not requiring a coupon code), with rules attached.
func (r *PromotionRepository) ListAutomatic(ctx context.Context) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listAutomaticSQL)
	if err != nil {
		return nil, fmt.Errorf("listing automatic promotions: %w", err)
	}

	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("listing automatic promotions: %w", err)
	}

	if err := r.attachRules(ctx, promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// Create persists a new promotion and its rules.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create promotion: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, insertPromotionSQL, insertArgs(p)...); err != nil {
		return fmt.Errorf("inserting promotion %q: %w", p.Name, err)
	}
	if err := upsertRules(ctx, tx, p); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Update persists aggregate field changes and reconciles the rule set.
// The usage counter is deliberately not written here; IncrementUsage is
// its only mutator.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update promotion: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, updatePromotionSQL,
		p.ID, p.Name, p.Code, p.Description, p.UsageLimit,
		p.StartsAt, p.ExpiresAt,
		optionalAmount(p.MinimumOrderAmount), optionalAmount(p.MaximumDiscountAmount),
		currencyOf(p), p.Active, p.RequiresCouponCode, string(p.MatchPolicy),
	)
	if err != nil {
		return fmt.Errorf("updating promotion %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}

	if err := upsertRules(ctx, tx, p); err != nil {
		return err
	}

	keep := make([]uuid.UUID, len(p.Rules))
	for i, rule := range p.Rules {
		keep[i] = rule.ID
	}
	if _, err := tx.Exec(ctx, deleteRulesSQL, p.ID, keep); err != nil {
		return fmt.Errorf("pruning rules for promotion %s: %w", p.ID, err)
	}

	return tx.Commit(ctx)
}

// Delete removes a promotion; its rules cascade.
func (r *PromotionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// IncrementUsage atomically increments the usage counter, failing with
// promotion.ErrUsageLimitReached when the limit is already exhausted (or
// the promotion is gone). The WHERE clause carries the limit check, so two
// concurrent checkouts cannot both redeem the final use.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for promotion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrUsageLimitReached
	}
	return nil
}

func (r *PromotionRepository) attachRules(ctx context.Context, promos []*promotion.Promotion) error {
	if len(promos) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(promos))
	byID := make(map[uuid.UUID]*promotion.Promotion, len(promos))
	for i, p := range promos {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.pool.Query(ctx, promotionRulesSQL, ids)
	if err != nil {
		return fmt.Errorf("loading promotion rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return fmt.Errorf("loading promotion rules: %w", err)
	}

	for _, rule := range rules {
		if p, ok := byID[rule.PromotionID]; ok {
			p.Rules = append(p.Rules, rule)
		}
	}
	return nil
}

func upsertRules(ctx context.Context, tx pgx.Tx, p *promotion.Promotion) error {
	for i, rule := range p.Rules {
		_, err := tx.Exec(ctx, insertRuleSQL,
			rule.ID, p.ID, string(rule.Type), rule.Value, rule.PropertyName, i)
		if err != nil {
			return fmt.Errorf("inserting rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func insertArgs(p *promotion.Promotion) []any {
	return []any{
		p.ID, p.Name, p.Code, p.Description,
		p.UsageLimit, p.UsageCount, p.StartsAt, p.ExpiresAt,
		optionalAmount(p.MinimumOrderAmount), optionalAmount(p.MaximumDiscountAmount),
		currencyOf(p), p.Active, p.RequiresCouponCode, string(p.MatchPolicy),
		string(p.Action.Scope), string(p.Action.Type),
		actionAmount(p.Action), actionRate(p.Action),
	}
}

func optionalAmount(m *money.Money) *int64 {
	if m == nil {
		return nil
	}
	return &m.Amount
}

func actionAmount(a promotion.Action) *int64 {
	if a.Type != promotion.DiscountFixed {
		return nil
	}
	v := a.Amount.Amount
	return &v
}

func actionRate(a promotion.Action) *decimal.Decimal {
	if a.Type != promotion.DiscountPercentage {
		return nil
	}
	rate := a.Rate.Rate()
	return &rate
}

// currencyOf picks the currency the promotion's monetary fields share.
func currencyOf(p *promotion.Promotion) string {
	switch {
	case p.Action.Type == promotion.DiscountFixed:
		return p.Action.Amount.Currency
	case p.MinimumOrderAmount != nil:
		return p.MinimumOrderAmount.Currency
	case p.MaximumDiscountAmount != nil:
		return p.MaximumDiscountAmount.Currency
	}
	return "USD"
}

func scanPromotion(row pgx.CollectableRow) (*promotion.Promotion, error) {
	var (
		p           promotion.Promotion
		usageLimit  *int32
		startsAt    *time.Time
		expiresAt   *time.Time
		minAmount   *int64
		maxAmount   *int64
		currency    string
		matchPolicy string
		scope       string
		actionType  string
		amount      *int64
		rate        *decimal.Decimal
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Code, &p.Description, &usageLimit, &p.UsageCount,
		&startsAt, &expiresAt, &minAmount, &maxAmount,
		&currency, &p.Active, &p.RequiresCouponCode, &matchPolicy,
		&scope, &actionType, &amount, &rate,
	)
	if err != nil {
		return nil, err
	}

	if usageLimit != nil {
		limit := int(*usageLimit)
		p.UsageLimit = &limit
	}
	p.StartsAt = startsAt
	p.ExpiresAt = expiresAt
	if minAmount != nil {
		m := money.Money{Amount: *minAmount, Currency: currency}
		p.MinimumOrderAmount = &m
	}
	if maxAmount != nil {
		m := money.Money{Amount: *maxAmount, Currency: currency}
		p.MaximumDiscountAmount = &m
	}
	p.MatchPolicy = promotion.MatchPolicy(matchPolicy)

	p.Action, err = rebuildAction(scope, actionType, amount, rate, currency)
	if err != nil {
		return nil, fmt.Errorf("promotion %s: %w", p.ID, err)
	}
	return &p, nil
}

func rebuildAction(scope, actionType string, amount *int64, rate *decimal.Decimal, currency string) (promotion.Action, error) {
	var (
		fixed money.Money
		pct   money.Percentage
		err   error
	)

	switch promotion.DiscountType(actionType) {
	case promotion.DiscountFixed:
		if amount == nil {
			return promotion.Action{}, errors.New("fixed action without amount")
		}
		fixed, err = money.New(*amount, currency)
		if err != nil {
			return promotion.Action{}, err
		}
	case promotion.DiscountPercentage:
		if rate == nil {
			return promotion.Action{}, errors.New("percentage action without rate")
		}
		pct, err = money.NewPercentage(*rate)
		if err != nil {
			return promotion.Action{}, err
		}
	}

	if promotion.ActionScope(scope) == promotion.ScopeItem {
		return promotion.NewItemDiscount(promotion.DiscountType(actionType), fixed, pct)
	}
	return promotion.NewOrderDiscount(promotion.DiscountType(actionType), fixed, pct)
}

func scanRule(row pgx.CollectableRow) (promotion.Rule, error) {
	var (
		rule     promotion.Rule
		ruleType string
	)
	err := row.Scan(&rule.ID, &rule.PromotionID, &ruleType, &rule.Value, &rule.PropertyName)
	rule.Type = promotion.RuleType(ruleType)
	return rule, err
}
