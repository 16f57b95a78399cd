package handler

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// actionRequest is the wire form of a discount action. Exactly one of
// amount/rate must be set, matching the discount type.
type actionRequest struct {
	Scope  string `json:"scope"`
	Type   string `json:"type"`
	Amount *int64 `json:"amount,omitempty"`
	// Rate is a decimal string in (0, 1], e.g. "0.15".
	Rate *string `json:"rate,omitempty"`
}

type createPromotionRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`

	UsageLimit *int `json:"usage_limit,omitempty"`

	StartsAt  *time.Time `json:"starts_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Currency              string `json:"currency,omitempty"`
	MinimumOrderAmount    *int64 `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *int64 `json:"maximum_discount_amount,omitempty"`

	RequiresCouponCode bool   `json:"requires_coupon_code"`
	MatchPolicy        string `json:"match_policy,omitempty"`

	Action actionRequest `json:"action"`
}

type updatePromotionRequest struct {
	Name        *string `json:"name,omitempty"`
	Code        *string `json:"code,omitempty"`
	Description *string `json:"description,omitempty"`

	UsageLimit *int `json:"usage_limit,omitempty"`

	StartsAt  *time.Time `json:"starts_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Currency              string `json:"currency,omitempty"`
	MinimumOrderAmount    *int64 `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *int64 `json:"maximum_discount_amount,omitempty"`

	RequiresCouponCode *bool   `json:"requires_coupon_code,omitempty"`
	MatchPolicy        *string `json:"match_policy,omitempty"`
}

type addRuleRequest struct {
	Type         string `json:"type"`
	Value        string `json:"value"`
	PropertyName string `json:"property_name,omitempty"`
}

type ruleResponse struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Value        string    `json:"value"`
	PropertyName string    `json:"property_name,omitempty"`
}

type actionResponse struct {
	Scope  string  `json:"scope"`
	Type   string  `json:"type"`
	Amount *int64  `json:"amount,omitempty"`
	Rate   *string `json:"rate,omitempty"`
}

type promotionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description,omitempty"`

	UsageLimit *int `json:"usage_limit,omitempty"`
	UsageCount int  `json:"usage_count"`

	StartsAt  *time.Time `json:"starts_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	MinimumOrderAmount    *int64 `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *int64 `json:"maximum_discount_amount,omitempty"`

	Active             bool   `json:"active"`
	RequiresCouponCode bool   `json:"requires_coupon_code"`
	MatchPolicy        string `json:"match_policy"`

	Rules  []ruleResponse `json:"rules"`
	Action actionResponse `json:"action"`
}

// CreatePromotion handles POST /promotions.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	action, err := buildAction(req.Action, currency)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	p, err := promotion.New(promotion.Params{
		Name:                  req.Name,
		Code:                  req.Code,
		Description:           req.Description,
		UsageLimit:            req.UsageLimit,
		StartsAt:              req.StartsAt,
		ExpiresAt:             req.ExpiresAt,
		MinimumOrderAmount:    optionalMoney(req.MinimumOrderAmount, currency),
		MaximumDiscountAmount: optionalMoney(req.MaximumDiscountAmount, currency),
		RequiresCouponCode:    req.RequiresCouponCode,
		MatchPolicy:           promotion.MatchPolicy(req.MatchPolicy),
		Action:                action,
	})
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.promotions.Create(r.Context(), p); err != nil {
		h.internalError(w, r, "create promotion", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, toPromotionResponse(p))
}

// ListPromotions handles GET /promotions.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promotions.List(r.Context())
	if err != nil {
		h.internalError(w, r, "list promotions", err)
		return
	}

	resp := make([]promotionResponse, len(promos))
	for i, p := range promos {
		resp[i] = toPromotionResponse(p)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetPromotion handles GET /promotions/{promotionID}.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, toPromotionResponse(p))
}

// UpdatePromotion handles PATCH /promotions/{promotionID}. Only fields
// present in the body change; the aggregate re-validates atomically.
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}

	var req updatePromotionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = currencyOf(p)
	}

	params := promotion.UpdateParams{
		Name:               req.Name,
		Code:               req.Code,
		Description:        req.Description,
		RequiresCouponCode: req.RequiresCouponCode,
	}
	if req.UsageLimit != nil {
		params.UsageLimit = &req.UsageLimit
	}
	if req.StartsAt != nil {
		params.StartsAt = &req.StartsAt
	}
	if req.ExpiresAt != nil {
		params.ExpiresAt = &req.ExpiresAt
	}
	if req.MinimumOrderAmount != nil {
		m := optionalMoney(req.MinimumOrderAmount, currency)
		params.MinimumOrderAmount = &m
	}
	if req.MaximumDiscountAmount != nil {
		m := optionalMoney(req.MaximumDiscountAmount, currency)
		params.MaximumDiscountAmount = &m
	}
	if req.MatchPolicy != nil {
		policy := promotion.MatchPolicy(*req.MatchPolicy)
		params.MatchPolicy = &policy
	}

	if err := p.Update(params); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.promotions.Update(r.Context(), p); err != nil {
		h.mapRepositoryError(w, r, "update promotion", err)
		return
	}

	h.respondJSON(w, http.StatusOK, toPromotionResponse(p))
}

// DeletePromotion handles DELETE /promotions/{promotionID}.
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promotionID(w, r)
	if !ok {
		return
	}

	if err := h.promotions.Delete(r.Context(), id); err != nil {
		h.mapRepositoryError(w, r, "delete promotion", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivatePromotion handles POST /promotions/{promotionID}/activate.
func (h *Handler) ActivatePromotion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}

	if err := p.Activate(h.now()); err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}

	if err := h.promotions.Update(r.Context(), p); err != nil {
		h.mapRepositoryError(w, r, "activate promotion", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPromotionResponse(p))
}

// DeactivatePromotion handles POST /promotions/{promotionID}/deactivate.
func (h *Handler) DeactivatePromotion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}

	p.Deactivate()

	if err := h.promotions.Update(r.Context(), p); err != nil {
		h.mapRepositoryError(w, r, "deactivate promotion", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPromotionResponse(p))
}

// AddRule handles POST /promotions/{promotionID}/rules.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}

	var req addRuleRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	rule, err := promotion.NewRule(p.ID, promotion.RuleType(req.Type), req.Value, req.PropertyName)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := p.AddRule(rule); err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}

	if err := h.promotions.Update(r.Context(), p); err != nil {
		h.mapRepositoryError(w, r, "add promotion rule", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toPromotionResponse(p))
}

// RemoveRule handles DELETE /promotions/{promotionID}/rules/{ruleID}.
func (h *Handler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPromotion(w, r)
	if !ok {
		return
	}

	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := p.RemoveRule(ruleID); err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := h.promotions.Update(r.Context(), p); err != nil {
		h.mapRepositoryError(w, r, "remove promotion rule", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPromotionResponse(p))
}

func (h *Handler) promotionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid promotion id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) loadPromotion(w http.ResponseWriter, r *http.Request) (*promotion.Promotion, bool) {
	id, ok := h.promotionID(w, r)
	if !ok {
		return nil, false
	}

	p, err := h.promotions.FindByID(r.Context(), id)
	if err != nil {
		h.mapRepositoryError(w, r, "find promotion", err)
		return nil, false
	}
	return p, true
}

func (h *Handler) mapRepositoryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if stderrors.Is(err, promotion.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "promotion not found")
		return
	}
	h.internalError(w, r, op, err)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zctx.From(r.Context()).Error(op, zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "internal server error")
}

func buildAction(req actionRequest, currency string) (promotion.Action, error) {
	var (
		amount money.Money
		rate   money.Percentage
		err    error
	)

	if req.Amount != nil {
		amount, err = money.New(*req.Amount, currency)
		if err != nil {
			return promotion.Action{}, err
		}
	}
	if req.Rate != nil {
		d, err := decimal.NewFromString(*req.Rate)
		if err != nil {
			return promotion.Action{}, errors.Wrap(err, "parse rate")
		}
		rate, err = money.NewPercentage(d)
		if err != nil {
			return promotion.Action{}, err
		}
	}

	typ := promotion.DiscountType(req.Type)
	if promotion.ActionScope(req.Scope) == promotion.ScopeItem {
		return promotion.NewItemDiscount(typ, amount, rate)
	}
	return promotion.NewOrderDiscount(typ, amount, rate)
}

func optionalMoney(amount *int64, currency string) *money.Money {
	if amount == nil {
		return nil
	}
	return &money.Money{Amount: *amount, Currency: currency}
}

// currencyOf picks the currency already carried by the promotion's
// monetary fields, defaulting to USD.
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

func toPromotionResponse(p *promotion.Promotion) promotionResponse {
	rules := make([]ruleResponse, len(p.Rules))
	for i, rule := range p.Rules {
		rules[i] = ruleResponse{
			ID:           rule.ID,
			Type:         string(rule.Type),
			Value:        rule.Value,
			PropertyName: rule.PropertyName,
		}
	}

	action := actionResponse{
		Scope: string(p.Action.Scope),
		Type:  string(p.Action.Type),
	}
	switch p.Action.Type {
	case promotion.DiscountFixed:
		amount := p.Action.Amount.Amount
		action.Amount = &amount
	case promotion.DiscountPercentage:
		rate := p.Action.Rate.Rate().String()
		action.Rate = &rate
	}

	return promotionResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Code:                  p.Code,
		Description:           p.Description,
		UsageLimit:            p.UsageLimit,
		UsageCount:            p.UsageCount,
		StartsAt:              p.StartsAt,
		ExpiresAt:             p.ExpiresAt,
		MinimumOrderAmount:    amountOf(p.MinimumOrderAmount),
		MaximumDiscountAmount: amountOf(p.MaximumDiscountAmount),
		Active:                p.Active,
		RequiresCouponCode:    p.RequiresCouponCode,
		MatchPolicy:           string(p.MatchPolicy),
		Rules:                 rules,
		Action:                action,
	}
}

func amountOf(m *money.Money) *int64 {
	if m == nil {
		return nil
	}
	return &m.Amount
}
