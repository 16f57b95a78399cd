package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/pricing"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

type stubPromotionRepo struct {
	byID      map[uuid.UUID]*promotion.Promotion
	byCode    map[string]*promotion.Promotion
	automatic []*promotion.Promotion

	created *promotion.Promotion
	updated *promotion.Promotion
	deleted uuid.UUID
	usage   map[uuid.UUID]int
}

func newStubPromotionRepo() *stubPromotionRepo {
	return &stubPromotionRepo{
		byID:   make(map[uuid.UUID]*promotion.Promotion),
		byCode: make(map[string]*promotion.Promotion),
		usage:  make(map[uuid.UUID]int),
	}
}

func (s *stubPromotionRepo) add(p *promotion.Promotion) {
	s.byID[p.ID] = p
	if p.Code != "" {
		s.byCode[p.Code] = p
	}
	if !p.RequiresCouponCode {
		s.automatic = append(s.automatic, p)
	}
}

func (s *stubPromotionRepo) FindByID(_ context.Context, id uuid.UUID) (*promotion.Promotion, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	return p, nil
}

func (s *stubPromotionRepo) FindByCode(_ context.Context, code string) (*promotion.Promotion, error) {
	p, ok := s.byCode[code]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	return p, nil
}

func (s *stubPromotionRepo) List(context.Context) ([]*promotion.Promotion, error) {
	promos := make([]*promotion.Promotion, 0, len(s.byID))
	for _, p := range s.byID {
		promos = append(promos, p)
	}
	return promos, nil
}

func (s *stubPromotionRepo) ListAutomatic(context.Context) ([]*promotion.Promotion, error) {
	return s.automatic, nil
}

func (s *stubPromotionRepo) Create(_ context.Context, p *promotion.Promotion) error {
	s.created = p
	s.add(p)
	return nil
}

func (s *stubPromotionRepo) Update(_ context.Context, p *promotion.Promotion) error {
	if _, ok := s.byID[p.ID]; !ok {
		return promotion.ErrNotFound
	}
	s.updated = p
	return nil
}

func (s *stubPromotionRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.byID[id]; !ok {
		return promotion.ErrNotFound
	}
	s.deleted = id
	delete(s.byID, id)
	return nil
}

func (s *stubPromotionRepo) IncrementUsage(_ context.Context, id uuid.UUID) error {
	s.usage[id]++
	return nil
}

type stubProductRepo struct {
	products []product.Product
}

func (s *stubProductRepo) List(context.Context) ([]product.Product, error) {
	return s.products, nil
}

func (s *stubProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, p := range s.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

type stubOrderRepo struct {
	created *order.Order
}

func (s *stubOrderRepo) Create(_ context.Context, o *order.Order) error {
	s.created = o
	return nil
}

func (s *stubOrderRepo) CountByCustomer(context.Context, string) (int, error) {
	return 0, nil
}

type fixture struct {
	handler    http.Handler
	promotions *stubPromotionRepo
	products   *stubProductRepo
	orders     *stubOrderRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	promotions := newStubPromotionRepo()
	products := &stubProductRepo{products: []product.Product{
		{ID: "p1", Name: "Waffle", Price: money.MustNew(1000, "USD"), Category: "Breakfast"},
		{ID: "p2", Name: "Burger", Price: money.MustNew(2500, "USD"), Category: "Lunch"},
	}}
	orders := &stubOrderRepo{}

	svc, err := pricing.NewService(products, promotions, orders, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	return &fixture{
		handler:    New(promotions, products, svc).Routes(),
		promotions: promotions,
		products:   products,
		orders:     orders,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func fixedPromotion(t *testing.T, code string, amount int64) *promotion.Promotion {
	t.Helper()

	action, err := promotion.NewOrderDiscount(
		promotion.DiscountFixed, money.MustNew(amount, "USD"), money.Percentage{})
	require.NoError(t, err)

	p, err := promotion.New(promotion.Params{
		Name:               "Test Promotion",
		Code:               code,
		RequiresCouponCode: code != "",
		Action:             action,
	})
	require.NoError(t, err)
	return p
}

func TestCreatePromotion(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/promotions", map[string]any{
		"name":                 "Summer Sale",
		"code":                 "SUMMER10",
		"requires_coupon_code": true,
		"minimum_order_amount": 5000,
		"action": map[string]any{
			"scope": "order_discount",
			"type":  "percentage",
			"rate":  "0.1",
		},
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeJSON[promotionResponse](t, w)
	assert.Equal(t, "Summer Sale", resp.Name)
	assert.Equal(t, "SUMMER10", resp.Code)
	assert.True(t, resp.Active)
	assert.Equal(t, "all", resp.MatchPolicy)
	require.NotNil(t, resp.Action.Rate)
	assert.Equal(t, "0.1", *resp.Action.Rate)
	require.NotNil(t, f.promotions.created)
}

func TestCreatePromotion_ValidationFailure(t *testing.T) {
	f := newFixture(t)

	// Missing name and coupon code while requiring one.
	w := f.do(t, http.MethodPost, "/promotions", map[string]any{
		"requires_coupon_code": true,
		"action": map[string]any{
			"scope":  "order_discount",
			"type":   "fixed",
			"amount": 500,
		},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeJSON[errorResponse](t, w)
	assert.Contains(t, resp.Message, "name required")
}

func TestCreatePromotion_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/promotions", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPromotion_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/promotions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPromotion_BadID(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/promotions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePromotion(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "SAVE5", 500)
	f.promotions.add(p)

	w := f.do(t, http.MethodPatch, "/promotions/"+p.ID.String(), map[string]any{
		"name":        "Renamed",
		"usage_limit": 10,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeJSON[promotionResponse](t, w)
	assert.Equal(t, "Renamed", resp.Name)
	require.NotNil(t, resp.UsageLimit)
	assert.Equal(t, 10, *resp.UsageLimit)
	require.NotNil(t, f.promotions.updated)
}

func TestActivateDeactivatePromotion(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "", 500)
	f.promotions.add(p)

	w := f.do(t, http.MethodPost, "/promotions/"+p.ID.String()+"/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeJSON[promotionResponse](t, w).Active)

	w = f.do(t, http.MethodPost, "/promotions/"+p.ID.String()+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeJSON[promotionResponse](t, w).Active)
}

func TestAddRule_Duplicate(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "", 500)
	f.promotions.add(p)

	body := map[string]any{"type": "customer_group", "value": "vip"}

	w := f.do(t, http.MethodPost, "/promotions/"+p.ID.String()+"/rules", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/promotions/"+p.ID.String()+"/rules", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRemoveRule(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "", 500)
	rule, err := promotion.NewRule(p.ID, promotion.RuleCustomerGroup, "vip", "")
	require.NoError(t, err)
	require.NoError(t, p.AddRule(rule))
	f.promotions.add(p)

	w := f.do(t, http.MethodDelete, "/promotions/"+p.ID.String()+"/rules/"+rule.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeJSON[promotionResponse](t, w).Rules)

	w = f.do(t, http.MethodDelete, "/promotions/"+p.ID.String()+"/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePromotion(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "", 500)
	f.promotions.add(p)

	w := f.do(t, http.MethodDelete, "/promotions/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/promotions/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProducts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[[]productResponse](t, w)
	require.Len(t, resp, 2)
	assert.Equal(t, "Waffle", resp[0].Name)
	assert.Equal(t, int64(1000), resp[0].Price)
}

func TestQuoteOrder(t *testing.T) {
	f := newFixture(t)
	f.promotions.add(fixedPromotion(t, "SAVE5", 500))

	w := f.do(t, http.MethodPost, "/quotes", map[string]any{
		"items":          []map[string]any{{"product_id": "p1", "quantity": 2}},
		"promotion_code": "SAVE5",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeJSON[quoteResponse](t, w)
	assert.Equal(t, int64(2000), resp.Subtotal)
	assert.Equal(t, int64(500), resp.Discounts)
	assert.Equal(t, int64(1500), resp.Total)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "SAVE5", resp.Applied[0].Code)
}

func TestQuoteOrder_UnknownCode(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/quotes", map[string]any{
		"items":          []map[string]any{{"product_id": "p1", "quantity": 1}},
		"promotion_code": "NOPE",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQuoteOrder_EmptyItems(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/quotes", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/quotes", map[string]any{
		"items": []map[string]any{{"product_id": "ghost", "quantity": 1}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQuoteOrder_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/quotes", map[string]any{
		"currency": "EUR",
		"items":    []map[string]any{{"product_id": "p1", "quantity": 1}},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	p := fixedPromotion(t, "SAVE5", 500)
	f.promotions.add(p)

	w := f.do(t, http.MethodPost, "/orders", map[string]any{
		"customer_id":    "cust-1",
		"items":          []map[string]any{{"product_id": "p2", "quantity": 1}},
		"promotion_code": "SAVE5",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeJSON[orderResponse](t, w)
	assert.Equal(t, int64(2500), resp.Subtotal)
	assert.Equal(t, int64(2000), resp.Total)
	assert.Equal(t, "SAVE5", resp.PromotionCode)

	require.NotNil(t, f.orders.created)
	assert.Equal(t, 1, f.promotions.usage[p.ID])
}
