// Package pricing implements the order pricing pipeline: it assembles an
// order snapshot, evaluates candidate promotions through the calculator,
// and applies the resulting adjustments to the order total.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// Sentinel errors for quote validation.
var (
	ErrEmptyItems         = errors.New("items required")
	ErrInvalidPromotion   = errors.New("invalid promotion code")
	ErrPromotionExhausted = errors.New("promotion usage limit reached")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CurrencyMismatchError indicates the requested currency differs from the
// catalog currency the products are priced in.
type CurrencyMismatchError struct {
	Requested string
	Catalog   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency %s does not match catalog currency %s", e.Requested, e.Catalog)
}

// QuoteRequest holds the input for pricing an order.
type QuoteRequest struct {
	CustomerID     string
	CustomerGroups []string
	Currency       string
	Items          []order.PlacedItem
	PromotionCode  string
}

// AppliedPromotion pairs a promotion with its computed adjustments.
type AppliedPromotion struct {
	PromotionID uuid.UUID
	Code        string
	Adjustments []promotion.Adjustment
}

// Quote is the priced view of an order before placement.
type Quote struct {
	Snapshot  *order.Snapshot
	Subtotal  money.Money
	Discounts money.Money
	Total     money.Money
	Applied   []AppliedPromotion
}

// Service prices orders against the promotion catalog. It owns no state
// beyond its collaborators and is safe for concurrent use.
type Service struct {
	products   product.Repository
	promotions promotion.Repository
	orders     order.Repository
	calc       *promotion.Calculator

	evaluated metric.Int64Counter
	applied   metric.Int64Counter
}

// NewService creates a pricing Service with the required collaborators.
func NewService(
	products product.Repository,
	promotions promotion.Repository,
	orders order.Repository,
	meter metric.Meter,
) (*Service, error) {
	evaluated, err := meter.Int64Counter("promotions.evaluated",
		metric.WithDescription("Candidate promotions evaluated against orders"))
	if err != nil {
		return nil, fmt.Errorf("create evaluated counter: %w", err)
	}
	applied, err := meter.Int64Counter("promotions.applied",
		metric.WithDescription("Promotions that produced adjustments"))
	if err != nil {
		return nil, fmt.Errorf("create applied counter: %w", err)
	}

	return &Service{
		products:   products,
		promotions: promotions,
		orders:     orders,
		calc:       promotion.NewCalculator(),
		evaluated:  evaluated,
		applied:    applied,
	}, nil
}

// Quote prices the requested items: it builds an order snapshot, evaluates
// the coded promotion (when a code is supplied) and every automatic
// promotion, and totals the adjustments. Inapplicable promotions are
// silently skipped; only an unknown code is an error.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	snap, err := s.buildSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates, err := s.candidates(ctx, req.PromotionCode)
	if err != nil {
		return nil, err
	}

	quote := &Quote{
		Snapshot: snap,
		Subtotal: snap.Subtotal,
		Total:    snap.Subtotal,
	}

	discounts := money.Zero(snap.Currency)
	for _, p := range candidates {
		s.evaluated.Add(ctx, 1)

		result, err := s.calc.Calculate(p, snap)
		if err != nil {
			return nil, fmt.Errorf("calculate promotion %s: %w", p.ID, err)
		}
		if len(result.Adjustments) == 0 {
			continue
		}

		s.applied.Add(ctx, 1)
		quote.Applied = append(quote.Applied, AppliedPromotion{
			PromotionID: p.ID,
			Code:        p.Code,
			Adjustments: result.Adjustments,
		})
		discounts = discounts.Add(result.TotalDiscount(snap.Currency))
	}

	// The combined discount never drives the total negative.
	discounts = money.Min(discounts, snap.Subtotal)
	quote.Discounts = discounts
	quote.Total = money.Money{
		Amount:   snap.Subtotal.Amount - discounts.Amount,
		Currency: snap.Currency,
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("pricing.promotions_applied", len(quote.Applied)),
		attribute.Int64("pricing.discount_minor_units", discounts.Amount),
	)

	return quote, nil
}

// PlaceOrder prices the items, persists the order, and records one usage
// per applied promotion. The repository performs the usage increment as a
// guarded atomic statement, so a concurrent checkout that exhausts a limit
// surfaces here as ErrPromotionExhausted instead of over-redeeming.
func (s *Service) PlaceOrder(ctx context.Context, req QuoteRequest) (*order.Order, *Quote, error) {
	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	for _, applied := range quote.Applied {
		if err := s.promotions.IncrementUsage(ctx, applied.PromotionID); err != nil {
			if errors.Is(err, promotion.ErrUsageLimitReached) {
				return nil, nil, ErrPromotionExhausted
			}
			return nil, nil, fmt.Errorf("increment promotion usage: %w", err)
		}
	}

	o := &order.Order{
		ID:            uuid.New().String(),
		CustomerID:    req.CustomerID,
		Items:         req.Items,
		Subtotal:      quote.Subtotal,
		Discounts:     quote.Discounts,
		Total:         quote.Total,
		PromotionCode: req.PromotionCode,
		CreatedAt:     time.Now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	return o, quote, nil
}

// buildSnapshot validates the request and assembles the read-only order
// view that promotion rules evaluate against.
func (s *Service) buildSnapshot(ctx context.Context, req QuoteRequest) (*order.Snapshot, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	subtotal := money.Zero(currency)
	items := make([]order.LineItem, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		// Client-supplied currency must agree with the catalog before any
		// money arithmetic; a mismatch downstream is a panic, not an error.
		if p.Price.Currency != currency {
			return nil, &CurrencyMismatchError{Requested: currency, Catalog: p.Price.Currency}
		}

		lineSubtotal := money.Money{
			Amount:   p.Price.Amount * int64(item.Quantity),
			Currency: currency,
		}
		items[i] = order.LineItem{
			ID:         fmt.Sprintf("li-%d", i+1),
			ProductID:  p.ID,
			Category:   p.Category,
			UnitPrice:  p.Price,
			Quantity:   item.Quantity,
			Subtotal:   lineSubtotal,
			Attributes: p.Attributes,
		}
		subtotal = subtotal.Add(lineSubtotal)
	}

	orderCount := 0
	if req.CustomerID != "" {
		orderCount, err = s.orders.CountByCustomer(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("count customer orders: %w", err)
		}
	}

	return &order.Snapshot{
		ID:                 uuid.New().String(),
		CustomerID:         req.CustomerID,
		CustomerOrderCount: orderCount,
		CustomerGroups:     req.CustomerGroups,
		Currency:           currency,
		Subtotal:           subtotal,
		Items:              items,
	}, nil
}

// candidates returns the promotions to evaluate: the coded promotion when a
// code is supplied, plus every automatic promotion. A promotion with a code
// but no coupon-code requirement shows up through both lookups, so the set
// is deduplicated by ID to keep it from being applied twice.
func (s *Service) candidates(ctx context.Context, code string) ([]*promotion.Promotion, error) {
	var candidates []*promotion.Promotion
	seen := make(map[uuid.UUID]struct{})

	if code != "" {
		coded, err := s.promotions.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, promotion.ErrNotFound) {
				return nil, ErrInvalidPromotion
			}
			return nil, fmt.Errorf("find promotion by code: %w", err)
		}
		candidates = append(candidates, coded)
		seen[coded.ID] = struct{}{}
	}

	automatic, err := s.promotions.ListAutomatic(ctx)
	if err != nil {
		return nil, fmt.Errorf("list automatic promotions: %w", err)
	}
	for _, p := range automatic {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		candidates = append(candidates, p)
	}

	return candidates, nil
}
