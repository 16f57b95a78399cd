package handler

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/pricing"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type quoteRequest struct {
	CustomerID     string             `json:"customer_id,omitempty"`
	CustomerGroups []string           `json:"customer_groups,omitempty"`
	Currency       string             `json:"currency,omitempty"`
	Items          []orderItemRequest `json:"items"`
	PromotionCode  string             `json:"promotion_code,omitempty"`
}

type adjustmentResponse struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	LineItemID  string `json:"line_item_id,omitempty"`
}

type appliedPromotionResponse struct {
	PromotionID uuid.UUID            `json:"promotion_id"`
	Code        string               `json:"code,omitempty"`
	Adjustments []adjustmentResponse `json:"adjustments"`
}

type quoteResponse struct {
	Currency  string                     `json:"currency"`
	Subtotal  int64                      `json:"subtotal"`
	Discounts int64                      `json:"discounts"`
	Total     int64                      `json:"total"`
	Applied   []appliedPromotionResponse `json:"applied_promotions"`
}

type orderResponse struct {
	ID            string             `json:"id"`
	CustomerID    string             `json:"customer_id,omitempty"`
	Items         []orderItemRequest `json:"items"`
	Currency      string             `json:"currency"`
	Subtotal      int64              `json:"subtotal"`
	Discounts     int64              `json:"discounts"`
	Total         int64              `json:"total"`
	PromotionCode string             `json:"promotion_code,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`

	Applied []appliedPromotionResponse `json:"applied_promotions"`
}

// QuoteOrder handles POST /quotes: it prices the items with every applicable
// promotion but places nothing and records no usage.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	quote, err := h.pricing.Quote(r.Context(), toQuoteRequest(req))
	if err != nil {
		h.mapPricingError(w, r, "quote order", err)
		return
	}

	h.respondJSON(w, http.StatusOK, toQuoteResponse(quote))
}

// PlaceOrder handles POST /orders: it prices the items, records one usage
// per applied promotion, and persists the order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	placed, quote, err := h.pricing.PlaceOrder(r.Context(), toQuoteRequest(req))
	if err != nil {
		h.mapPricingError(w, r, "place order", err)
		return
	}

	items := make([]orderItemRequest, len(placed.Items))
	for i, item := range placed.Items {
		items[i] = orderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	h.respondJSON(w, http.StatusCreated, orderResponse{
		ID:            placed.ID,
		CustomerID:    placed.CustomerID,
		Items:         items,
		Currency:      placed.Total.Currency,
		Subtotal:      placed.Subtotal.Amount,
		Discounts:     placed.Discounts.Amount,
		Total:         placed.Total.Amount,
		PromotionCode: placed.PromotionCode,
		CreatedAt:     placed.CreatedAt,
		Applied:       toAppliedResponses(quote),
	})
}

func (h *Handler) mapPricingError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		iqErr  *pricing.InvalidQuantityError
		pnfErr *pricing.ProductNotFoundError
		cmErr  *pricing.CurrencyMismatchError
	)

	switch {
	case stderrors.Is(err, pricing.ErrEmptyItems):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case stderrors.As(err, &iqErr):
		h.respondError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case stderrors.As(err, &pnfErr):
		h.respondError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case stderrors.As(err, &cmErr):
		h.respondError(w, http.StatusUnprocessableEntity, cmErr.Error())
	case stderrors.Is(err, pricing.ErrInvalidPromotion):
		h.respondError(w, http.StatusUnprocessableEntity, "invalid promotion code")
	case stderrors.Is(err, pricing.ErrPromotionExhausted),
		stderrors.Is(err, promotion.ErrUsageLimitReached):
		h.respondError(w, http.StatusConflict, "promotion usage limit reached")
	default:
		h.internalError(w, r, op, err)
	}
}

func toQuoteRequest(req quoteRequest) pricing.QuoteRequest {
	items := make([]order.PlacedItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.PlacedItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return pricing.QuoteRequest{
		CustomerID:     req.CustomerID,
		CustomerGroups: req.CustomerGroups,
		Currency:       req.Currency,
		Items:          items,
		PromotionCode:  req.PromotionCode,
	}
}

func toQuoteResponse(quote *pricing.Quote) quoteResponse {
	return quoteResponse{
		Currency:  quote.Total.Currency,
		Subtotal:  quote.Subtotal.Amount,
		Discounts: quote.Discounts.Amount,
		Total:     quote.Total.Amount,
		Applied:   toAppliedResponses(quote),
	}
}

func toAppliedResponses(quote *pricing.Quote) []appliedPromotionResponse {
	applied := make([]appliedPromotionResponse, len(quote.Applied))
	for i, ap := range quote.Applied {
		adjustments := make([]adjustmentResponse, len(ap.Adjustments))
		for j, adj := range ap.Adjustments {
			adjustments[j] = adjustmentResponse{
				Description: adj.Description,
				Amount:      adj.Amount.Amount,
				LineItemID:  adj.LineItemID,
			}
		}
		applied[i] = appliedPromotionResponse{
			PromotionID: ap.PromotionID,
			Code:        ap.Code,
			Adjustments: adjustments,
		}
	}
	return applied
}
