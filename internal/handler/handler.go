// Package handler exposes the HTTP surface: promotion administration,
// product listing, quoting, and order placement.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/promo-engine/internal/domain/pricing"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const maxBodySize = 1 << 20 // 1MB

// Handler holds the collaborators behind the HTTP endpoints.
type Handler struct {
	promotions promotion.Repository
	products   product.Repository
	pricing    *pricing.Service

	now func() time.Time
}

// New creates a Handler.
func New(promotions promotion.Repository, products product.Repository, svc *pricing.Service) *Handler {
	return &Handler{
		promotions: promotions,
		products:   products,
		pricing:    svc,
		now:        time.Now,
	}
}

// Routes mounts all API endpoints on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/promotions", func(r chi.Router) {
		r.Post("/", h.CreatePromotion)
		r.Get("/", h.ListPromotions)
		r.Route("/{promotionID}", func(r chi.Router) {
			r.Get("/", h.GetPromotion)
			r.Patch("/", h.UpdatePromotion)
			r.Delete("/", h.DeletePromotion)
			r.Post("/activate", h.ActivatePromotion)
			r.Post("/deactivate", h.DeactivatePromotion)
			r.Post("/rules", h.AddRule)
			r.Delete("/rules/{ruleID}", h.RemoveRule)
		})
	})

	r.Get("/products", h.ListProducts)
	r.Post("/quotes", h.QuoteOrder)
	r.Post("/orders", h.PlaceOrder)

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// decodeBody decodes the JSON request body into dst, bounding its size.
// A false return means an error response has already been written.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}
