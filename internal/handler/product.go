package handler

import (
	"net/http"

	"github.com/xenking/promo-engine/internal/domain/product"
)

type productResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Price      int64             `json:"price"`
	Currency   string            `json:"currency"`
	Category   string            `json:"category,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ListProducts handles GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.internalError(w, r, "list products", err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func toProductResponse(p product.Product) productResponse {
	return productResponse{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price.Amount,
		Currency:   p.Price.Currency,
		Category:   p.Category,
		Attributes: p.Attributes,
	}
}
