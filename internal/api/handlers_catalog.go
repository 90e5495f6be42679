package api

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/store"
)

var errContactFields = apperr.Validation("name, email and message are required")

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ListProducts handles GET /products. Only active products are listed.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := store.NormalizePage(queryInt(r, "page", 1), queryInt(r, "page_size", store.DefaultPageSize))

	result, err := store.ListProducts(r.Context(), h.db, true, page, pageSize)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "products", result)
}

// GetProduct handles GET /products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !product.IsActive {
		h.respondError(w, r, apperr.ErrProductUnavailable)
		return
	}

	respondOK(w, http.StatusOK, "product", product)
}

// ListPrizes handles GET /prizes.
func (h *Handler) ListPrizes(w http.ResponseWriter, r *http.Request) {
	prizes, err := store.ListActivePrizes(r.Context(), h.db)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "prizes", prizes)
}

// ListNews handles GET /news.
func (h *Handler) ListNews(w http.ResponseWriter, r *http.Request) {
	news, err := store.ListNews(r.Context(), h.db)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "news", news)
}

// CreateContactMessage handles POST /contact.
func (h *Handler) CreateContactMessage(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	message := strings.TrimSpace(req.Message)
	if name == "" || message == "" {
		h.respondError(w, r, errContactFields)
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		h.respondError(w, r, errContactFields)
		return
	}

	msg, err := store.CreateContactMessage(r.Context(), h.db, name, email, message)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "message", msg)
}
