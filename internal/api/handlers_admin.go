package api

import (
	"net/http"
	"strings"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
)

var (
	errProductFields = apperr.Validation("name, positive price and non-negative stock are required")
	errPrizeFields   = apperr.Validation("name, positive points and non-negative stock are required")
	errNewsFields    = apperr.Validation("title and content are required")
	errVersion       = apperr.Validation("version is required")
)

type productRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsActive    *bool           `json:"isActive"`
	Version     int             `json:"version"`
}

func (p productRequest) input() (store.ProductInput, error) {
	in := store.ProductInput{
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		Image:       strings.TrimSpace(p.Image),
		Price:       p.Price,
		Stock:       p.Stock,
		IsActive:    p.IsActive == nil || *p.IsActive,
	}
	if in.Name == "" || !in.Price.IsPositive() || in.Stock < 0 {
		return in, errProductFields
	}
	return in, nil
}

type prizeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Points      int64  `json:"points"`
	Stock       int    `json:"stock"`
	IsActive    *bool  `json:"isActive"`
}

type newsRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Thumbnail string `json:"thumbnail"`
}

// AdminCreateProduct handles POST /admin/products.
func (h *Handler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	in, err := req.input()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := store.CreateProduct(r.Context(), h.db, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "product", product)
}

// AdminUpdateProduct handles PUT /admin/products/{id}. The request must carry
// the version the admin last read.
func (h *Handler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Version < 1 {
		h.respondError(w, r, errVersion)
		return
	}

	in, err := req.input()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := store.UpdateProduct(r.Context(), h.db, id, req.Version, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "product", product)
}

// AdminCreatePrize handles POST /admin/prizes.
func (h *Handler) AdminCreatePrize(w http.ResponseWriter, r *http.Request) {
	var req prizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	in := store.PrizeInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Image:       strings.TrimSpace(req.Image),
		Points:      req.Points,
		Stock:       req.Stock,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if in.Name == "" || in.Points <= 0 || in.Stock < 0 {
		h.respondError(w, r, errPrizeFields)
		return
	}

	prize, err := store.CreatePrize(r.Context(), h.db, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "prize", prize)
}

// AdminCreateNews handles POST /admin/news.
func (h *Handler) AdminCreateNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)
	if title == "" || content == "" {
		h.respondError(w, r, errNewsFields)
		return
	}

	news, err := store.CreateNews(r.Context(), h.db, title, content, strings.TrimSpace(req.Thumbnail))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "news", news)
}

// AdminListUsers handles GET /admin/users.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := store.NormalizePage(queryInt(r, "page", 1), queryInt(r, "page_size", store.DefaultPageSize))

	result, err := store.ListUsers(r.Context(), h.db, page, pageSize)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "users", result)
}

// AdminStats handles GET /admin/stats.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.GetStats(r.Context(), h.db)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "stats", stats)
}
