package api

import (
	"net/http"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/identity"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	ProductID int64           `json:"productId"`
	Amount    decimal.Decimal `json:"amount"`
}

// CreateOrder handles POST /orders. The response carries the hosted checkout
// URL the client should redirect to.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.ProductID <= 0 {
		h.respondError(w, r, apperr.ErrProductUnavailable)
		return
	}

	checkout, err := h.orders.CreateOrder(r.Context(), id.UserID, req.ProductID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, envelope{
		"success":   true,
		"order":     checkout.Order,
		"sessionId": checkout.SessionID,
		"url":       checkout.RedirectURL,
	})
}

// ListOrders handles GET /orders?cursor=...&limit=...
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	limit := queryInt(r, "limit", store.DefaultPageSize)
	if limit < 1 || limit > store.MaxPageSize {
		limit = store.DefaultPageSize
	}

	result, err := store.ListOrdersCursor(r.Context(), h.db, id.UserID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "orders", result)
}

// GetOrder handles GET /orders/{id}. Orders of other users are reported as
// missing unless the caller is an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	caller := identity.MustFromContext(r.Context())

	orderID, err := idParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if order.UserID != caller.UserID && !caller.IsAdmin {
		h.respondError(w, r, apperr.ErrOrderNotFound)
		return
	}

	respondOK(w, http.StatusOK, "order", order)
}
