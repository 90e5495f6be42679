package api

import (
	"net/http"

	"github.com/safar/cashback-store/internal/identity"
	"github.com/safar/cashback-store/internal/store"
)

const transactionsLimit = 50

// ClaimPrize handles POST /prizes/{id}/claim.
func (h *Handler) ClaimPrize(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	prizeID, err := idParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	receipt, err := h.claims.ClaimPrize(r.Context(), id.UserID, prizeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, envelope{
		"success":     true,
		"claim":       receipt.Claim,
		"transaction": receipt.Transaction,
		"cashback":    receipt.Balance,
	})
}

// ListClaims handles GET /prizes/claims.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	claims, err := store.ListClaims(r.Context(), h.db, id.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "claims", claims)
}

// ListTransactions handles GET /cashback/transactions. The response includes
// the current balance next to the most recent ledger entries.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	limit := queryInt(r, "limit", transactionsLimit)
	if limit < 1 || limit > store.MaxPageSize {
		limit = transactionsLimit
	}

	user, err := store.GetUser(r.Context(), h.db, id.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	transactions, err := store.ListTransactions(r.Context(), h.db, id.UserID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, envelope{
		"success":      true,
		"cashback":     user.Cashback,
		"transactions": transactions,
	})
}
