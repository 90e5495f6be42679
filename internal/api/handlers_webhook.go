package api

import (
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/safar/cashback-store/internal/apperr"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

// StripeWebhook handles POST /webhooks/stripe. The raw body is passed through
// untouched because the signature covers the exact bytes. Any event that was
// verified and processed, including duplicates and ignored types, is
// acknowledged so the provider stops retrying.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, envelope{"received": false, "error": "unreadable body"})
		return
	}

	result, err := h.orders.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.KindUntrustedEvent || kind == apperr.KindValidation {
			respondJSON(w, http.StatusBadRequest, envelope{"received": false, "error": apperr.PublicMessage(err)})
			return
		}

		h.logger.Error("webhook processing failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, envelope{"received": false})
		return
	}

	respondJSON(w, http.StatusOK, envelope{"received": true, "result": result})
}
