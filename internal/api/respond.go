package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/store"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type envelope map[string]any

var (
	errInvalidBody = apperr.Validation("invalid request body")
	errInvalidID   = apperr.Validation("invalid id")
	errBadCursor   = apperr.Validation("invalid cursor")
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondOK(w http.ResponseWriter, status int, key string, value any) {
	respondJSON(w, status, envelope{"success": true, key: value})
}

// respondError writes the public message for err. Server-side failures are
// logged with their cause; client errors are not.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	err = fromStore(err)
	status := apperr.KindOf(err).HTTPStatus()

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
	}

	respondJSON(w, status, envelope{"success": false, "error": apperr.PublicMessage(err)})
}

// fromStore maps persistence sentinels returned by direct store reads.
func fromStore(err error) error {
	switch {
	case errors.Is(err, database.ErrProductNotFound):
		return apperr.ErrProductUnavailable
	case errors.Is(err, database.ErrPrizeNotFound):
		return apperr.ErrPrizeUnavailable
	case errors.Is(err, database.ErrOrderNotFound):
		return apperr.ErrOrderNotFound
	case errors.Is(err, database.ErrUserNotFound):
		return apperr.ErrUserNotFound
	case errors.Is(err, database.ErrOptimisticLockFailed):
		return apperr.ErrVersionConflict
	case errors.Is(err, store.ErrInvalidCursor):
		return errBadCursor
	}

	var appErr *apperr.Error
	if err != nil && !errors.As(err, &appErr) && apperr.KindOf(err) == apperr.KindInternal {
		return apperr.Store(err)
	}
	return err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidBody
		}
		return apperr.Wrap(errInvalidBody, err)
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}
