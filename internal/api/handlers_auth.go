package api

import (
	"net/http"
	"time"

	"github.com/safar/cashback-store/internal/account"
	"github.com/safar/cashback-store/internal/identity"
)

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateMeRequest struct {
	Name string `json:"name"`
}

// SendOTP handles POST /auth/send-otp.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.accounts.SendCode(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, envelope{"success": true})
}

// VerifyOTP handles POST /auth/verify-otp.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.accounts.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, envelope{"success": true})
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	session, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token, session.ExpiresAt)
	respondJSON(w, http.StatusCreated, envelope{"success": true, "token": session.Token, "user": session.User})
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token, session.ExpiresAt)
	respondJSON(w, http.StatusOK, envelope{"success": true, "token": session.Token, "user": session.User})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.sameSite(),
	})
	respondJSON(w, http.StatusOK, envelope{"success": true})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	user, err := h.accounts.Me(r.Context(), id.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "user", user)
}

// UpdateMe handles PUT /auth/me.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id := identity.MustFromContext(r.Context())

	var req updateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.accounts.UpdateName(r.Context(), id.UserID, req.Name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "user", user)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) sameSite() http.SameSite {
	if h.cookie.Secure {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}
