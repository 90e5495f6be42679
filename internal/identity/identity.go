// Package identity issues and verifies signed identity tokens. Callers get a
// normalized Identity regardless of whether the token arrived as a bearer
// header or a cookie.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/safar/cashback-store/internal/apperr"
)

type Identity struct {
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Gateway verifies a token and returns the identity it asserts.
type Gateway interface {
	Verify(token string) (Identity, error)
}

type claims struct {
	UserID  int64  `json:"userId"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// JWT is an HS256 Gateway that can also issue tokens.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (j *JWT) Issue(id Identity) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:  id.UserID,
		Email:   id.Email,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (j *JWT) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.ErrInvalidToken, err)
	}
	if !parsed.Valid || c.UserID <= 0 {
		return Identity{}, apperr.ErrInvalidToken
	}

	return Identity{UserID: c.UserID, Email: c.Email, IsAdmin: c.IsAdmin}, nil
}

// TokenFromRequest returns the bearer token if present, otherwise the value
// of the named cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}

	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Authenticate extracts and verifies the token carried by r.
func Authenticate(gw Gateway, r *http.Request, cookieName string) (Identity, error) {
	token := TokenFromRequest(r, cookieName)
	if token == "" {
		return Identity{}, apperr.ErrUnauthorized
	}
	return gw.Verify(token)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// MustFromContext is for handlers mounted behind the auth middleware.
func MustFromContext(ctx context.Context) Identity {
	id, ok := FromContext(ctx)
	if !ok {
		panic(errors.New("identity: no identity in context"))
	}
	return id
}
