// Package api exposes the storefront, rewards and admin operations over HTTP.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/safar/cashback-store/internal/account"
	"github.com/safar/cashback-store/internal/identity"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/redemption"
	"github.com/safar/cashback-store/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID, productID int64, amount decimal.Decimal) (*settlement.Checkout, error)
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (settlement.Result, error)
}

type ClaimService interface {
	ClaimPrize(ctx context.Context, userID, prizeID int64) (*redemption.Receipt, error)
}

type AccountService interface {
	SendCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
	Register(ctx context.Context, in account.RegisterInput) (*account.Session, error)
	Login(ctx context.Context, email, password string) (*account.Session, error)
	Me(ctx context.Context, userID int64) (*models.User, error)
	UpdateName(ctx context.Context, userID int64, name string) (*models.User, error)
}

// CookieConfig controls the session cookie set on login and registration.
type CookieConfig struct {
	Name   string
	Secure bool
}

type Deps struct {
	DB       *sql.DB
	Orders   OrderService
	Claims   ClaimService
	Accounts AccountService
	Tokens   identity.Gateway
	Logger   *zap.Logger
	Cookie   CookieConfig

	// CodeSendsPerMinute limits verification code requests per client IP.
	CodeSendsPerMinute int
	// CodeChecksPerMinute limits verification attempts per client IP.
	CodeChecksPerMinute int
	// TrustProxyHeaders derives the client IP from X-Forwarded-For and
	// X-Real-IP. Leave it off unless a proxy in front rewrites them.
	TrustProxyHeaders bool
}

type Handler struct {
	db          *sql.DB
	orders      OrderService
	claims      ClaimService
	accounts    AccountService
	tokens      identity.Gateway
	logger      *zap.Logger
	cookie      CookieConfig
	otpLimit    *ipRateLimiter
	verifyLimit *ipRateLimiter
	trustProxy  bool
}

func NewHandler(d Deps) *Handler {
	if d.Cookie.Name == "" {
		d.Cookie.Name = "token"
	}
	if d.CodeSendsPerMinute <= 0 {
		d.CodeSendsPerMinute = 5
	}
	if d.CodeChecksPerMinute <= 0 {
		d.CodeChecksPerMinute = 10
	}

	return &Handler{
		db:          d.DB,
		orders:      d.Orders,
		claims:      d.Claims,
		accounts:    d.Accounts,
		tokens:      d.Tokens,
		logger:      d.Logger.Named("api"),
		cookie:      d.Cookie,
		otpLimit:    newIPRateLimiter(d.CodeSendsPerMinute, time.Minute),
		verifyLimit: newIPRateLimiter(d.CodeChecksPerMinute, time.Minute),
		trustProxy:  d.TrustProxyHeaders,
	}
}

// Router returns the full handler tree with the common middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if h.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(h.requestLog)
	r.Use(chimw.Recoverer)

	h.Routes(r)
	return r
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.With(h.otpLimit.middleware).Post("/send-otp", h.SendOTP)
		r.With(h.verifyLimit.middleware).Post("/verify-otp", h.VerifyOTP)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.Me)
			r.Put("/me", h.UpdateMe)
		})
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Get("/prizes", h.ListPrizes)
	r.Get("/news", h.ListNews)
	r.Post("/contact", h.CreateContactMessage)
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)

		r.Post("/prizes/{id}/claim", h.ClaimPrize)
		r.Get("/prizes/claims", h.ListClaims)

		r.Get("/cashback/transactions", h.ListTransactions)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.requireAdmin)

		r.Post("/products", h.AdminCreateProduct)
		r.Put("/products/{id}", h.AdminUpdateProduct)
		r.Post("/prizes", h.AdminCreatePrize)
		r.Post("/news", h.AdminCreateNews)
		r.Get("/users", h.AdminListUsers)
		r.Get("/stats", h.AdminStats)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, envelope{"success": true, "status": "ok"})
}
