package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/cashback-store/internal/account"
	"github.com/safar/cashback-store/internal/api"
	"github.com/safar/cashback-store/internal/config"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/identity"
	"github.com/safar/cashback-store/internal/logging"
	"github.com/safar/cashback-store/internal/otp"
	"github.com/safar/cashback-store/internal/payment"
	"github.com/safar/cashback-store/internal/redemption"
	"github.com/safar/cashback-store/internal/settlement"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not configured, checkout will fail")
	}

	tokens := identity.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var notifier otp.Notifier = otp.NewLogNotifier(logger)
	if cfg.SMTP.Host != "" {
		notifier = otp.NewSMTPNotifier(cfg.SMTP)
	}
	codes := otp.NewMemoryStore(cfg.OTP.MaxAttempts)

	orders := settlement.NewEngine(db, payment.NewStripe(cfg.Stripe), logger, settlement.Config{
		CashbackRate: cfg.Rewards.CashbackRate,
		AppURL:       cfg.Stripe.AppURL,
	})

	handler := api.NewHandler(api.Deps{
		DB:     db,
		Orders: orders,
		Claims: redemption.NewEngine(db, logger),
		Accounts: account.NewService(db, codes, notifier, tokens, logger, account.Config{
			CodeTTL:    cfg.OTP.TTL,
			CodeLength: cfg.OTP.CodeLength,
		}),
		Tokens: tokens,
		Logger: logger,
		Cookie: api.CookieConfig{
			Name:   cfg.Auth.CookieName,
			Secure: cfg.Auth.SecureCookies,
		},
		CodeSendsPerMinute:  cfg.OTP.SendPerMinute,
		CodeChecksPerMinute: cfg.OTP.VerifyPerMinute,
		TrustProxyHeaders:   cfg.Server.TrustProxyHeaders,
	})

	go orders.RunReaper(ctx, cfg.Rewards.ReaperInterval, cfg.Rewards.PendingOrderTTL)
	go codes.RunSweeper(ctx, time.Minute)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
