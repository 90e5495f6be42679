// Package settlement turns purchase intents into pending orders and finalizes
// them exactly once when the payment provider confirms payment.
//
// A confirmation may arrive more than once and concurrently with other
// confirmations. SettleOrder locks the order row, records the provider event
// id, and applies the status change, balance credit, ledger entry and stock
// decrement in one transaction. Any order that is no longer pending is left
// untouched.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/inventory"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/payment"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Result string

const (
	ResultSettled Result = "settled"
	ResultFailed  Result = "failed"
	ResultIgnored Result = "ignored"
)

type Config struct {
	// CashbackRate is used as given; zero credits nothing.
	CashbackRate decimal.Decimal
	AppURL       string
}

type Engine struct {
	db           *sql.DB
	provider     payment.Provider
	logger       *zap.Logger
	cashbackRate decimal.Decimal
	appURL       string
	txOpts       database.TxOptions
}

func NewEngine(db *sql.DB, provider payment.Provider, logger *zap.Logger, cfg Config) *Engine {
	return &Engine{
		db:           db,
		provider:     provider,
		logger:       logger.Named("settlement"),
		cashbackRate: cfg.CashbackRate,
		appURL:       strings.TrimRight(cfg.AppURL, "/"),
		txOpts:       database.LedgerTxOptions(),
	}
}

// Checkout is what a client needs to continue to the hosted payment page.
type Checkout struct {
	Order       *models.Order `json:"order"`
	SessionID   string        `json:"session_id"`
	RedirectURL string        `json:"url"`
}

// CreateOrder validates the purchase against the catalog, stores a pending
// order and opens a checkout session for it. requestedAmount must equal the
// current catalog price.
func (e *Engine) CreateOrder(ctx context.Context, userID, productID int64, requestedAmount decimal.Decimal) (*Checkout, error) {
	if !requestedAmount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}

	product, err := store.GetProduct(ctx, e.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			return nil, apperr.ErrProductUnavailable
		}
		return nil, apperr.Store(err)
	}

	if !product.IsActive {
		return nil, apperr.ErrProductUnavailable
	}
	if product.Stock < 1 {
		return nil, apperr.ErrOutOfStock
	}
	if !requestedAmount.Equal(product.Price) {
		e.logger.Info("order amount mismatch",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", productID),
			zap.String("requested", requestedAmount.String()),
			zap.String("price", product.Price.String()))
		return nil, apperr.ErrInvalidAmount
	}

	order, err := store.CreatePendingOrder(ctx, e.db, userID, productID, newOrderNumber(), product.Price)
	if err != nil {
		return nil, apperr.Store(err)
	}

	session, err := e.provider.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		OrderID:            order.ID,
		UserID:             userID,
		OrderNumber:        order.OrderNumber,
		Amount:             order.Amount,
		ProductName:        product.Name,
		ProductDescription: product.Description,
		ProductImage:       product.Image,
		SuccessURL:         e.appURL + "/orders/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          e.appURL + "/products/" + url.PathEscape(strconv.FormatInt(productID, 10)),
		IdempotencyKey:     order.OrderNumber,
	})
	if err != nil {
		e.logger.Error("checkout session failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		// Without a session no confirmation can ever arrive for this order.
		if _, failErr := store.MarkOrderFailed(ctx, e.db, order.ID); failErr != nil {
			e.logger.Error("mark order failed", zap.Int64("order_id", order.ID), zap.Error(failErr))
		}
		return nil, apperr.Wrap(apperr.ErrPaymentProvider, err)
	}

	if err := store.SetOrderPaymentRef(ctx, e.db, order.ID, session.ID); err != nil {
		return nil, apperr.Store(err)
	}
	order.PaymentRef = &session.ID

	e.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID),
		zap.String("session_id", session.ID))

	return &Checkout{Order: order, SessionID: session.ID, RedirectURL: session.URL}, nil
}

// HandleEvent verifies a raw provider notification and applies it. Unverified
// payloads are rejected before anything is read from the store.
func (e *Engine) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	event, err := e.provider.ParseEvent(payload, signatureHeader)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUntrustedEvent {
			e.logger.Warn("rejected untrusted payment event",
				zap.Bool("security", true),
				zap.Int("payload_bytes", len(payload)),
				zap.Error(err))
		}
		return ResultIgnored, err
	}

	switch event.Type {
	case payment.EventPaymentConfirmed:
		return e.SettleOrder(ctx, event.OrderID, event.UserID, event.ID)
	case payment.EventPaymentExpired:
		return e.ExpireOrder(ctx, event.OrderID, event.ID)
	default:
		e.logger.Debug("ignoring payment event",
			zap.String("event_id", event.ID),
			zap.String("provider_type", event.ProviderType))
		return ResultIgnored, nil
	}
}

// SettleOrder finalizes a pending order after confirmed payment. It is
// idempotent: unknown orders, orders that are already paid or failed, and
// redelivered provider events are acknowledged without side effects.
func (e *Engine) SettleOrder(ctx context.Context, orderID, eventUserID int64, providerEventID string) (Result, error) {
	log := e.logger.With(
		zap.Int64("order_id", orderID),
		zap.String("event_id", providerEventID))

	var result Result
	err := database.WithRetry(ctx, e.db, e.txOpts, func(tx *sql.Tx) error {
		result = ResultIgnored

		order, proceed, err := e.lockForEvent(ctx, tx, log, orderID, providerEventID)
		if err != nil || !proceed {
			return err
		}

		if eventUserID != 0 && eventUserID != order.UserID {
			log.Warn("payment event user does not own order",
				zap.Bool("security", true),
				zap.Int64("event_user_id", eventUserID),
				zap.Int64("order_user_id", order.UserID))
			return nil
		}

		err = inventory.TryDecrementProduct(ctx, tx, order.ProductID, 1)
		if errors.Is(err, database.ErrInsufficientStock) {
			if _, err := store.MarkOrderFailed(ctx, tx, order.ID); err != nil {
				return err
			}
			log.Warn("order paid but product sold out, refund required",
				zap.Int64("product_id", order.ProductID))
			result = ResultFailed
			return nil
		}
		if err != nil {
			return err
		}

		cashback := e.cashbackFor(order.Amount)

		moved, err := store.MarkOrderPaid(ctx, tx, order.ID, cashback)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("order %d left pending state while locked", order.ID)
		}

		if err := store.CreditCashback(ctx, tx, order.UserID, cashback); err != nil {
			return err
		}

		orderID := order.ID
		_, err = store.AppendTransaction(ctx, tx, models.CashbackTransaction{
			UserID:      order.UserID,
			Amount:      cashback,
			Type:        models.TransactionTypeEarned,
			Description: "Cashback from order " + order.OrderNumber,
			OrderID:     &orderID,
		})
		if err != nil {
			return err
		}

		result = ResultSettled
		log.Info("order settled",
			zap.Int64("user_id", order.UserID),
			zap.String("amount", order.Amount.String()),
			zap.String("cashback", cashback.String()))
		return nil
	})
	if err != nil {
		return ResultIgnored, apperr.Store(err)
	}

	return result, nil
}

// ExpireOrder fails a pending order whose checkout session expired or whose
// delayed payment was declined.
func (e *Engine) ExpireOrder(ctx context.Context, orderID int64, providerEventID string) (Result, error) {
	log := e.logger.With(
		zap.Int64("order_id", orderID),
		zap.String("event_id", providerEventID))

	var result Result
	err := database.WithRetry(ctx, e.db, e.txOpts, func(tx *sql.Tx) error {
		result = ResultIgnored

		order, proceed, err := e.lockForEvent(ctx, tx, log, orderID, providerEventID)
		if err != nil || !proceed {
			return err
		}

		if _, err := store.MarkOrderFailed(ctx, tx, order.ID); err != nil {
			return err
		}
		result = ResultFailed
		log.Info("order expired")
		return nil
	})
	if err != nil {
		return ResultIgnored, apperr.Store(err)
	}

	return result, nil
}

// lockForEvent locks the order and records the event id. proceed is false
// when the order is unknown, already terminal, or the event was seen before.
func (e *Engine) lockForEvent(ctx context.Context, tx *sql.Tx, log *zap.Logger, orderID int64, providerEventID string) (*models.Order, bool, error) {
	order, err := store.LockOrder(ctx, tx, orderID)
	if errors.Is(err, database.ErrOrderNotFound) {
		log.Warn("payment event for unknown order")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if providerEventID != "" {
		fresh, err := store.RecordPaymentEvent(ctx, tx, providerEventID, order.ID)
		if err != nil {
			return nil, false, err
		}
		if !fresh {
			log.Info("duplicate payment event")
			return nil, false, nil
		}
	}

	if order.IsTerminal() {
		log.Info("order already finalized", zap.String("status", order.Status))
		return nil, false, nil
	}

	return order, true, nil
}

func (e *Engine) cashbackFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(e.cashbackRate).Round(2)
}

// ReapStalePending fails pending orders created before now-olderThan and
// returns how many it moved. Rows held by an in-flight settlement are skipped.
func (e *Engine) ReapStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	reaped := 0

	for {
		var done bool
		err := database.WithTransaction(ctx, e.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			order, err := store.NextStalePendingOrder(ctx, tx, cutoff)
			if errors.Is(err, database.ErrOrderNotFound) {
				done = true
				return nil
			}
			if err != nil {
				return err
			}

			if _, err := store.MarkOrderFailed(ctx, tx, order.ID); err != nil {
				return err
			}
			e.logger.Info("reaped stale pending order",
				zap.Int64("order_id", order.ID),
				zap.Time("created_at", order.CreatedAt))
			return nil
		})
		if err != nil {
			return reaped, apperr.Store(err)
		}
		if done {
			return reaped, nil
		}
		reaped++
	}
}

// RunReaper calls ReapStalePending every interval until ctx is done.
func (e *Engine) RunReaper(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ReapStalePending(ctx, olderThan)
			if err != nil && ctx.Err() == nil {
				e.logger.Error("reap stale pending orders", zap.Error(err))
				continue
			}
			if n > 0 {
				e.logger.Info("stale pending orders reaped", zap.Int("count", n))
			}
		}
	}
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString())
}
