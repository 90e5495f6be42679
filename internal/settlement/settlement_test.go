package settlement_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/payment"
	"github.com/safar/cashback-store/internal/payment/paymenttest"
	"github.com/safar/cashback-store/internal/settlement"
	"github.com/safar/cashback-store/internal/store"
	"github.com/safar/cashback-store/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, db *sql.DB) (*settlement.Engine, *paymenttest.Provider) {
	t.Helper()
	provider := paymenttest.New("whsec_test")
	engine := settlement.NewEngine(db, provider, zap.NewNop(), settlement.Config{
		CashbackRate: decimal.RequireFromString("0.05"),
		AppURL:       "http://shop.test/",
	})
	return engine, provider
}

func TestSettlement(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	t.Run("create order stores pending order with session", func(t *testing.T) {
		engine, provider := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "100.00", 3)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(100))
		require.NoError(t, err)

		assert.Equal(t, models.OrderStatusPending, checkout.Order.Status)
		assert.NotEmpty(t, checkout.SessionID)
		assert.Contains(t, checkout.RedirectURL, checkout.SessionID)

		stored, err := store.GetOrder(ctx, db, checkout.Order.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.PaymentRef)
		assert.Equal(t, checkout.SessionID, *stored.PaymentRef)
		assert.True(t, stored.Amount.Equal(product.Price))

		requests := provider.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, checkout.Order.ID, requests[0].OrderID)
		assert.Equal(t, user.ID, requests[0].UserID)
		assert.Equal(t, "http://shop.test/orders/success?session_id={CHECKOUT_SESSION_ID}", requests[0].SuccessURL)
	})

	t.Run("create order rejects price mismatch before persisting", func(t *testing.T) {
		engine, provider := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "100.00", 3)

		_, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.RequireFromString("1.00"))
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		page, err := store.ListOrdersCursor(ctx, db, user.ID, "", 10)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Empty(t, provider.Requests())
	})

	t.Run("create order rejects unavailable products", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		user := testutil.CreateUser(t, db)

		_, err := engine.CreateOrder(ctx, user.ID, 999999, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, apperr.ErrProductUnavailable)

		inactive := testutil.CreateProduct(t, db, "10.00", 5)
		_, err = store.UpdateProduct(ctx, db, inactive.ID, inactive.Version, store.ProductInput{
			Name:     inactive.Name,
			Price:    inactive.Price,
			Stock:    inactive.Stock,
			IsActive: false,
		})
		require.NoError(t, err)
		_, err = engine.CreateOrder(ctx, user.ID, inactive.ID, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, apperr.ErrProductUnavailable)

		soldOut := testutil.CreateProduct(t, db, "10.00", 0)
		_, err = engine.CreateOrder(ctx, user.ID, soldOut.ID, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	})

	t.Run("provider failure fails the order", func(t *testing.T) {
		engine, provider := newEngine(t, db)
		provider.CheckoutErr = errors.New("provider down")
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "20.00", 1)

		_, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(20))
		assert.ErrorIs(t, err, apperr.ErrPaymentProvider)

		page, err := store.ListOrdersCursor(ctx, db, user.ID, "", 10)
		require.NoError(t, err)
		orders := page.Items.([]models.Order)
		require.Len(t, orders, 1)
		assert.Equal(t, models.OrderStatusFailed, orders[0].Status)
	})

	t.Run("settling credits five percent cashback", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "100.00", 3)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(100))
		require.NoError(t, err)

		result, err := engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_settle_1")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultSettled, result)

		order, err := store.GetOrder(ctx, db, checkout.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, order.Status)
		require.NotNil(t, order.CashbackEarned)
		assert.True(t, order.CashbackEarned.Equal(decimal.RequireFromString("5.00")))

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.RequireFromString("5.00")), "cashback %s", after.Cashback)

		txns, err := store.ListTransactions(ctx, db, user.ID, 50)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, models.TransactionTypeEarned, txns[0].Type)
		assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("5.00")))
		require.NotNil(t, txns[0].OrderID)
		assert.Equal(t, order.ID, *txns[0].OrderID)

		productAfter, err := store.GetProduct(ctx, db, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, productAfter.Stock)

		testutil.AssertLedgerBalanced(t, db, user.ID)
	})

	t.Run("duplicate confirmation is applied once", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "40.00", 5)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(40))
		require.NoError(t, err)

		first, err := engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_dup")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultSettled, first)

		again, err := engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_dup")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultIgnored, again)

		// A distinct event id for an already paid order is also a no-op.
		other, err := engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_dup_2")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultIgnored, other)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.RequireFromString("2.00")))

		productAfter, err := store.GetProduct(ctx, db, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, productAfter.Stock)

		txns, err := store.ListTransactions(ctx, db, user.ID, 50)
		require.NoError(t, err)
		assert.Len(t, txns, 1)
		testutil.AssertLedgerBalanced(t, db, user.ID)
	})

	t.Run("concurrent duplicate deliveries settle once", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "60.00", 10)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(60))
		require.NoError(t, err)

		const deliveries = 8
		var wg sync.WaitGroup
		results := make(chan settlement.Result, deliveries)
		for i := 0; i < deliveries; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_concurrent")
				if err != nil {
					t.Errorf("Settle order: %v", err)
					return
				}
				results <- result
			}()
		}
		wg.Wait()
		close(results)

		settled := 0
		for result := range results {
			if result == settlement.ResultSettled {
				settled++
			}
		}
		assert.Equal(t, 1, settled)

		productAfter, err := store.GetProduct(ctx, db, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, productAfter.Stock)
		testutil.AssertLedgerBalanced(t, db, user.ID)
	})

	t.Run("concurrent settlements on last unit pay at most one order", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 1)

		const buyers = 5
		orderIDs := make([]int64, buyers)
		userIDs := make([]int64, buyers)
		for i := 0; i < buyers; i++ {
			user := testutil.CreateUser(t, db)
			checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(10))
			require.NoError(t, err)
			orderIDs[i] = checkout.Order.ID
			userIDs[i] = user.ID
		}

		var wg sync.WaitGroup
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := engine.SettleOrder(ctx, orderIDs[i], userIDs[i], ""); err != nil {
					t.Errorf("Settle order %d: %v", orderIDs[i], err)
				}
			}(i)
		}
		wg.Wait()

		paid, failed := 0, 0
		for i, id := range orderIDs {
			order, err := store.GetOrder(ctx, db, id)
			require.NoError(t, err)
			switch order.Status {
			case models.OrderStatusPaid:
				paid++
			case models.OrderStatusFailed:
				failed++
			}
			testutil.AssertLedgerBalanced(t, db, userIDs[i])
		}
		assert.Equal(t, 1, paid)
		assert.Equal(t, buyers-1, failed)

		productAfter, err := store.GetProduct(ctx, db, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, productAfter.Stock)
	})

	t.Run("event for another user's order is ignored", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		owner := testutil.CreateUser(t, db)
		other := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "30.00", 2)

		checkout, err := engine.CreateOrder(ctx, owner.ID, product.ID, decimal.NewFromInt(30))
		require.NoError(t, err)

		result, err := engine.SettleOrder(ctx, checkout.Order.ID, other.ID, "evt_wrong_user")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultIgnored, result)

		order, err := store.GetOrder(ctx, db, checkout.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)
	})

	t.Run("unknown order is acknowledged", func(t *testing.T) {
		engine, _ := newEngine(t, db)

		result, err := engine.SettleOrder(ctx, 987654321, 1, "evt_unknown")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultIgnored, result)
	})

	t.Run("handle event verifies signature before settling", func(t *testing.T) {
		engine, provider := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "80.00", 2)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(80))
		require.NoError(t, err)

		payload, signature := provider.SignedEvent(paymenttest.EventPayload{
			ID:      "evt_handle",
			Type:    payment.EventPaymentConfirmed,
			OrderID: checkout.Order.ID,
			UserID:  user.ID,
		})

		_, err = engine.HandleEvent(ctx, payload, "forged")
		assert.ErrorIs(t, err, apperr.ErrUntrustedEvent)

		order, err := store.GetOrder(ctx, db, checkout.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)

		result, err := engine.HandleEvent(ctx, payload, signature)
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultSettled, result)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.RequireFromString("4.00")))
	})

	t.Run("expired session fails pending order", func(t *testing.T) {
		engine, provider := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "15.00", 2)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(15))
		require.NoError(t, err)

		payload, signature := provider.SignedEvent(paymenttest.EventPayload{
			ID:      "evt_expired",
			Type:    payment.EventPaymentExpired,
			OrderID: checkout.Order.ID,
			UserID:  user.ID,
		})
		result, err := engine.HandleEvent(ctx, payload, signature)
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultFailed, result)

		// A late confirmation cannot revive a failed order.
		result, err = engine.SettleOrder(ctx, checkout.Order.ID, user.ID, "evt_late")
		require.NoError(t, err)
		assert.Equal(t, settlement.ResultIgnored, result)

		productAfter, err := store.GetProduct(ctx, db, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, productAfter.Stock)
	})

	t.Run("reaper fails stale pending orders", func(t *testing.T) {
		engine, _ := newEngine(t, db)
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "5.00", 5)

		checkout, err := engine.CreateOrder(ctx, user.ID, product.ID, decimal.NewFromInt(5))
		require.NoError(t, err)

		_, err = db.ExecContext(ctx,
			`UPDATE orders SET created_at = NOW() - INTERVAL '2 days' WHERE id = $1`, checkout.Order.ID)
		require.NoError(t, err)

		n, err := engine.ReapStalePending(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		order, err := store.GetOrder(ctx, db, checkout.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusFailed, order.Status)
	})
}
