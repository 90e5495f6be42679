package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/store"
	"github.com/safar/cashback-store/internal/testutil"
	"github.com/shopspring/decimal"
)

func TestStore(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	t.Run("duplicate email is rejected", func(t *testing.T) {
		user := testutil.CreateUser(t, db)

		_, err := store.CreateUser(ctx, db, user.Email, "Other", "hash", false)
		if !errors.Is(err, database.ErrEmailTaken) {
			t.Errorf("Expected ErrEmailTaken, got: %v", err)
		}
	})

	t.Run("optimistic product update", func(t *testing.T) {
		product := testutil.CreateProduct(t, db, "10.00", 5)

		in := store.ProductInput{
			Name:     product.Name,
			Price:    decimal.RequireFromString("12.50"),
			Stock:    7,
			IsActive: true,
		}

		updated, err := store.UpdateProduct(ctx, db, product.ID, product.Version, in)
		if err != nil {
			t.Fatalf("First update should succeed: %v", err)
		}
		if updated.Version != product.Version+1 {
			t.Errorf("Expected version %d, got %d", product.Version+1, updated.Version)
		}

		_, err = store.UpdateProduct(ctx, db, product.ID, product.Version, in)
		if !errors.Is(err, database.ErrOptimisticLockFailed) {
			t.Errorf("Expected optimistic lock failure, got: %v", err)
		}

		_, err = store.UpdateProduct(ctx, db, 999999, 1, in)
		if !errors.Is(err, database.ErrProductNotFound) {
			t.Errorf("Expected product not found, got: %v", err)
		}
	})

	t.Run("debit never drives balance negative", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		testutil.FundUser(t, db, user.ID, "3.00")

		err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			return store.DebitCashback(ctx, tx, user.ID, decimal.RequireFromString("3.01"))
		})
		if !errors.Is(err, database.ErrInsufficientFunds) {
			t.Errorf("Expected ErrInsufficientFunds, got: %v", err)
		}

		err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			return store.DebitCashback(ctx, tx, user.ID, decimal.RequireFromString("3.00"))
		})
		if err != nil {
			t.Fatalf("Exact debit should succeed: %v", err)
		}

		after, err := store.GetUser(ctx, db, user.ID)
		if err != nil {
			t.Fatalf("Get user: %v", err)
		}
		if !after.Cashback.IsZero() {
			t.Errorf("Expected zero balance, got %s", after.Cashback)
		}
	})

	t.Run("payment events are recorded once", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 1)
		order, err := store.CreatePendingOrder(ctx, db, user.ID, product.ID, "ORD-EVT-1", product.Price)
		if err != nil {
			t.Fatalf("Create order: %v", err)
		}

		var first, second bool
		err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			var err error
			if first, err = store.RecordPaymentEvent(ctx, tx, "evt_store_1", order.ID); err != nil {
				return err
			}
			second, err = store.RecordPaymentEvent(ctx, tx, "evt_store_1", order.ID)
			return err
		})
		if err != nil {
			t.Fatalf("Record events: %v", err)
		}
		if !first || second {
			t.Errorf("Expected first=true second=false, got first=%v second=%v", first, second)
		}
	})

	t.Run("one earned entry per order", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 1)
		order, err := store.CreatePendingOrder(ctx, db, user.ID, product.ID, "ORD-EARN-1", product.Price)
		if err != nil {
			t.Fatalf("Create order: %v", err)
		}

		entry := models.CashbackTransaction{
			UserID:      user.ID,
			Amount:      decimal.RequireFromString("0.50"),
			Type:        models.TransactionTypeEarned,
			Description: "test",
			OrderID:     &order.ID,
		}

		for i, wantErr := range []bool{false, true} {
			err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				_, err := store.AppendTransaction(ctx, tx, entry)
				return err
			})
			if (err != nil) != wantErr {
				t.Errorf("Append %d: wantErr=%v, got %v", i, wantErr, err)
			}
			if err != nil && !database.IsUniqueViolation(err, "cashback_transactions_earned_order_key") {
				t.Errorf("Expected unique violation, got: %v", err)
			}
		}
	})

	t.Run("order transitions only leave pending", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 1)
		order, err := store.CreatePendingOrder(ctx, db, user.ID, product.ID, "ORD-TRANS-1", product.Price)
		if err != nil {
			t.Fatalf("Create order: %v", err)
		}

		moved, err := store.MarkOrderFailed(ctx, db, order.ID)
		if err != nil || !moved {
			t.Fatalf("Expected pending order to fail, moved=%v err=%v", moved, err)
		}

		moved, err = store.MarkOrderFailed(ctx, db, order.ID)
		if err != nil || moved {
			t.Errorf("Expected failed order to stay put, moved=%v err=%v", moved, err)
		}

		err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			moved, err = store.MarkOrderPaid(ctx, tx, order.ID, decimal.RequireFromString("0.50"))
			return err
		})
		if err != nil || moved {
			t.Errorf("Expected failed order not to be paid, moved=%v err=%v", moved, err)
		}
	})

	t.Run("cursor pagination", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 10)

		for i := 0; i < 5; i++ {
			_, err := store.CreatePendingOrder(ctx, db, user.ID, product.ID, fmt.Sprintf("ORD-PAGE-%d", i), product.Price)
			if err != nil {
				t.Fatalf("Create order %d: %v", i, err)
			}
		}

		seen := map[int64]bool{}
		cursor := ""
		pages := 0
		for {
			page, err := store.ListOrdersCursor(ctx, db, user.ID, cursor, 2)
			if err != nil {
				t.Fatalf("List orders: %v", err)
			}
			pages++
			for _, o := range page.Items.([]models.Order) {
				if seen[o.ID] {
					t.Errorf("Order %d returned twice", o.ID)
				}
				seen[o.ID] = true
			}
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}

		if len(seen) != 5 || pages != 3 {
			t.Errorf("Expected 5 orders over 3 pages, got %d over %d", len(seen), pages)
		}

		_, err := store.ListOrdersCursor(ctx, db, user.ID, "not*base64", 2)
		if !errors.Is(err, store.ErrInvalidCursor) {
			t.Errorf("Expected ErrInvalidCursor, got: %v", err)
		}
	})

	t.Run("inactive products are hidden from the catalog", func(t *testing.T) {
		before, err := store.ListProducts(ctx, db, true, 1, store.MaxPageSize)
		if err != nil {
			t.Fatalf("List products: %v", err)
		}

		_, err = store.CreateProduct(ctx, db, store.ProductInput{
			Name:  "Hidden",
			Price: decimal.RequireFromString("1.00"),
		})
		if err != nil {
			t.Fatalf("Create product: %v", err)
		}

		after, err := store.ListProducts(ctx, db, true, 1, store.MaxPageSize)
		if err != nil {
			t.Fatalf("List products: %v", err)
		}
		if after.Total != before.Total {
			t.Errorf("Expected %d active products, got %d", before.Total, after.Total)
		}

		all, err := store.ListProducts(ctx, db, false, 1, store.MaxPageSize)
		if err != nil {
			t.Fatalf("List products: %v", err)
		}
		if all.Total != after.Total+1 {
			t.Errorf("Expected inactive product in full listing")
		}
	})

	t.Run("admin user listing counts orders", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		product := testutil.CreateProduct(t, db, "10.00", 10)
		for i := 0; i < 2; i++ {
			if _, err := store.CreatePendingOrder(ctx, db, user.ID, product.ID, fmt.Sprintf("ORD-COUNT-%d", i), product.Price); err != nil {
				t.Fatalf("Create order: %v", err)
			}
		}

		page, err := store.ListUsers(ctx, db, 1, store.MaxPageSize)
		if err != nil {
			t.Fatalf("List users: %v", err)
		}

		found := false
		for _, u := range page.Items.([]models.UserSummary) {
			if u.ID == user.ID {
				found = true
				if u.OrderCount != 2 {
					t.Errorf("Expected 2 orders, got %d", u.OrderCount)
				}
				if u.PasswordHash == "" {
					t.Errorf("Expected password hash to be scanned")
				}
			}
		}
		if !found {
			t.Errorf("User %d missing from listing", user.ID)
		}
	})
}
