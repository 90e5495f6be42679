package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
)

var seq atomic.Int64

func CreateUser(t *testing.T, db *sql.DB) *models.User {
	t.Helper()

	n := seq.Add(1)
	user, err := store.CreateUser(context.Background(), db,
		fmt.Sprintf("user%d@example.com", n), fmt.Sprintf("User %d", n), "hash", false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func CreateProduct(t *testing.T, db *sql.DB, price string, stock int) *models.Product {
	t.Helper()

	n := seq.Add(1)
	product, err := store.CreateProduct(context.Background(), db, store.ProductInput{
		Name:        fmt.Sprintf("Product %d", n),
		Description: "Test",
		Image:       "product.png",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func CreatePrize(t *testing.T, db *sql.DB, points int64, stock int) *models.Prize {
	t.Helper()

	n := seq.Add(1)
	prize, err := store.CreatePrize(context.Background(), db, store.PrizeInput{
		Name:        fmt.Sprintf("Prize %d", n),
		Description: "Test",
		Points:      points,
		Stock:       stock,
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("Create prize: %v", err)
	}
	return prize
}

// FundUser credits amount to the user together with a matching earned
// ledger entry, keeping balance and ledger in agreement.
func FundUser(t *testing.T, db *sql.DB, userID int64, amount string) {
	t.Helper()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	value := decimal.RequireFromString(amount)
	if err := store.CreditCashback(ctx, tx, userID, value); err != nil {
		t.Fatalf("Credit cashback: %v", err)
	}
	_, err = store.AppendTransaction(ctx, tx, models.CashbackTransaction{
		UserID:      userID,
		Amount:      value,
		Type:        models.TransactionTypeEarned,
		Description: "test funding",
	})
	if err != nil {
		t.Fatalf("Append transaction: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// AssertLedgerBalanced fails the test when the user's balance differs from
// the sum of their ledger entries.
func AssertLedgerBalanced(t *testing.T, db *sql.DB, userID int64) {
	t.Helper()

	ctx := context.Background()
	user, err := store.GetUser(ctx, db, userID)
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	sum, err := store.SumTransactions(ctx, db, userID)
	if err != nil {
		t.Fatalf("Sum transactions: %v", err)
	}
	if !sum.Equal(user.Cashback) {
		t.Errorf("Ledger out of balance for user %d: balance %s, transactions sum %s", userID, user.Cashback, sum)
	}
}
