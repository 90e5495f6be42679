package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/cashback-store/internal/models"
	"github.com/shopspring/decimal"
)

// AppendTransaction writes one ledger entry. The ledger is append-only.
func AppendTransaction(ctx context.Context, tx *sql.Tx, entry models.CashbackTransaction) (*models.CashbackTransaction, error) {
	created := entry

	var orderID sql.NullInt64
	if entry.OrderID != nil {
		orderID = sql.NullInt64{Int64: *entry.OrderID, Valid: true}
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO cashback_transactions (user_id, amount, type, description, order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		entry.UserID, entry.Amount, entry.Type, entry.Description, orderID).Scan(
		&created.ID,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append cashback transaction: %w", err)
	}

	return &created, nil
}

func ListTransactions(ctx context.Context, q Querier, userID int64, limit int) ([]models.CashbackTransaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, amount, type, description, order_id, created_at
		 FROM cashback_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cashback transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.CashbackTransaction{}
	for rows.Next() {
		var txn models.CashbackTransaction
		var orderID sql.NullInt64
		err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Amount,
			&txn.Type,
			&txn.Description,
			&orderID,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cashback transaction: %w", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			txn.OrderID = &id
		}
		transactions = append(transactions, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return transactions, nil
}

// SumTransactions returns the ledger total for a user, which must always equal
// users.cashback.
func SumTransactions(ctx context.Context, q Querier, userID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM cashback_transactions WHERE user_id = $1`,
		userID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum cashback transactions: %w", err)
	}
	return sum, nil
}

// RecordPaymentEvent stores a provider event id. It returns false when the id
// was already recorded, which marks a redelivery.
func RecordPaymentEvent(ctx context.Context, tx *sql.Tx, providerEventID string, orderID int64) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (provider_event_id, order_id, received_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID, orderID)
	if err != nil {
		return false, fmt.Errorf("record payment event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}
