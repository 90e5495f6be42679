package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, product_id, order_number, status, amount, cashback_earned, payment_ref, created_at, updated_at, version`

func scanOrder(row rowScanner, order *models.Order) error {
	var cashback decimal.NullDecimal
	var paymentRef sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ProductID,
		&order.OrderNumber,
		&order.Status,
		&order.Amount,
		&cashback,
		&paymentRef,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return err
	}

	order.CashbackEarned = nil
	if cashback.Valid {
		order.CashbackEarned = &cashback.Decimal
	}
	order.PaymentRef = nil
	if paymentRef.Valid {
		order.PaymentRef = &paymentRef.String
	}
	return nil
}

func CreatePendingOrder(ctx context.Context, q Querier, userID, productID int64, orderNumber string, amount decimal.Decimal) (*models.Order, error) {
	order := &models.Order{}

	query := `
		INSERT INTO orders (user_id, product_id, order_number, status, amount, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	row := q.QueryRowContext(ctx, query, userID, productID, orderNumber, models.OrderStatusPending, amount)
	if err := scanOrder(row, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

func SetOrderPaymentRef(ctx context.Context, q Querier, id int64, ref string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET payment_ref = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2`,
		ref, id)
	if err != nil {
		return fmt.Errorf("set order payment ref: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func GetOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	if err := scanOrder(q.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

// LockOrder loads the order FOR UPDATE. Concurrent settlements of the same
// order queue behind this lock and then observe the terminal status.
func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	if err := scanOrder(tx.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

// MarkOrderPaid moves a pending order to paid. It returns false without error
// when the order was no longer pending.
func MarkOrderPaid(ctx context.Context, tx *sql.Tx, id int64, cashbackEarned decimal.Decimal) (bool, error) {
	return transitionOrder(ctx, tx, id, models.OrderStatusPaid, decimal.NullDecimal{Decimal: cashbackEarned, Valid: true})
}

// MarkOrderFailed moves a pending order to failed. It returns false without
// error when the order was no longer pending.
func MarkOrderFailed(ctx context.Context, q Querier, id int64) (bool, error) {
	return transitionOrder(ctx, q, id, models.OrderStatusFailed, decimal.NullDecimal{})
}

func transitionOrder(ctx context.Context, q Querier, id int64, status string, cashback decimal.NullDecimal) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     cashback_earned = COALESCE($2, cashback_earned),
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $3
		   AND status = $4`,
		status, cashback, id, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order %s: %w", status, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(Cursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// NextStalePendingOrder claims the oldest pending order created before
// cutoff, skipping rows another worker or settlement already holds.
func NextStalePendingOrder(ctx context.Context, tx *sql.Tx, cutoff time.Time) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		  AND created_at < $2
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	if err := scanOrder(tx.QueryRowContext(ctx, query, models.OrderStatusPending, cutoff), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next stale pending order: %w", err)
	}

	return order, nil
}
