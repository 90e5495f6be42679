// Package inventory guards stock for products and prizes. Every decrement is
// a single conditional UPDATE, so the stock check and the write cannot be
// separated by a concurrent caller.
package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/cashback-store/internal/database"
)

type Item string

const (
	ItemProduct Item = "products"
	ItemPrize   Item = "prizes"
)

// TryDecrement removes quantity units of the item when at least that many are
// in stock. It returns database.ErrInsufficientStock otherwise, including
// when the row does not exist.
func TryDecrement(ctx context.Context, tx *sql.Tx, item Item, id int64, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("decrement %s %d: quantity must be positive, got %d", item, id, quantity)
	}

	var query string
	switch item {
	case ItemProduct:
		query = `UPDATE products
		         SET stock = stock - $1, updated_at = NOW(), version = version + 1
		         WHERE id = $2 AND stock >= $1`
	case ItemPrize:
		query = `UPDATE prizes
		         SET stock = stock - $1, updated_at = NOW()
		         WHERE id = $2 AND stock >= $1`
	default:
		return fmt.Errorf("decrement: unknown item kind %q", item)
	}

	result, err := tx.ExecContext(ctx, query, quantity, id)
	if err != nil {
		return fmt.Errorf("decrement %s stock: %w", item, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func TryDecrementProduct(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	return TryDecrement(ctx, tx, ItemProduct, productID, quantity)
}

func TryDecrementPrize(ctx context.Context, tx *sql.Tx, prizeID int64, quantity int) error {
	return TryDecrement(ctx, tx, ItemPrize, prizeID, quantity)
}
