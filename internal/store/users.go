package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/models"
	"github.com/shopspring/decimal"
)

const userColumns = `id, email, name, password_hash, is_admin, cashback, created_at, updated_at, version`

func scanUser(row rowScanner, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.Cashback,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
}

func CreateUser(ctx context.Context, q Querier, email, name, passwordHash string, isAdmin bool) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, password_hash, is_admin, cashback, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	err := scanUser(q.QueryRowContext(ctx, query, email, name, passwordHash, isAdmin), user)
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q Querier, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	if err := scanUser(q.QueryRowContext(ctx, query, id), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	if err := scanUser(q.QueryRowContext(ctx, query, email), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

func UpdateUserName(ctx context.Context, q Querier, id int64, name string) (*models.User, error) {
	user := &models.User{}

	query := `
		UPDATE users
		SET name = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2
		RETURNING ` + userColumns

	if err := scanUser(q.QueryRowContext(ctx, query, name, id), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user name: %w", err)
	}

	return user, nil
}

// LockUser loads the user row FOR UPDATE so concurrent balance changes for
// the same user serialize on it.
func LockUser(ctx context.Context, tx *sql.Tx, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

	if err := scanUser(tx.QueryRowContext(ctx, query, id), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	return user, nil
}

func CreditCashback(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET cashback = cashback + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("credit cashback: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

// DebitCashback subtracts amount only if the balance covers it.
func DebitCashback(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET cashback = cashback - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND cashback >= $1`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("debit cashback: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientFunds
	}

	return nil
}

func ListUsers(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	query := `
		SELECT u.id, u.email, u.name, u.password_hash, u.is_admin, u.cashback,
		       u.created_at, u.updated_at, u.version,
		       (SELECT COUNT(*) FROM orders o WHERE o.user_id = u.id)
		FROM users u
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.UserSummary{}
	for rows.Next() {
		var summary models.UserSummary
		err := rows.Scan(
			&summary.ID,
			&summary.Email,
			&summary.Name,
			&summary.PasswordHash,
			&summary.IsAdmin,
			&summary.Cashback,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.Version,
			&summary.OrderCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}
