package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/models"
)

const prizeColumns = `id, name, description, image, points, stock, is_active, created_at, updated_at`

func scanPrize(row rowScanner, prize *models.Prize) error {
	return row.Scan(
		&prize.ID,
		&prize.Name,
		&prize.Description,
		&prize.Image,
		&prize.Points,
		&prize.Stock,
		&prize.IsActive,
		&prize.CreatedAt,
		&prize.UpdatedAt,
	)
}

type PrizeInput struct {
	Name        string
	Description string
	Image       string
	Points      int64
	Stock       int
	IsActive    bool
}

func CreatePrize(ctx context.Context, q Querier, in PrizeInput) (*models.Prize, error) {
	prize := &models.Prize{}

	query := `
		INSERT INTO prizes (name, description, image, points, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + prizeColumns

	row := q.QueryRowContext(ctx, query, in.Name, in.Description, in.Image, in.Points, in.Stock, in.IsActive)
	if err := scanPrize(row, prize); err != nil {
		return nil, fmt.Errorf("create prize: %w", err)
	}

	return prize, nil
}

func GetPrize(ctx context.Context, q Querier, id int64) (*models.Prize, error) {
	prize := &models.Prize{}

	query := `SELECT ` + prizeColumns + ` FROM prizes WHERE id = $1`

	if err := scanPrize(q.QueryRowContext(ctx, query, id), prize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPrizeNotFound
		}
		return nil, fmt.Errorf("get prize: %w", err)
	}

	return prize, nil
}

// ListActivePrizes returns redeemable prizes, cheapest first.
func ListActivePrizes(ctx context.Context, q Querier) ([]models.Prize, error) {
	query := `
		SELECT ` + prizeColumns + `
		FROM prizes
		WHERE is_active
		ORDER BY points ASC, id ASC`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list prizes: %w", err)
	}
	defer rows.Close()

	prizes := []models.Prize{}
	for rows.Next() {
		var prize models.Prize
		if err := scanPrize(rows, &prize); err != nil {
			return nil, fmt.Errorf("scan prize: %w", err)
		}
		prizes = append(prizes, prize)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return prizes, nil
}

func CreateClaim(ctx context.Context, tx *sql.Tx, userID, prizeID int64) (*models.PrizeClaim, error) {
	claim := &models.PrizeClaim{}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO prize_claims (user_id, prize_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING id, user_id, prize_id, status, created_at, updated_at`,
		userID, prizeID, models.ClaimStatusPending).Scan(
		&claim.ID,
		&claim.UserID,
		&claim.PrizeID,
		&claim.Status,
		&claim.CreatedAt,
		&claim.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create prize claim: %w", err)
	}

	return claim, nil
}

func ListClaims(ctx context.Context, q Querier, userID int64) ([]models.PrizeClaim, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, prize_id, status, created_at, updated_at
		 FROM prize_claims
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list prize claims: %w", err)
	}
	defer rows.Close()

	claims := []models.PrizeClaim{}
	for rows.Next() {
		var claim models.PrizeClaim
		err := rows.Scan(
			&claim.ID,
			&claim.UserID,
			&claim.PrizeID,
			&claim.Status,
			&claim.CreatedAt,
			&claim.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prize claim: %w", err)
		}
		claims = append(claims, claim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return claims, nil
}
