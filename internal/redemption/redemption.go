// Package redemption spends cashback on prizes.
package redemption

import (
	"context"
	"database/sql"
	"errors"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/inventory"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine struct {
	db     *sql.DB
	logger *zap.Logger
	txOpts database.TxOptions
}

func NewEngine(db *sql.DB, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		logger: logger.Named("redemption"),
		txOpts: database.LedgerTxOptions(),
	}
}

// Receipt describes an accepted claim.
type Receipt struct {
	Claim       *models.PrizeClaim          `json:"claim"`
	Transaction *models.CashbackTransaction `json:"transaction"`
	Balance     decimal.Decimal             `json:"balance"`
}

// ClaimPrize debits prize.Points from the user's cashback and reserves one
// unit of the prize. The claim row, debit, ledger entry and stock decrement
// commit together; any validation failure leaves everything unchanged.
func (e *Engine) ClaimPrize(ctx context.Context, userID, prizeID int64) (*Receipt, error) {
	var receipt *Receipt

	err := database.WithRetry(ctx, e.db, e.txOpts, func(tx *sql.Tx) error {
		user, err := store.LockUser(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				return apperr.ErrUserNotFound
			}
			return err
		}

		prize, err := store.GetPrize(ctx, tx, prizeID)
		if err != nil {
			if errors.Is(err, database.ErrPrizeNotFound) {
				return apperr.ErrPrizeUnavailable
			}
			return err
		}

		if !prize.IsActive {
			return apperr.ErrPrizeUnavailable
		}
		if prize.Stock < 1 {
			return apperr.ErrOutOfStock
		}

		cost := decimal.NewFromInt(prize.Points)
		if user.Cashback.LessThan(cost) {
			return apperr.ErrInsufficientBalance
		}

		if err := inventory.TryDecrementPrize(ctx, tx, prize.ID, 1); err != nil {
			if errors.Is(err, database.ErrInsufficientStock) {
				return apperr.ErrOutOfStock
			}
			return err
		}

		if err := store.DebitCashback(ctx, tx, user.ID, cost); err != nil {
			if errors.Is(err, database.ErrInsufficientFunds) {
				return apperr.ErrInsufficientBalance
			}
			return err
		}

		claim, err := store.CreateClaim(ctx, tx, user.ID, prize.ID)
		if err != nil {
			return err
		}

		txn, err := store.AppendTransaction(ctx, tx, models.CashbackTransaction{
			UserID:      user.ID,
			Amount:      cost.Neg(),
			Type:        models.TransactionTypeSpent,
			Description: "Claimed prize: " + prize.Name,
		})
		if err != nil {
			return err
		}

		receipt = &Receipt{
			Claim:       claim,
			Transaction: txn,
			Balance:     user.Cashback.Sub(cost),
		}
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			e.logger.Info("prize claim rejected",
				zap.Int64("user_id", userID),
				zap.Int64("prize_id", prizeID),
				zap.String("reason", appErr.Message))
			return nil, err
		}
		return nil, apperr.Store(err)
	}

	e.logger.Info("prize claimed",
		zap.Int64("user_id", userID),
		zap.Int64("prize_id", prizeID),
		zap.Int64("claim_id", receipt.Claim.ID),
		zap.String("balance", receipt.Balance.String()))

	return receipt, nil
}
