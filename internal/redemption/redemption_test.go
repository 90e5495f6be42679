package redemption_test

import (
	"context"
	"sync"
	"testing"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/redemption"
	"github.com/safar/cashback-store/internal/store"
	"github.com/safar/cashback-store/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClaimPrize(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	engine := redemption.NewEngine(db, zap.NewNop())

	t.Run("exact balance claim leaves zero", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		testutil.FundUser(t, db, user.ID, "100")
		prize := testutil.CreatePrize(t, db, 100, 3)

		receipt, err := engine.ClaimPrize(ctx, user.ID, prize.ID)
		require.NoError(t, err)

		assert.Equal(t, models.ClaimStatusPending, receipt.Claim.Status)
		assert.True(t, receipt.Balance.IsZero())
		assert.Equal(t, models.TransactionTypeSpent, receipt.Transaction.Type)
		assert.True(t, receipt.Transaction.Amount.Equal(decimal.NewFromInt(-100)))
		assert.Contains(t, receipt.Transaction.Description, prize.Name)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.IsZero(), "balance %s", after.Cashback)

		prizeAfter, err := store.GetPrize(ctx, db, prize.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, prizeAfter.Stock)

		claims, err := store.ListClaims(ctx, db, user.ID)
		require.NoError(t, err)
		assert.Len(t, claims, 1)

		testutil.AssertLedgerBalanced(t, db, user.ID)
	})

	t.Run("insufficient balance changes nothing", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		testutil.FundUser(t, db, user.ID, "50")
		prize := testutil.CreatePrize(t, db, 100, 3)

		_, err := engine.ClaimPrize(ctx, user.ID, prize.ID)
		assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.NewFromInt(50)))

		prizeAfter, err := store.GetPrize(ctx, db, prize.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, prizeAfter.Stock)

		txns, err := store.ListTransactions(ctx, db, user.ID, 50)
		require.NoError(t, err)
		assert.Len(t, txns, 1)

		claims, err := store.ListClaims(ctx, db, user.ID)
		require.NoError(t, err)
		assert.Empty(t, claims)
	})

	t.Run("unavailable and sold out prizes", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		testutil.FundUser(t, db, user.ID, "500")

		_, err := engine.ClaimPrize(ctx, user.ID, 999999)
		assert.ErrorIs(t, err, apperr.ErrPrizeUnavailable)

		inactive, err := store.CreatePrize(ctx, db, store.PrizeInput{Name: "Retired", Points: 10, Stock: 5, IsActive: false})
		require.NoError(t, err)
		_, err = engine.ClaimPrize(ctx, user.ID, inactive.ID)
		assert.ErrorIs(t, err, apperr.ErrPrizeUnavailable)

		soldOut := testutil.CreatePrize(t, db, 10, 0)
		_, err = engine.ClaimPrize(ctx, user.ID, soldOut.ID)
		assert.ErrorIs(t, err, apperr.ErrOutOfStock)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.NewFromInt(500)))
	})

	t.Run("concurrent claims cannot overspend one balance", func(t *testing.T) {
		user := testutil.CreateUser(t, db)
		testutil.FundUser(t, db, user.ID, "150")
		prize := testutil.CreatePrize(t, db, 100, 10)

		const attempts = 6
		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.ClaimPrize(ctx, user.ID, prize.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded, rejected := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				succeeded++
			case apperr.KindOf(err) == apperr.KindConflict:
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, attempts-1, rejected)

		after, err := store.GetUser(ctx, db, user.ID)
		require.NoError(t, err)
		assert.True(t, after.Cashback.Equal(decimal.NewFromInt(50)))
		testutil.AssertLedgerBalanced(t, db, user.ID)
	})

	t.Run("concurrent claims cannot oversell a prize", func(t *testing.T) {
		prize := testutil.CreatePrize(t, db, 10, 2)

		const claimants = 5
		userIDs := make([]int64, claimants)
		for i := range userIDs {
			user := testutil.CreateUser(t, db)
			testutil.FundUser(t, db, user.ID, "10")
			userIDs[i] = user.ID
		}

		var wg sync.WaitGroup
		errs := make(chan error, claimants)
		for _, userID := range userIDs {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				_, err := engine.ClaimPrize(ctx, userID, prize.ID)
				errs <- err
			}(userID)
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, apperr.ErrOutOfStock)
		}
		assert.Equal(t, 2, succeeded)

		prizeAfter, err := store.GetPrize(ctx, db, prize.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, prizeAfter.Stock)

		for _, userID := range userIDs {
			testutil.AssertLedgerBalanced(t, db, userID)
		}
	})
}
