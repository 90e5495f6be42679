package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
	BaseBackoff    time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
		BaseBackoff:    50 * time.Millisecond,
	}
}

// LedgerTxOptions is used for every mutation that touches balances or stock.
// Read committed is sufficient because those paths lock rows explicitly and
// use conditional updates; retries cover deadlocks between them.
func LedgerTxOptions() TxOptions {
	opts := DefaultTxOptions()
	opts.MaxRetries = 5
	return opts
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	if err := runTx(ctx, db, opts, fn); err != nil {
		return err.cause
	}
	return nil
}

func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	backoff := opts.BaseBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		txErr := runTx(ctx, db, opts, fn)
		if txErr == nil {
			return nil
		}

		if txErr.fatal || ClassifyError(txErr.cause) == ErrorClassPermanent {
			return txErr.cause
		}

		if attempt == opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, txErr.cause)
		}

		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

type txError struct {
	cause error
	fatal bool
}

func runTx(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) *txError {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return &txError{cause: fmt.Errorf("begin transaction: %w", err), fatal: true}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &txError{cause: fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err), fatal: true}
		}
		return &txError{cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &txError{cause: fmt.Errorf("commit transaction: %w", err)}
	}

	return nil
}

func sleepWithJitter(ctx context.Context, backoff time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(backoff/4) + 1))

	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
