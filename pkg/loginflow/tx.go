package loginflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs a function inside one storage transaction. The opaque tx
// value is handed to each repository's WithTx so the whole login sequence
// commits or rolls back as a unit.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx interface{}) error) error
}

// PgxTxRunner runs transactions on a pgx connection pool.
type PgxTxRunner struct {
	pool *pgxpool.Pool
}

// NewPgxTxRunner creates a transaction runner over the given pool
func NewPgxTxRunner(pool *pgxpool.Pool) *PgxTxRunner {
	return &PgxTxRunner{pool: pool}
}

func (r *PgxTxRunner) RunInTx(ctx context.Context, fn func(tx interface{}) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// NoopTxRunner runs the function without a transaction. Used with in-memory
// repositories, which ignore WithTx.
type NoopTxRunner struct{}

func (NoopTxRunner) RunInTx(ctx context.Context, fn func(tx interface{}) error) error {
	return fn(nil)
}
