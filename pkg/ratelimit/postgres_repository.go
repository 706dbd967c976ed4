package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresCounterRepository implements CounterRepository using PostgreSQL
type PostgresCounterRepository struct {
	db querier
}

// NewPostgresCounterRepository creates a new PostgreSQL counter repository
func NewPostgresCounterRepository(pool *pgxpool.Pool) *PostgresCounterRepository {
	return &PostgresCounterRepository{db: pool}
}

const counterColumns = `
	identifier, limit_type, attempts, window_start, window_end, max_attempts`

// GetCounter retrieves a counter by identifier and limit type
func (r *PostgresCounterRepository) GetCounter(ctx context.Context, identifier string, limitType LimitType) (Counter, error) {
	query := `SELECT` + counterColumns + `
		FROM rate_limit_counters
		WHERE identifier = $1 AND limit_type = $2`

	var counter Counter
	err := r.db.QueryRow(ctx, query, identifier, limitType).Scan(
		&counter.Identifier,
		&counter.LimitType,
		&counter.Attempts,
		&counter.WindowStart,
		&counter.WindowEnd,
		&counter.MaxAttempts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counter{}, ErrCounterNotFound
		}
		return Counter{}, fmt.Errorf("failed to get rate limit counter: %w", err)
	}
	return counter, nil
}

// UpsertCounter atomically creates or replaces the counter for its key.
// The on-conflict update makes concurrent checks from the same identifier
// converge on the winning row instead of failing.
func (r *PostgresCounterRepository) UpsertCounter(ctx context.Context, counter Counter) (Counter, error) {
	query := `
		INSERT INTO rate_limit_counters (
			identifier, limit_type, attempts, window_start, window_end, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identifier, limit_type) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			max_attempts = EXCLUDED.max_attempts
		RETURNING` + counterColumns

	var updated Counter
	err := r.db.QueryRow(ctx, query,
		counter.Identifier,
		counter.LimitType,
		counter.Attempts,
		counter.WindowStart,
		counter.WindowEnd,
		counter.MaxAttempts,
	).Scan(
		&updated.Identifier,
		&updated.LimitType,
		&updated.Attempts,
		&updated.WindowStart,
		&updated.WindowEnd,
		&updated.MaxAttempts,
	)
	if err != nil {
		return Counter{}, fmt.Errorf("failed to upsert rate limit counter: %w", err)
	}
	return updated, nil
}

// WithTx returns a repository bound to the given pgx transaction
func (r *PostgresCounterRepository) WithTx(tx interface{}) CounterRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresCounterRepository{db: pgxTx}
	}
	return r
}
