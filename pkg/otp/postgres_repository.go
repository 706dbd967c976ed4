package otp

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSecretRepository implements SecretRepository using PostgreSQL
type PostgresSecretRepository struct {
	db *pgxpool.Pool
}

// NewPostgresSecretRepository creates a new PostgreSQL secret repository
func NewPostgresSecretRepository(pool *pgxpool.Pool) *PostgresSecretRepository {
	return &PostgresSecretRepository{db: pool}
}

// GetSecret retrieves the secret for an identifier
func (r *PostgresSecretRepository) GetSecret(ctx context.Context, identifier string) (Secret, error) {
	query := `SELECT identifier, secret, created_at FROM otp_secrets WHERE identifier = $1`

	var secret Secret
	err := r.db.QueryRow(ctx, query, identifier).Scan(&secret.Identifier, &secret.Secret, &secret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Secret{}, ErrSecretNotFound
		}
		return Secret{}, fmt.Errorf("failed to get otp secret: %w", err)
	}
	return secret, nil
}

// CreateSecret stores the secret for an identifier. A concurrent insert for
// the same identifier wins; the stored row is returned either way.
func (r *PostgresSecretRepository) CreateSecret(ctx context.Context, secret Secret) (Secret, error) {
	query := `
		INSERT INTO otp_secrets (identifier, secret, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identifier) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, secret.Identifier, secret.Secret); err != nil {
		return Secret{}, fmt.Errorf("failed to create otp secret: %w", err)
	}
	return r.GetSecret(ctx, secret.Identifier)
}
