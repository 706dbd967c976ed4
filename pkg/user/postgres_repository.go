package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db querier
}

// NewPostgresUserRepository creates a new PostgreSQL user repository
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{db: pool}
}

const userColumns = `id, identifier, name, created_at, updated_at`

// CreateUser inserts a new user
func (r *PostgresUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	query := `
		INSERT INTO users (id, identifier, name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRow(ctx, query, user.ID, user.Identifier, user.Name))
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// GetUserByID retrieves a user by ID
func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindUserByIdentifier retrieves a user by phone number or email
func (r *PostgresUserRepository) FindUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identifier = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// WithTx returns a repository bound to the given pgx transaction
func (r *PostgresUserRepository) WithTx(tx interface{}) UserRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresUserRepository{db: pgxTx}
	}
	return r
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Identifier, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
