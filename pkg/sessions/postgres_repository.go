package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

// PostgresSessionRepository implements SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	db querier
}

// NewPostgresSessionRepository creates a new PostgreSQL session repository
func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: pool}
}

const sessionColumns = `
	id, token, owner_id, device_id, access_token_hash, refresh_token_hash,
	ip_address, user_agent, remembered, created_at, last_activity_at,
	expires_at, max_expires_at, terminated_at, termination_reason`

// CreateSession inserts a new session
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, session Session) (Session, error) {
	query := `
		INSERT INTO sessions (
			id, token, owner_id, device_id, access_token_hash, refresh_token_hash,
			ip_address, user_agent, remembered, created_at, last_activity_at,
			expires_at, max_expires_at, terminated_at, termination_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING` + sessionColumns

	row := r.db.QueryRow(ctx, query,
		session.ID,
		session.Token,
		session.OwnerID,
		session.DeviceID,
		session.AccessTokenHash,
		session.RefreshTokenHash,
		nullableString(session.IPAddress),
		nullableString(session.UserAgent),
		session.Remembered,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
		session.MaxExpiresAt,
		session.TerminatedAt,
		nullableString(string(session.TerminationReason)),
	)

	created, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetSessionByID retrieves a session by ID
func (r *PostgresSessionRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetSessionByToken retrieves a session by its opaque token
func (r *PostgresSessionRepository) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE token = $1`
	return r.getOne(ctx, query, token)
}

func (r *PostgresSessionRepository) getOne(ctx context.Context, query string, arg any) (Session, error) {
	session, err := scanSession(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// FindActiveSessionsByOwner returns the owner's active sessions
func (r *PostgresSessionRepository) FindActiveSessionsByOwner(ctx context.Context, ownerID uuid.UUID, now time.Time) ([]Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE owner_id = $1 AND terminated_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at ASC`
	return r.findMany(ctx, query, ownerID, now)
}

// FindActiveSessionsByDevice returns the device's active sessions
func (r *PostgresSessionRepository) FindActiveSessionsByDevice(ctx context.Context, deviceID uuid.UUID, now time.Time) ([]Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE device_id = $1 AND terminated_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at ASC`
	return r.findMany(ctx, query, deviceID, now)
}

// FindTerminatedBefore returns up to limit sessions terminated before the cutoff
func (r *PostgresSessionRepository) FindTerminatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE terminated_at IS NOT NULL AND terminated_at < $1
		ORDER BY terminated_at ASC
		LIMIT $2`
	return r.findMany(ctx, query, cutoff, limit)
}

func (r *PostgresSessionRepository) findMany(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSession replaces the mutable fields of the session matched by ID
func (r *PostgresSessionRepository) UpdateSession(ctx context.Context, session Session) (Session, error) {
	query := `
		UPDATE sessions SET
			access_token_hash = $2, refresh_token_hash = $3, remembered = $4,
			last_activity_at = $5, expires_at = $6, terminated_at = $7,
			termination_reason = $8
		WHERE id = $1
		RETURNING` + sessionColumns

	row := r.db.QueryRow(ctx, query,
		session.ID,
		session.AccessTokenHash,
		session.RefreshTokenHash,
		session.Remembered,
		session.LastActivityAt,
		session.ExpiresAt,
		session.TerminatedAt,
		nullableString(string(session.TerminationReason)),
	)

	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to update session: %w", err)
	}
	return updated, nil
}

// DeleteSession removes a session by ID
func (r *PostgresSessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction
func (r *PostgresSessionRepository) WithTx(tx interface{}) SessionRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresSessionRepository{db: pgxTx}
	}
	return r
}

func scanSession(row pgx.Row) (Session, error) {
	var session Session
	var ipAddress, userAgent, reason sql.NullString

	err := row.Scan(
		&session.ID,
		&session.Token,
		&session.OwnerID,
		&session.DeviceID,
		&session.AccessTokenHash,
		&session.RefreshTokenHash,
		&ipAddress,
		&userAgent,
		&session.Remembered,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&session.MaxExpiresAt,
		&session.TerminatedAt,
		&reason,
	)
	if err != nil {
		return Session{}, err
	}

	session.IPAddress = ipAddress.String
	session.UserAgent = userAgent.String
	if reason.Valid {
		session.TerminationReason = TerminationReason(reason.String)
	}
	return session, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
