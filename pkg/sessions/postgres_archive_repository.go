package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchiveRepository implements ArchiveRepository using PostgreSQL
type PostgresArchiveRepository struct {
	db querier
}

// NewPostgresArchiveRepository creates a new PostgreSQL archive repository
func NewPostgresArchiveRepository(pool *pgxpool.Pool) *PostgresArchiveRepository {
	return &PostgresArchiveRepository{db: pool}
}

const archiveColumns = `
	id, session_id, token, owner_id, device_id, access_token_hash,
	refresh_token_hash, ip_address, user_agent, remembered, created_at,
	last_activity_at, expires_at, max_expires_at, terminated_at,
	termination_reason, archived_at, retention_days, retention_expires_at`

// CreateArchive inserts an archive row
func (r *PostgresArchiveRepository) CreateArchive(ctx context.Context, archive SessionArchive) (SessionArchive, error) {
	query := `
		INSERT INTO session_archives (
			id, session_id, token, owner_id, device_id, access_token_hash,
			refresh_token_hash, ip_address, user_agent, remembered, created_at,
			last_activity_at, expires_at, max_expires_at, terminated_at,
			termination_reason, archived_at, retention_days, retention_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19)
		RETURNING` + archiveColumns

	row := r.db.QueryRow(ctx, query,
		archive.ID,
		archive.SessionID,
		archive.Token,
		archive.OwnerID,
		archive.DeviceID,
		archive.AccessTokenHash,
		archive.RefreshTokenHash,
		nullableString(archive.IPAddress),
		nullableString(archive.UserAgent),
		archive.Remembered,
		archive.CreatedAt,
		archive.LastActivityAt,
		archive.ExpiresAt,
		archive.MaxExpiresAt,
		archive.TerminatedAt,
		nullableString(string(archive.TerminationReason)),
		archive.ArchivedAt,
		archive.RetentionDays,
		archive.RetentionExpiresAt,
	)

	created, err := scanArchive(row)
	if err != nil {
		return SessionArchive{}, fmt.Errorf("failed to create session archive: %w", err)
	}
	return created, nil
}

// GetArchiveBySessionID retrieves the archive of the given original session
func (r *PostgresArchiveRepository) GetArchiveBySessionID(ctx context.Context, sessionID uuid.UUID) (SessionArchive, error) {
	query := `SELECT` + archiveColumns + ` FROM session_archives WHERE session_id = $1`
	archive, err := scanArchive(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionArchive{}, ErrArchiveNotFound
		}
		return SessionArchive{}, fmt.Errorf("failed to get session archive: %w", err)
	}
	return archive, nil
}

// DeleteExpired removes archives past their retention window
func (r *PostgresArchiveRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM session_archives WHERE retention_expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired archives: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanArchive(row pgx.Row) (SessionArchive, error) {
	var archive SessionArchive
	var ipAddress, userAgent, reason sql.NullString

	err := row.Scan(
		&archive.ID,
		&archive.SessionID,
		&archive.Token,
		&archive.OwnerID,
		&archive.DeviceID,
		&archive.AccessTokenHash,
		&archive.RefreshTokenHash,
		&ipAddress,
		&userAgent,
		&archive.Remembered,
		&archive.CreatedAt,
		&archive.LastActivityAt,
		&archive.ExpiresAt,
		&archive.MaxExpiresAt,
		&archive.TerminatedAt,
		&reason,
		&archive.ArchivedAt,
		&archive.RetentionDays,
		&archive.RetentionExpiresAt,
	)
	if err != nil {
		return SessionArchive{}, err
	}

	archive.IPAddress = ipAddress.String
	archive.UserAgent = userAgent.String
	if reason.Valid {
		archive.TerminationReason = TerminationReason(reason.String)
	}
	return archive, nil
}
