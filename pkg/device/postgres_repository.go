package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier abstracts pgxpool.Pool and pgx.Tx so the repository can be bound
// to a transaction via WithTx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresDeviceRepository implements DeviceRepository using PostgreSQL
type PostgresDeviceRepository struct {
	db querier
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository
func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: pool}
}

const deviceColumns = `
	id, owner_id, fingerprint, secondary_fingerprint, confidence, trusted,
	blocked_at, block_reason, last_seen_at, metadata, created_at, updated_at`

// CreateDevice inserts a new device. A unique violation on the fingerprint
// column is surfaced as ErrDeviceExists so callers can retry the lookup.
func (r *PostgresDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	metadata, err := json.Marshal(device.Metadata)
	if err != nil {
		return Device{}, fmt.Errorf("failed to marshal device metadata: %w", err)
	}

	query := `
		INSERT INTO devices (
			id, owner_id, fingerprint, secondary_fingerprint, confidence, trusted,
			blocked_at, block_reason, last_seen_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING` + deviceColumns

	row := r.db.QueryRow(ctx, query,
		device.ID,
		device.OwnerID,
		device.Fingerprint,
		device.SecondaryFingerprint,
		device.Confidence,
		device.Trusted,
		device.BlockedAt,
		nullableString(string(device.BlockReason)),
		device.LastSeenAt,
		metadata,
	)

	created, err := scanDevice(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Device{}, ErrDeviceExists
		}
		return Device{}, fmt.Errorf("failed to create device: %w", err)
	}
	return created, nil
}

// GetDeviceByID retrieves a device by ID
func (r *PostgresDeviceRepository) GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE id = $1`
	device, err := scanDevice(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// GetDeviceByFingerprint retrieves a device by its primary fingerprint
func (r *PostgresDeviceRepository) GetDeviceByFingerprint(ctx context.Context, fingerprint string) (Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE fingerprint = $1`
	device, err := scanDevice(r.db.QueryRow(ctx, query, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// FindDevicesByOwner returns all devices owned by the given owner
func (r *PostgresDeviceRepository) FindDevicesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE owner_id = $1 ORDER BY last_seen_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// UpdateDevice replaces the mutable fields of the device matched by ID
func (r *PostgresDeviceRepository) UpdateDevice(ctx context.Context, device Device) (Device, error) {
	metadata, err := json.Marshal(device.Metadata)
	if err != nil {
		return Device{}, fmt.Errorf("failed to marshal device metadata: %w", err)
	}

	query := `
		UPDATE devices SET
			owner_id = $2, fingerprint = $3, secondary_fingerprint = $4,
			confidence = $5, trusted = $6, blocked_at = $7, block_reason = $8,
			last_seen_at = $9, metadata = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING` + deviceColumns

	row := r.db.QueryRow(ctx, query,
		device.ID,
		device.OwnerID,
		device.Fingerprint,
		device.SecondaryFingerprint,
		device.Confidence,
		device.Trusted,
		device.BlockedAt,
		nullableString(string(device.BlockReason)),
		device.LastSeenAt,
		metadata,
	)

	updated, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to update device: %w", err)
	}
	return updated, nil
}

// DeleteDevice removes a device by ID
func (r *PostgresDeviceRepository) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction
func (r *PostgresDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresDeviceRepository{db: pgxTx}
	}
	return r
}

func scanDevice(row pgx.Row) (Device, error) {
	var device Device
	var blockReason sql.NullString
	var metadata []byte

	err := row.Scan(
		&device.ID,
		&device.OwnerID,
		&device.Fingerprint,
		&device.SecondaryFingerprint,
		&device.Confidence,
		&device.Trusted,
		&device.BlockedAt,
		&blockReason,
		&device.LastSeenAt,
		&metadata,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return Device{}, err
	}

	if blockReason.Valid {
		device.BlockReason = BlockReason(blockReason.String)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &device.Metadata); err != nil {
			return Device{}, fmt.Errorf("failed to unmarshal device metadata: %w", err)
		}
	}
	return device, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
