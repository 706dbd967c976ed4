package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/veridian-id/trustcore/pkg/config"
)

// Retention in days per termination reason. Sessions archived with an
// unlisted reason fall back to the default.
var retentionDays = map[TerminationReason]int{
	TerminationLogout:        365,
	TerminationTimeout:       730,
	TerminationRevoked:       1825,
	TerminationDeviceRemoved: 1095,
	TerminationSessionLimit:  365,
}

const defaultRetentionDays = 2555

// RetentionDaysFor returns the retention period for a termination reason.
func RetentionDaysFor(reason TerminationReason) int {
	if days, ok := retentionDays[reason]; ok {
		return days
	}
	return defaultRetentionDays
}

// SessionArchive is an immutable copy of a terminated session plus its
// retention bookkeeping.
type SessionArchive struct {
	ID                 uuid.UUID         `json:"id"`
	SessionID          uuid.UUID         `json:"session_id"`
	Token              string            `json:"token"`
	OwnerID            uuid.UUID         `json:"owner_id"`
	DeviceID           *uuid.UUID        `json:"device_id,omitempty"`
	AccessTokenHash    string            `json:"access_token_hash,omitempty"`
	RefreshTokenHash   string            `json:"refresh_token_hash,omitempty"`
	IPAddress          string            `json:"ip_address,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty"`
	Remembered         bool              `json:"remembered"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActivityAt     time.Time         `json:"last_activity_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	MaxExpiresAt       time.Time         `json:"max_expires_at"`
	TerminatedAt       *time.Time        `json:"terminated_at,omitempty"`
	TerminationReason  TerminationReason `json:"termination_reason,omitempty"`
	ArchivedAt         time.Time         `json:"archived_at"`
	RetentionDays      int               `json:"retention_days"`
	RetentionExpiresAt time.Time         `json:"retention_expires_at"`
}

// ErrArchiveNotFound is returned when no archive matches the lookup.
var ErrArchiveNotFound = errors.New("session archive not found")

// ArchiveRepository defines the interface for archive storage operations.
// Archive rows are append-only; the only delete path is retention expiry.
type ArchiveRepository interface {
	CreateArchive(ctx context.Context, archive SessionArchive) (SessionArchive, error)
	GetArchiveBySessionID(ctx context.Context, sessionID uuid.UUID) (SessionArchive, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Archiver moves terminated sessions into retention-tagged archive storage
// and purges archives past their retention window. Both sweeps are
// idempotent and only touch rows already in a terminal state.
type Archiver struct {
	sessions SessionRepository
	archives ArchiveRepository
	cfg      config.ArchiveConfig
	now      func() time.Time
}

// NewArchiver creates an archiver over the given repositories
func NewArchiver(sessions SessionRepository, archives ArchiveRepository, cfg config.ArchiveConfig) *Archiver {
	return &Archiver{
		sessions: sessions,
		archives: archives,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the archiver clock. Intended for tests.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// RunDailyArchive sweeps sessions terminated longer ago than the cutoff into
// archive storage and deletes the live rows. Returns how many were archived.
func (a *Archiver) RunDailyArchive(ctx context.Context) (int, error) {
	now := a.now()
	cutoff := now.Add(-time.Duration(a.cfg.CutoffDays) * 24 * time.Hour)

	terminated, err := a.sessions.FindTerminatedBefore(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list terminated sessions: %w", err)
	}

	archived := 0
	for _, session := range terminated {
		if err := a.archiveOne(ctx, session, now); err != nil {
			slog.Error("failed to archive session", "sessionID", session.ID, "error", err)
			continue
		}
		archived++
	}
	if archived > 0 {
		slog.Info("daily archive sweep finished", "archived", archived)
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, session Session, now time.Time) error {
	days := RetentionDaysFor(session.TerminationReason)

	archive := SessionArchive{
		ArchivedAt:         now,
		RetentionDays:      days,
		RetentionExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := copier.Copy(&archive, &session); err != nil {
		return fmt.Errorf("failed to snapshot session: %w", err)
	}
	// copier matches by field name, so the session id lands in archive.ID
	archive.ID = uuid.New()
	archive.SessionID = session.ID

	if _, err := a.archives.CreateArchive(ctx, archive); err != nil {
		return fmt.Errorf("failed to write archive row: %w", err)
	}
	if err := a.sessions.DeleteSession(ctx, session.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("failed to delete archived session: %w", err)
	}
	return nil
}

// RunMonthlyArchiveCleanup deletes archive rows past their retention window.
// Returns how many were purged.
func (a *Archiver) RunMonthlyArchiveCleanup(ctx context.Context) (int, error) {
	purged, err := a.archives.DeleteExpired(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired archives: %w", err)
	}
	if purged > 0 {
		slog.Info("monthly archive cleanup finished", "purged", purged)
	}
	return purged, nil
}

// Restore recreates a live session from the archive of the given original
// session id. The archive row itself is left untouched.
func (a *Archiver) Restore(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	archive, err := a.archives.GetArchiveBySessionID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	var session Session
	if err := copier.Copy(&session, &archive); err != nil {
		return Session{}, fmt.Errorf("failed to restore session snapshot: %w", err)
	}
	session.ID = archive.SessionID
	session.TerminatedAt = nil
	session.TerminationReason = ""

	// The restored session gets a fresh activity window; expiry stays within
	// the original absolute ceiling.
	now := a.now()
	session.LastActivityAt = now
	if !session.ExpiresAt.After(now) {
		session.ExpiresAt = now.Add(24 * time.Hour)
		if !session.MaxExpiresAt.IsZero() && session.ExpiresAt.After(session.MaxExpiresAt) {
			session.ExpiresAt = session.MaxExpiresAt
		}
	}

	restored, err := a.sessions.CreateSession(ctx, session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to recreate session: %w", err)
	}
	slog.Info("session restored from archive", "sessionID", restored.ID)
	return restored, nil
}
