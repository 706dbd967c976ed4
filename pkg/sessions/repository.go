package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TerminationReason records why a session was ended.
type TerminationReason string

const (
	TerminationLogout        TerminationReason = "logout"
	TerminationTimeout       TerminationReason = "timeout"
	TerminationRevoked       TerminationReason = "revoked"
	TerminationDeviceRemoved TerminationReason = "device-removed"
	TerminationSessionLimit  TerminationReason = "session-limit-enforced"
	TerminationArchived      TerminationReason = "archived"
)

// Session is one authenticated presence of a user, optionally bound to a
// recognized device.
type Session struct {
	ID                uuid.UUID         `json:"id"`
	Token             string            `json:"token"`
	OwnerID           uuid.UUID         `json:"owner_id"`
	DeviceID          *uuid.UUID        `json:"device_id,omitempty"`
	AccessTokenHash   string            `json:"access_token_hash,omitempty"`
	RefreshTokenHash  string            `json:"refresh_token_hash,omitempty"`
	IPAddress         string            `json:"ip_address,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	Remembered        bool              `json:"remembered"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	MaxExpiresAt      time.Time         `json:"max_expires_at"`
	TerminatedAt      *time.Time        `json:"terminated_at,omitempty"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
}

// IsActive reports whether the session is neither terminated nor expired at
// the given instant.
func (s *Session) IsActive(now time.Time) bool {
	return s.TerminatedAt == nil && s.ExpiresAt.After(now)
}

var (
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminated is returned when an operation requires an active
	// session but the session has been terminated or has expired.
	ErrSessionTerminated = errors.New("session terminated or expired")

	// ErrSessionLimitReached is returned when a ceiling is hit and eviction
	// is disabled.
	ErrSessionLimitReached = errors.New("session limit reached")
)

// SessionRepository defines the interface for session storage operations.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	FindActiveSessionsByOwner(ctx context.Context, ownerID uuid.UUID, now time.Time) ([]Session, error)
	FindActiveSessionsByDevice(ctx context.Context, deviceID uuid.UUID, now time.Time) ([]Session, error)

	// FindTerminatedBefore returns up to limit sessions whose terminated_at
	// is older than the cutoff, for the archival sweep.
	FindTerminatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)

	UpdateSession(ctx context.Context, session Session) (Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// WithTx returns a repository bound to the given transaction
	WithTx(tx interface{}) SessionRepository
}
