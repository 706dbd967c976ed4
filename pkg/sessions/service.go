package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
)

// CreateSessionParams carries everything the admission controller needs to
// create one session. Token material is issued by the caller; the controller
// only stores it.
type CreateSessionParams struct {
	// ID is optional; callers that issue session-bound tokens before the
	// session row exists supply it up front.
	ID               uuid.UUID
	OwnerID          uuid.UUID
	DeviceID         *uuid.UUID
	Token            string
	AccessTokenHash  string
	RefreshTokenHash string
	IPAddress        string
	UserAgent        string
	Remembered       bool
}

// SessionService enforces the per-device and per-user active-session ceilings
// and owns the session lifecycle: create, refresh, activity, terminate.
type SessionService struct {
	repo      SessionRepository
	auditSink audit.Sink
	cfg       config.SessionConfig
	now       func() time.Time
}

// NewSessionService creates a session service with the given repository,
// audit sink and limits configuration.
func NewSessionService(repo SessionRepository, auditSink audit.Sink, cfg config.SessionConfig) *SessionService {
	return &SessionService{
		repo:      repo,
		auditSink: auditSink,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *SessionService) WithTx(tx interface{}) *SessionService {
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

// CreateSession admits a new session. The device ceiling is enforced first,
// then the user ceiling; each evicts oldest-by-last-activity sessions one at
// a time until under the limit.
func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (Session, error) {
	now := s.now()

	if s.cfg.EnforceSessionLimits {
		if params.DeviceID != nil {
			deviceSessions, err := s.repo.FindActiveSessionsByDevice(ctx, *params.DeviceID, now)
			if err != nil {
				return Session{}, fmt.Errorf("failed to list device sessions: %w", err)
			}
			if err := s.enforceCeiling(ctx, deviceSessions, s.cfg.MaxSessionsPerDevice); err != nil {
				return Session{}, err
			}
		}

		userSessions, err := s.repo.FindActiveSessionsByOwner(ctx, params.OwnerID, now)
		if err != nil {
			return Session{}, fmt.Errorf("failed to list user sessions: %w", err)
		}
		if err := s.enforceCeiling(ctx, userSessions, s.cfg.MaxSessionsPerUser); err != nil {
			return Session{}, err
		}
	}

	sessionID := params.ID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	session := Session{
		ID:               sessionID,
		Token:            params.Token,
		OwnerID:          params.OwnerID,
		DeviceID:         params.DeviceID,
		AccessTokenHash:  params.AccessTokenHash,
		RefreshTokenHash: params.RefreshTokenHash,
		IPAddress:        params.IPAddress,
		UserAgent:        params.UserAgent,
		Remembered:       params.Remembered,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(time.Duration(s.cfg.SessionExpiryHours) * time.Hour),
		MaxExpiresAt:     now.Add(time.Duration(s.cfg.MaxSessionExpiryDays) * 24 * time.Hour),
	}

	created, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("session created", "sessionID", created.ID, "ownerID", created.OwnerID, "expiresAt", created.ExpiresAt)
	return created, nil
}

// enforceCeiling terminates oldest-by-last-activity sessions one at a time
// until admitting one more stays at or under the limit.
func (s *SessionService) enforceCeiling(ctx context.Context, active []Session, limit int) error {
	if limit <= 0 || len(active) < limit {
		return nil
	}
	if !s.cfg.TerminateOldestOnLimit {
		return ErrSessionLimitReached
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivityAt.Before(active[j].LastActivityAt)
	})

	// Evict enough to leave room for the incoming session.
	excess := len(active) - limit + 1
	for i := 0; i < excess; i++ {
		if err := s.terminate(ctx, active[i], TerminationSessionLimit); err != nil {
			return err
		}
	}
	return nil
}

// RefreshSession extends the session on token renewal. The extension is
// capped at the absolute ceiling fixed when the session was created.
func (s *SessionService) RefreshSession(ctx context.Context, id uuid.UUID, accessTokenHash, refreshTokenHash string) (Session, error) {
	session, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	if !session.IsActive(now) {
		return Session{}, ErrSessionTerminated
	}

	expiresAt := now.Add(time.Duration(s.cfg.SessionExpiryHours) * time.Hour)
	if !session.MaxExpiresAt.IsZero() && expiresAt.After(session.MaxExpiresAt) {
		expiresAt = session.MaxExpiresAt
	}

	session.ExpiresAt = expiresAt
	session.LastActivityAt = now
	session.AccessTokenHash = accessTokenHash
	session.RefreshTokenHash = refreshTokenHash

	updated, err := s.repo.UpdateSession(ctx, session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to refresh session: %w", err)
	}
	slog.Debug("session refreshed", "sessionID", updated.ID, "expiresAt", updated.ExpiresAt)
	return updated, nil
}

// GetSessionByID looks up a session by id.
func (s *SessionService) GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error) {
	return s.repo.GetSessionByID(ctx, id)
}

// GetSessionByToken looks up the session by its opaque token.
func (s *SessionService) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	return s.repo.GetSessionByToken(ctx, token)
}

// FindActiveSessionsByOwner returns the owner's currently active sessions.
func (s *SessionService) FindActiveSessionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Session, error) {
	return s.repo.FindActiveSessionsByOwner(ctx, ownerID, s.now())
}

// UpdateActivity bumps the session's last-activity timestamp.
func (s *SessionService) UpdateActivity(ctx context.Context, id uuid.UUID) error {
	session, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if !session.IsActive(s.now()) {
		return ErrSessionTerminated
	}
	session.LastActivityAt = s.now()
	if _, err := s.repo.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}
	return nil
}

// TerminateSession ends the session with the given reason. Terminating an
// already-terminated session is a no-op.
func (s *SessionService) TerminateSession(ctx context.Context, id uuid.UUID, reason TerminationReason) error {
	session, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return idmerrors.NotFound("session", id.String())
		}
		return err
	}
	if session.TerminatedAt != nil {
		return nil
	}
	return s.terminate(ctx, session, reason)
}

// TerminateSessionsByDevice ends every active session bound to the device.
// Used when a device is removed or blocked for a security reason.
func (s *SessionService) TerminateSessionsByDevice(ctx context.Context, deviceID uuid.UUID, reason TerminationReason) (int, error) {
	active, err := s.repo.FindActiveSessionsByDevice(ctx, deviceID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list device sessions: %w", err)
	}
	for _, session := range active {
		if err := s.terminate(ctx, session, reason); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

func (s *SessionService) terminate(ctx context.Context, session Session, reason TerminationReason) error {
	now := s.now()
	session.TerminatedAt = &now
	session.TerminationReason = reason
	if _, err := s.repo.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}

	slog.Info("session terminated", "sessionID", session.ID, "reason", reason)
	if s.auditSink != nil {
		s.auditSink.Record(ctx, audit.Event{
			Action:  "session_terminated",
			Outcome: string(reason),
			UserID:  session.OwnerID.String(),
			Details: map[string]interface{}{"sessionID": session.ID.String()},
		})
	}
	return nil
}
