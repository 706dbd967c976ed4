package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemSessionRepository implements SessionRepository using an in-memory map
type InMemSessionRepository struct {
	sessions map[uuid.UUID]Session
	mu       sync.Mutex
}

// NewInMemSessionRepository creates a new in-memory session repository
func NewInMemSessionRepository() *InMemSessionRepository {
	return &InMemSessionRepository{
		sessions: make(map[uuid.UUID]Session),
	}
}

// CreateSession creates a new session in memory
func (r *InMemSessionRepository) CreateSession(ctx context.Context, session Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.sessions[session.ID] = session
	return session, nil
}

// GetSessionByID retrieves a session by ID
func (r *InMemSessionRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// GetSessionByToken retrieves a session by its opaque token
func (r *InMemSessionRepository) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.Token == token {
			return session, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

// FindActiveSessionsByOwner returns the owner's active sessions
func (r *InMemSessionRepository) FindActiveSessionsByOwner(ctx context.Context, ownerID uuid.UUID, now time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, session := range r.sessions {
		if session.OwnerID == ownerID && session.IsActive(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

// FindActiveSessionsByDevice returns the device's active sessions
func (r *InMemSessionRepository) FindActiveSessionsByDevice(ctx context.Context, deviceID uuid.UUID, now time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, session := range r.sessions {
		if session.DeviceID != nil && *session.DeviceID == deviceID && session.IsActive(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

// FindTerminatedBefore returns up to limit sessions terminated before the cutoff
func (r *InMemSessionRepository) FindTerminatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, session := range r.sessions {
		if session.TerminatedAt != nil && session.TerminatedAt.Before(cutoff) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TerminatedAt.Before(*out[j].TerminatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateSession replaces the stored session matched by ID
func (r *InMemSessionRepository) UpdateSession(ctx context.Context, session Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return Session{}, ErrSessionNotFound
	}
	r.sessions[session.ID] = session
	return session, nil
}

// DeleteSession removes a session by ID
func (r *InMemSessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// WithTx returns the repository itself since the in-memory implementation
// doesn't support transactions
func (r *InMemSessionRepository) WithTx(tx interface{}) SessionRepository {
	return r
}
