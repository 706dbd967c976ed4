package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemArchiveRepository implements ArchiveRepository using an in-memory map
type InMemArchiveRepository struct {
	archives map[uuid.UUID]SessionArchive
	mu       sync.Mutex
}

// NewInMemArchiveRepository creates a new in-memory archive repository
func NewInMemArchiveRepository() *InMemArchiveRepository {
	return &InMemArchiveRepository{
		archives: make(map[uuid.UUID]SessionArchive),
	}
}

// CreateArchive stores an archive row
func (r *InMemArchiveRepository) CreateArchive(ctx context.Context, archive SessionArchive) (SessionArchive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if archive.ID == uuid.Nil {
		archive.ID = uuid.New()
	}
	r.archives[archive.ID] = archive
	return archive, nil
}

// GetArchiveBySessionID retrieves the archive of the given original session
func (r *InMemArchiveRepository) GetArchiveBySessionID(ctx context.Context, sessionID uuid.UUID) (SessionArchive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, archive := range r.archives {
		if archive.SessionID == sessionID {
			return archive, nil
		}
	}
	return SessionArchive{}, ErrArchiveNotFound
}

// DeleteExpired removes archives past their retention window
func (r *InMemArchiveRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, archive := range r.archives {
		if archive.RetentionExpiresAt.Before(now) {
			delete(r.archives, id)
			deleted++
		}
	}
	return deleted, nil
}
