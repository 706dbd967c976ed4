package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the account a device and its sessions belong to. Login is
// passcode-based, so the identifier (phone number or email) is the only
// credential anchor.
type User struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines the interface for user storage operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	FindUserByIdentifier(ctx context.Context, identifier string) (User, error)

	// WithTx returns a repository bound to the given transaction
	WithTx(tx interface{}) UserRepository
}

// UserService wraps the repository with the find-or-create used by login.
type UserService struct {
	repo UserRepository
}

// NewUserService creates a user service with the given repository
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *UserService) WithTx(tx interface{}) *UserService {
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

// FindOrCreate returns the user for the identifier, creating one on first
// login.
func (s *UserService) FindOrCreate(ctx context.Context, identifier string) (User, bool, error) {
	existing, err := s.repo.FindUserByIdentifier(ctx, identifier)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, fmt.Errorf("failed to look up user: %w", err)
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateUser(ctx, User{
		ID:         uuid.New(),
		Identifier: identifier,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return User{}, false, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user created", "userID", created.ID)
	return created, true, nil
}

// GetUserByID returns the user with the given id.
func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// InMemUserRepository implements UserRepository using an in-memory map
type InMemUserRepository struct {
	users map[uuid.UUID]User
	mu    sync.Mutex
}

// NewInMemUserRepository creates a new in-memory user repository
func NewInMemUserRepository() *InMemUserRepository {
	return &InMemUserRepository{
		users: make(map[uuid.UUID]User),
	}
}

// CreateUser creates a new user in memory
func (r *InMemUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = user
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *InMemUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// FindUserByIdentifier retrieves a user by phone number or email
func (r *InMemUserRepository) FindUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Identifier == identifier {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

// WithTx returns the repository itself since the in-memory implementation
// doesn't support transactions
func (r *InMemUserRepository) WithTx(tx interface{}) UserRepository {
	return r
}
