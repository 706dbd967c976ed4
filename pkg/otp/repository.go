package otp

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Secret is the per-identifier passcode secret. One secret serves all
// passcodes issued to that identifier.
type Secret struct {
	Identifier string    `json:"identifier"`
	Secret     string    `json:"secret"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrSecretNotFound is returned when no secret exists for the identifier.
var ErrSecretNotFound = errors.New("otp secret not found")

// SecretRepository defines the interface for passcode secret storage.
type SecretRepository interface {
	GetSecret(ctx context.Context, identifier string) (Secret, error)
	CreateSecret(ctx context.Context, secret Secret) (Secret, error)
}

// InMemSecretRepository implements SecretRepository using an in-memory map
type InMemSecretRepository struct {
	secrets map[string]Secret
	mu      sync.Mutex
}

// NewInMemSecretRepository creates a new in-memory secret repository
func NewInMemSecretRepository() *InMemSecretRepository {
	return &InMemSecretRepository{
		secrets: make(map[string]Secret),
	}
}

// GetSecret retrieves the secret for an identifier
func (r *InMemSecretRepository) GetSecret(ctx context.Context, identifier string) (Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	secret, exists := r.secrets[identifier]
	if !exists {
		return Secret{}, ErrSecretNotFound
	}
	return secret, nil
}

// CreateSecret stores the secret for an identifier
func (r *InMemSecretRepository) CreateSecret(ctx context.Context, secret Secret) (Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now().UTC()
	}
	r.secrets[secret.Identifier] = secret
	return secret, nil
}
