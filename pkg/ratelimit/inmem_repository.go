package ratelimit

import (
	"context"
	"sync"
)

type counterKey struct {
	identifier string
	limitType  LimitType
}

// InMemCounterRepository implements CounterRepository using an in-memory map
type InMemCounterRepository struct {
	counters map[counterKey]Counter
	mu       sync.Mutex
}

// NewInMemCounterRepository creates a new in-memory counter repository
func NewInMemCounterRepository() *InMemCounterRepository {
	return &InMemCounterRepository{
		counters: make(map[counterKey]Counter),
	}
}

// GetCounter retrieves a counter by identifier and limit type
func (r *InMemCounterRepository) GetCounter(ctx context.Context, identifier string, limitType LimitType) (Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter, exists := r.counters[counterKey{identifier, limitType}]
	if !exists {
		return Counter{}, ErrCounterNotFound
	}
	return counter, nil
}

// UpsertCounter creates or replaces the counter for its key
func (r *InMemCounterRepository) UpsertCounter(ctx context.Context, counter Counter) (Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[counterKey{counter.Identifier, counter.LimitType}] = counter
	return counter, nil
}

// WithTx returns the repository itself since the in-memory implementation
// doesn't support transactions
func (r *InMemCounterRepository) WithTx(tx interface{}) CounterRepository {
	return r
}
