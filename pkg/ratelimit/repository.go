package ratelimit

import (
	"context"
	"errors"
	"time"
)

// LimitType names the rate-limited operation a counter guards.
type LimitType string

const (
	LimitTypeOtp   LimitType = "otp"
	LimitTypeLogin LimitType = "login"
)

// Counter is one sliding-window attempt counter, keyed by
// (identifier, limit type). Attempts only grow within a window; a check
// after the window end resets it from now.
type Counter struct {
	Identifier  string    `json:"identifier"`
	LimitType   LimitType `json:"limit_type"`
	Attempts    int       `json:"attempts"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	MaxAttempts int       `json:"max_attempts"`
}

// Expired reports whether the window has passed at the given instant.
func (c *Counter) Expired(now time.Time) bool {
	return now.After(c.WindowEnd)
}

// ErrCounterNotFound is returned when no counter exists for the key.
var ErrCounterNotFound = errors.New("rate limit counter not found")

// CounterRepository defines the interface for counter storage operations.
// UpsertCounter must be atomic per key so concurrent checks from the same
// identifier never lose an increment.
type CounterRepository interface {
	GetCounter(ctx context.Context, identifier string, limitType LimitType) (Counter, error)
	UpsertCounter(ctx context.Context, counter Counter) (Counter, error)

	// WithTx returns a repository bound to the given transaction
	WithTx(tx interface{}) CounterRepository
}
