package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/veridian-id/trustcore/pkg/config"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
)

// RateLimitService enforces the sliding-window limits on OTP sends and login
// attempts. The OTP check counts every send; the login check is read-only
// and only RecordFailedLogin adds attempts.
type RateLimitService struct {
	repo CounterRepository
	cfg  config.RateLimitConfig
	now  func() time.Time
}

// NewRateLimitService creates a rate limit service with the given repository
// and window configuration.
func NewRateLimitService(repo CounterRepository, cfg config.RateLimitConfig) *RateLimitService {
	return &RateLimitService{
		repo: repo,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// CheckOtpSend gates one OTP send for the identifier: it counts the send and
// rejects once the window's attempts are exhausted.
func (s *RateLimitService) CheckOtpSend(ctx context.Context, identifier string) error {
	now := s.now()
	window := time.Duration(s.cfg.OtpWindowSeconds) * time.Second

	counter, err := s.repo.GetCounter(ctx, identifier, LimitTypeOtp)
	if err != nil {
		if errors.Is(err, ErrCounterNotFound) {
			return s.startWindow(ctx, identifier, LimitTypeOtp, 1, now, window, s.cfg.OtpMaxAttempts)
		}
		return fmt.Errorf("failed to load otp counter: %w", err)
	}

	if counter.Expired(now) {
		// Window rolled: the send being gated counts as the first attempt.
		return s.startWindow(ctx, identifier, LimitTypeOtp, 1, now, window, s.cfg.OtpMaxAttempts)
	}

	if counter.Attempts >= counter.MaxAttempts {
		slog.Info("otp send rate limited", "identifier", identifier, "attempts", counter.Attempts)
		return idmerrors.RateLimitExceeded(retryAfter(counter.WindowEnd, now))
	}

	counter.Attempts++
	if _, err := s.repo.UpsertCounter(ctx, counter); err != nil {
		return fmt.Errorf("failed to update otp counter: %w", err)
	}
	return nil
}

// CheckLoginAttempts is the read-only pre-check on a login attempt: it
// rejects when the window's failure budget is spent but never adds attempts
// itself. Failures are recorded separately via RecordFailedLogin.
func (s *RateLimitService) CheckLoginAttempts(ctx context.Context, identifier string) error {
	now := s.now()
	window := time.Duration(s.cfg.LoginWindowSeconds) * time.Second

	counter, err := s.repo.GetCounter(ctx, identifier, LimitTypeLogin)
	if err != nil {
		if errors.Is(err, ErrCounterNotFound) {
			// Pre-check baseline is zero: nothing failed yet.
			return s.startWindow(ctx, identifier, LimitTypeLogin, 0, now, window, s.cfg.LoginMaxAttempts)
		}
		return fmt.Errorf("failed to load login counter: %w", err)
	}

	if counter.Expired(now) {
		return s.startWindow(ctx, identifier, LimitTypeLogin, 0, now, window, s.cfg.LoginMaxAttempts)
	}

	if counter.Attempts >= counter.MaxAttempts {
		slog.Info("login attempts rate limited", "identifier", identifier, "attempts", counter.Attempts)
		return idmerrors.RateLimitExceeded(retryAfter(counter.WindowEnd, now))
	}
	return nil
}

// RecordFailedLogin adds one failed attempt for the identifier. Called only
// from the credential-mismatch path.
func (s *RateLimitService) RecordFailedLogin(ctx context.Context, identifier string) error {
	now := s.now()
	window := time.Duration(s.cfg.LoginWindowSeconds) * time.Second

	counter, err := s.repo.GetCounter(ctx, identifier, LimitTypeLogin)
	if err != nil {
		if errors.Is(err, ErrCounterNotFound) {
			return s.startWindow(ctx, identifier, LimitTypeLogin, 1, now, window, s.cfg.LoginMaxAttempts)
		}
		return fmt.Errorf("failed to load login counter: %w", err)
	}

	if counter.Expired(now) {
		return s.startWindow(ctx, identifier, LimitTypeLogin, 1, now, window, s.cfg.LoginMaxAttempts)
	}

	counter.Attempts++
	if _, err := s.repo.UpsertCounter(ctx, counter); err != nil {
		return fmt.Errorf("failed to record failed login: %w", err)
	}
	slog.Debug("failed login recorded", "identifier", identifier, "attempts", counter.Attempts)
	return nil
}

func (s *RateLimitService) startWindow(ctx context.Context, identifier string, limitType LimitType, attempts int, now time.Time, window time.Duration, max int) error {
	counter := Counter{
		Identifier:  identifier,
		LimitType:   limitType,
		Attempts:    attempts,
		WindowStart: now,
		WindowEnd:   now.Add(window),
		MaxAttempts: max,
	}
	if _, err := s.repo.UpsertCounter(ctx, counter); err != nil {
		return fmt.Errorf("failed to start rate limit window: %w", err)
	}
	return nil
}

// retryAfter renders the remaining window as whole minutes for the generic
// try-again message, rounding up so the caller never retries too early.
func retryAfter(windowEnd, now time.Time) string {
	minutes := int(math.Ceil(windowEnd.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
