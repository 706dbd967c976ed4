package config

// RateLimitConfig contains sliding-window rate limit settings for the
// credential-issuance endpoints.
type RateLimitConfig struct {
	// OTP send limits (window seconds + max sends per window)
	OtpWindowSeconds int
	OtpMaxAttempts   int

	// Login attempt limits. The login check is read-only; attempts are
	// recorded separately on OTP-mismatch failures.
	LoginWindowSeconds int
	LoginMaxAttempts   int
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		// OTP: 5 sends per 10 minutes
		OtpWindowSeconds: 600,
		OtpMaxAttempts:   5,

		// Login: 10 failures per 15 minutes
		LoginWindowSeconds: 900,
		LoginMaxAttempts:   10,
	}
}

// NewRateLimitConfigFromEnv loads RateLimitConfig from standard environment variables.
//
// Environment variables:
//   - RATELIMIT_OTP_WINDOW_SECONDS: OTP window length (default: 600)
//   - RATELIMIT_OTP_MAX_ATTEMPTS: Max OTP sends per window (default: 5)
//   - RATELIMIT_LOGIN_WINDOW_SECONDS: Login window length (default: 900)
//   - RATELIMIT_LOGIN_MAX_ATTEMPTS: Max failed logins per window (default: 10)
func NewRateLimitConfigFromEnv() RateLimitConfig {
	return RateLimitConfig{
		OtpWindowSeconds:   GetEnvInt("RATELIMIT_OTP_WINDOW_SECONDS", 600),
		OtpMaxAttempts:     GetEnvInt("RATELIMIT_OTP_MAX_ATTEMPTS", 5),
		LoginWindowSeconds: GetEnvInt("RATELIMIT_LOGIN_WINDOW_SECONDS", 900),
		LoginMaxAttempts:   GetEnvInt("RATELIMIT_LOGIN_MAX_ATTEMPTS", 10),
	}
}
