package config

// SessionConfig contains session admission and expiry settings.
// Fields have no env tags - populate manually or use NewSessionConfigFromEnv()
// for standard env var names.
type SessionConfig struct {
	// MaxSessionsPerUser caps concurrently active sessions per user
	MaxSessionsPerUser int

	// MaxSessionsPerDevice caps concurrently active sessions per device
	MaxSessionsPerDevice int

	// SessionExpiryHours is the sliding expiry applied at creation and refresh
	SessionExpiryHours int

	// MaxSessionExpiryDays is the absolute ceiling: refresh never pushes
	// expires_at past created_at + MaxSessionExpiryDays
	MaxSessionExpiryDays int

	// EnforceSessionLimits controls whether the ceilings are enforced at all
	EnforceSessionLimits bool

	// TerminateOldestOnLimit selects eviction over rejection when a ceiling
	// is hit. When false, session creation over the ceiling fails instead.
	TerminateOldestOnLimit bool
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSessionsPerUser:     5,
		MaxSessionsPerDevice:   3,
		SessionExpiryHours:     24,
		MaxSessionExpiryDays:   30,
		EnforceSessionLimits:   true,
		TerminateOldestOnLimit: true,
	}
}

// NewSessionConfigFromEnv loads SessionConfig from standard environment variables.
//
// Environment variables:
//   - SESSION_MAX_PER_USER: Max active sessions per user (default: 5)
//   - SESSION_MAX_PER_DEVICE: Max active sessions per device (default: 3)
//   - SESSION_EXPIRY_HOURS: Session expiry window in hours (default: 24)
//   - SESSION_MAX_EXPIRY_DAYS: Absolute refresh ceiling in days (default: 30)
//   - SESSION_ENFORCE_LIMITS: Enforce the ceilings (default: true)
//   - SESSION_TERMINATE_OLDEST: Evict oldest instead of rejecting (default: true)
func NewSessionConfigFromEnv() SessionConfig {
	return SessionConfig{
		MaxSessionsPerUser:     GetEnvInt("SESSION_MAX_PER_USER", 5),
		MaxSessionsPerDevice:   GetEnvInt("SESSION_MAX_PER_DEVICE", 3),
		SessionExpiryHours:     GetEnvInt("SESSION_EXPIRY_HOURS", 24),
		MaxSessionExpiryDays:   GetEnvInt("SESSION_MAX_EXPIRY_DAYS", 30),
		EnforceSessionLimits:   GetEnvBool("SESSION_ENFORCE_LIMITS", true),
		TerminateOldestOnLimit: GetEnvBool("SESSION_TERMINATE_OLDEST", true),
	}
}
