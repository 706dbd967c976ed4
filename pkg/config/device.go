package config

import "time"

// DeviceTrustConfig contains the cooldown and transfer windows used by the
// device trust state machine.
type DeviceTrustConfig struct {
	// SecurityBlockCooldown is how long a security-reason block
	// (security-violation, compromised, suspicious-activity) rejects
	// reactivation before a post-cooldown untrusted return is allowed.
	SecurityBlockCooldown time.Duration

	// UnknownBlockCooldown is the transient rejection window for blocks
	// carrying an unrecognized reason.
	UnknownBlockCooldown time.Duration

	// TransferWindow is how long a cross-owner device must have been blocked
	// before ownership transfers to a new requester.
	TransferWindow time.Duration
}

// DefaultDeviceTrustConfig returns a DeviceTrustConfig with the standard windows
func DefaultDeviceTrustConfig() DeviceTrustConfig {
	return DeviceTrustConfig{
		SecurityBlockCooldown: 24 * time.Hour,
		UnknownBlockCooldown:  time.Hour,
		TransferWindow:        30 * 24 * time.Hour,
	}
}

// NewDeviceTrustConfigFromEnv loads DeviceTrustConfig from standard environment variables.
//
// Environment variables:
//   - DEVICE_SECURITY_BLOCK_COOLDOWN: security block cooldown (default: 24h)
//   - DEVICE_UNKNOWN_BLOCK_COOLDOWN: unknown-reason block cooldown (default: 1h)
//   - DEVICE_TRANSFER_WINDOW: cross-owner transfer window (default: 720h)
func NewDeviceTrustConfigFromEnv() DeviceTrustConfig {
	return DeviceTrustConfig{
		SecurityBlockCooldown: GetEnvDuration("DEVICE_SECURITY_BLOCK_COOLDOWN", 24*time.Hour),
		UnknownBlockCooldown:  GetEnvDuration("DEVICE_UNKNOWN_BLOCK_COOLDOWN", time.Hour),
		TransferWindow:        GetEnvDuration("DEVICE_TRANSFER_WINDOW", 30*24*time.Hour),
	}
}
