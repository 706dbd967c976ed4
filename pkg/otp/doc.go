// Package otp issues and verifies the time-based passcodes used for login,
// with a lazily created per-identifier secret and notifier-based delivery.
package otp
