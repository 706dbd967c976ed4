// Package notification defines the outbound delivery boundary: a Notifier
// interface with an SMTP implementation and an in-memory mock for tests.
package notification
