// Package sessions owns the session lifecycle: admission under per-device
// and per-user active-session ceilings with oldest-first eviction, refresh
// with an absolute expiry ceiling, termination, and the archival sweeps that
// move terminated sessions into retention-tagged storage.
package sessions
