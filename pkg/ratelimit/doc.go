// Package ratelimit implements persisted sliding-window rate limiting for
// the credential-issuance endpoints. Counters are keyed by identifier and
// limit type; OTP sends count on every check while login attempts follow a
// two-call contract: a read-only pre-check plus an explicit failure record.
package ratelimit
