// Package loginflow orchestrates the passwordless login sequence end to end:
// identifier validation, rate limiting, device fingerprinting, risk gating,
// passcode verification, the device trust decision, session admission and
// token issuance. It owns no storage of its own; every step delegates to the
// domain service for that concern, and the mutating steps run inside one
// transaction via TxRunner.
package loginflow
