// Package device derives stable device fingerprints from request signals,
// cross-checks the auxiliary device headers for consistency, and runs the
// trust state machine that decides per login attempt whether a device record
// is created, refreshed, reactivated, transferred or rejected.
//
// Fingerprints are derived in a fixed priority order: hardware-identity hash,
// client-supplied instance identifier, token from the native-app client
// template, then a full-signal hash. The primary fingerprint is globally
// unique at the store level; a cross-owner collision is arbitrated by the
// trust engine and surfaced to the caller as a generic rejection.
package device
