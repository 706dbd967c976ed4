// Package tokengenerator issues the signed access/refresh token pair for an
// admitted session and provides the opaque session token plus the hashing
// helpers used for at-rest token storage.
package tokengenerator
