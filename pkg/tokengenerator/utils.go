package tokengenerator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// NewSessionToken returns a fresh opaque session token: 256 random bits,
// URL-safe base64 without padding.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a token, for deterministic
// at-rest storage and lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashRefreshToken returns a bcrypt hash suitable for at-rest storage of a
// refresh token. The token is pre-digested because bcrypt only reads the
// first 72 bytes of its input and signed tokens are longer than that.
func HashRefreshToken(token string) (string, error) {
	digest := sha256.Sum256([]byte(token))
	hash, err := bcrypt.GenerateFromPassword(digest[:], bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash refresh token: %w", err)
	}
	return string(hash), nil
}

// VerifyRefreshToken reports whether the token matches the stored bcrypt
// hash.
func VerifyRefreshToken(storedHash, token string) bool {
	digest := sha256.Sum256([]byte(token))
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest[:]) == nil
}
