package tokengenerator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *TokenService {
	return NewTokenService("test-secret", "veridian-id", "trustcore", time.Hour, 24*time.Hour)
}

func TestIssueAndParseAccessToken(t *testing.T) {
	service := newTestService()
	sessionID := uuid.New()

	token, expiresAt, err := service.IssueAccessToken("user-1", sessionID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := service.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	service := newTestService()
	other := NewTokenService("other-secret", "veridian-id", "trustcore", time.Hour, 24*time.Hour)

	token, _, err := service.IssueRefreshToken("user-1", uuid.New())
	require.NoError(t, err)

	_, err = other.ParseToken(token)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	service := NewTokenService("test-secret", "veridian-id", "trustcore", -time.Minute, -time.Minute)

	token, _, err := service.IssueAccessToken("user-1", uuid.New())
	require.NoError(t, err)

	_, err = service.ParseToken(token)
	assert.Error(t, err)
}

func TestSessionTokensAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := NewSessionToken()
		require.NoError(t, err)
		assert.Len(t, token, 43)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestRefreshTokenHashRoundTrip(t *testing.T) {
	token, err := NewSessionToken()
	require.NoError(t, err)

	hash, err := HashRefreshToken(token)
	require.NoError(t, err)
	assert.True(t, VerifyRefreshToken(hash, token))
	assert.False(t, VerifyRefreshToken(hash, token+"x"))
}

func TestHashTokenDeterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
