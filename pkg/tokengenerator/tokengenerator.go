package tokengenerator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the JWT claim set carried by access and refresh tokens. The
// session id binds every token to one admitted session.
type Claims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService issues and parses the signed access and refresh tokens for a
// session.
type TokenService struct {
	secret   string
	issuer   string
	audience string

	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenService creates a TokenService signing with the given HMAC secret
func NewTokenService(secret, issuer, audience string, accessExpiry, refreshExpiry time.Duration) *TokenService {
	return &TokenService{
		secret:        secret,
		issuer:        issuer,
		audience:      audience,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// IssueAccessToken signs a short-lived access token for the subject/session.
func (s *TokenService) IssueAccessToken(subject string, sessionID uuid.UUID) (string, time.Time, error) {
	return s.issue(subject, sessionID, TokenTypeAccess, s.accessExpiry)
}

// IssueRefreshToken signs a refresh token for the subject/session.
func (s *TokenService) IssueRefreshToken(subject string, sessionID uuid.UUID) (string, time.Time, error) {
	return s.issue(subject, sessionID, TokenTypeRefresh, s.refreshExpiry)
}

func (s *TokenService) issue(subject string, sessionID uuid.UUID, tokenType string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	claims := Claims{
		SessionID: sessionID.String(),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    s.issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{s.audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		slog.Error("failed to sign token", "tokenType", tokenType, "error", err)
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a token string, returning its claims.
func (s *TokenService) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
