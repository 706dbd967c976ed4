package api

import (
	"time"

	"github.com/google/uuid"
)

// SendOtpRequest asks for a passcode to be delivered to a destination.
type SendOtpRequest struct {
	Destination string `json:"destination"`
}

// LoginRequest carries the credentials for one login attempt. The device
// signals travel as headers, not in the body.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Passcode   string `json:"passcode"`
	Remember   bool   `json:"remember,omitempty"`
}

// RefreshRequest carries the refresh token to rotate.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest carries the opaque session token to terminate.
type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

// TokenResponse is the token pair returned on login and refresh.
type TokenResponse struct {
	SessionToken     string    `json:"session_token,omitempty"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserID           uuid.UUID `json:"user_id"`
	DeviceTrusted    bool      `json:"device_trusted"`
}

// SessionSummary is one active session as shown to its owner. Token hashes
// never leave the server.
type SessionSummary struct {
	ID             uuid.UUID  `json:"id"`
	DeviceID       *uuid.UUID `json:"device_id,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Current        bool       `json:"current"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MessageResponse is a plain confirmation body.
type MessageResponse struct {
	Message string `json:"message"`
}
