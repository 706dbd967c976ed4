package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/veridian-id/trustcore/pkg/device"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
	"github.com/veridian-id/trustcore/pkg/loginflow"
	"github.com/veridian-id/trustcore/pkg/sessions"
)

// Handle serves the login, token and session endpoints.
type Handle struct {
	flow      *loginflow.LoginFlowService
	sessions  *sessions.SessionService
	tokenAuth *jwtauth.JWTAuth
}

// NewHandle creates a handler bound to the flow and session services.
func NewHandle(flow *loginflow.LoginFlowService, sessionSvc *sessions.SessionService, tokenAuth *jwtauth.JWTAuth) *Handle {
	return &Handle{
		flow:      flow,
		sessions:  sessionSvc,
		tokenAuth: tokenAuth,
	}
}

// Routes returns the public auth routes plus the token-guarded session list.
func (h *Handle) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/otp/send", h.SendOtp)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.tokenAuth))
		r.Use(jwtauth.Authenticator(h.tokenAuth))
		r.Get("/sessions", h.ListSessions)
	})
	return r
}

// SendOtp handles POST /otp/send
func (h *Handle) SendOtp(w http.ResponseWriter, r *http.Request) {
	var req SendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, idmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := h.flow.SendOtp(r.Context(), req.Destination); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, MessageResponse{Message: "passcode sent"})
}

// Login handles POST /login
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, idmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.flow.Login(r.Context(), loginflow.Request{
		Identifier:       req.Identifier,
		Passcode:         req.Passcode,
		IPAddress:        clientIP(r),
		Fingerprint:      device.ExtractFingerprintDataFromRequest(r),
		SinceLastAttempt: sinceLastAttempt(r),
		Remember:         req.Remember,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, TokenResponse{
		SessionToken:     result.Session.Token,
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		UserID:           result.User.ID,
		DeviceTrusted:    result.Device.Trusted,
	})
}

// Refresh handles POST /refresh
func (h *Handle) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, idmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.flow.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, TokenResponse{
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		UserID:           result.Session.OwnerID,
	})
}

// Logout handles POST /logout
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, idmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := h.flow.Logout(r.Context(), req.SessionToken); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "logged out"})
}

// ListSessions handles GET /sessions for the authenticated user.
func (h *Handle) ListSessions(w http.ResponseWriter, r *http.Request) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, idmerrors.AuthFailed("missing token"))
		return
	}

	sub, _ := claims["sub"].(string)
	ownerID, err := uuid.Parse(sub)
	if err != nil {
		writeError(w, r, idmerrors.AuthFailed("invalid subject claim"))
		return
	}
	currentSessionID, _ := claims["sid"].(string)

	active, err := h.sessions.FindActiveSessionsByOwner(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to list sessions", "ownerID", ownerID, "error", err)
		writeError(w, r, idmerrors.Internal("failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(active))
	for _, s := range active {
		summaries = append(summaries, SessionSummary{
			ID:             s.ID,
			DeviceID:       s.DeviceID,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
			Current:        s.ID.String() == currentSessionID,
		})
	}
	render.JSON(w, r, summaries)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var idmErr *idmerrors.Error
	if errors.As(err, &idmErr) {
		render.Status(r, idmErr.HTTPStatusCode())
		render.JSON(w, r, ErrorResponse{
			Code:    string(idmErr.Code),
			Message: idmErr.Message,
			Details: idmErr.Details,
		})
		return
	}

	slog.Error("unhandled error", "path", r.URL.Path, "error", err)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    string(idmerrors.ErrCodeInternal),
		Message: "internal error",
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sinceLastAttempt reads the client-reported interval since its previous
// attempt. Absent or malformed values mean unknown.
func sinceLastAttempt(r *http.Request) time.Duration {
	raw := r.Header.Get("X-Since-Last-Attempt")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
