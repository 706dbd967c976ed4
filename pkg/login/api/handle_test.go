package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	"github.com/veridian-id/trustcore/pkg/device"
	"github.com/veridian-id/trustcore/pkg/loginflow"
	"github.com/veridian-id/trustcore/pkg/notification"
	"github.com/veridian-id/trustcore/pkg/otp"
	"github.com/veridian-id/trustcore/pkg/ratelimit"
	"github.com/veridian-id/trustcore/pkg/risk"
	"github.com/veridian-id/trustcore/pkg/sessions"
	"github.com/veridian-id/trustcore/pkg/tokengenerator"
	"github.com/veridian-id/trustcore/pkg/user"
)

const testSecret = "api-test-signing-secret"

func newTestHandle() (*Handle, *otp.OtpService) {
	sink := audit.NewMemorySink()
	otpSvc := otp.NewOtpService(otp.NewInMemSecretRepository(), notification.NewMockNotifier())
	sessionSvc := sessions.NewSessionService(sessions.NewInMemSessionRepository(), sink, config.DefaultSessionConfig())
	devices := device.NewInMemDeviceRepository()

	flow := loginflow.NewLoginFlowService(loginflow.Dependencies{
		Users:     user.NewUserService(user.NewInMemUserRepository()),
		Otp:       otpSvc,
		RateLimit: ratelimit.NewRateLimitService(ratelimit.NewInMemCounterRepository(), config.DefaultRateLimitConfig()),
		Trust:     device.NewTrustEngine(devices, sink, config.DefaultDeviceTrustConfig()),
		Devices:   device.NewDeviceService(devices),
		Sessions:  sessionSvc,
		Tokens:    tokengenerator.NewTokenService(testSecret, "trustcore-test", "trustcore", 15*time.Minute, 30*24*time.Hour),
		Risk:      risk.NewAnalyzer(nil, nil),
		Audit:     sink,
	})

	tokenAuth := jwtauth.New("HS256", []byte(testSecret), nil)
	return NewHandle(flow, sessionSvc, tokenAuth), otpSvc
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.RemoteAddr = "203.0.113.7:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func nativeHeaders() map[string]string {
	return map[string]string{
		"User-Agent":       "AcmeID/2.4.1 (iOS; session)",
		"X-Platform":       "iOS",
		"Accept-Language":  "en-US,en;q=0.9",
		"X-Device-ID":      "9f3a1b2c-4d5e-6f70-8192-a3b4c5d6e7f8",
		"X-Device-Model":   "iPhone15,2",
		"X-System-Version": "iOS 17.1",
		"X-App-Version":    "2.4.1",
	}
}

func loginForTest(t *testing.T, router http.Handler, otpSvc *otp.OtpService, identifier string) TokenResponse {
	t.Helper()
	code, err := otpSvc.IssuePasscode(context.Background(), identifier)
	require.NoError(t, err)

	rec := postJSON(t, router, "/login", LoginRequest{Identifier: identifier, Passcode: code}, nativeHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	return tokens
}

func TestSendOtpEndpoint(t *testing.T) {
	handle, _ := newTestHandle()
	router := handle.Routes()

	rec := postJSON(t, router, "/otp/send", SendOtpRequest{Destination: "jona@example.com"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = postJSON(t, router, "/otp/send", SendOtpRequest{Destination: "not-an-address"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "INVALID_INPUT", errResp.Code)
}

func TestLoginEndpointIssuesTokens(t *testing.T) {
	handle, otpSvc := newTestHandle()
	router := handle.Routes()

	tokens := loginForTest(t, router, otpSvc, "jona@example.com")
	assert.NotEmpty(t, tokens.SessionToken)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.False(t, tokens.DeviceTrusted)
}

func TestLoginEndpointRejectsAutomationClient(t *testing.T) {
	handle, otpSvc := newTestHandle()
	router := handle.Routes()

	code, err := otpSvc.IssuePasscode(context.Background(), "jona@example.com")
	require.NoError(t, err)

	rec := postJSON(t, router, "/login",
		LoginRequest{Identifier: "jona@example.com", Passcode: code},
		map[string]string{"User-Agent": "curl/8.4.0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "DEVICE_REJECTED", errResp.Code)
}

func TestRefreshEndpointRotatesPair(t *testing.T) {
	handle, otpSvc := newTestHandle()
	router := handle.Routes()

	tokens := loginForTest(t, router, otpSvc, "jona@example.com")

	rec := postJSON(t, router, "/refresh", RefreshRequest{RefreshToken: tokens.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// the rotated-out token is refused
	rec = postJSON(t, router, "/refresh", RefreshRequest{RefreshToken: tokens.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListSessionsRequiresToken(t *testing.T) {
	handle, otpSvc := newTestHandle()
	router := handle.Routes()

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tokens := loginForTest(t, router, otpSvc, "jona@example.com")

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summaries []SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Current)
	assert.Equal(t, "AcmeID/2.4.1 (iOS; session)", summaries[0].UserAgent)
}

func TestLogoutEndpoint(t *testing.T) {
	handle, otpSvc := newTestHandle()
	router := handle.Routes()

	tokens := loginForTest(t, router, otpSvc, "jona@example.com")

	rec := postJSON(t, router, "/logout", LogoutRequest{SessionToken: tokens.SessionToken}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a token that matches no session fails the lookup
	rec = postJSON(t, router, "/logout", LogoutRequest{SessionToken: "unknown-token"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
