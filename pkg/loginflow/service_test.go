package loginflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	"github.com/veridian-id/trustcore/pkg/device"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
	"github.com/veridian-id/trustcore/pkg/notification"
	"github.com/veridian-id/trustcore/pkg/otp"
	"github.com/veridian-id/trustcore/pkg/ratelimit"
	"github.com/veridian-id/trustcore/pkg/risk"
	"github.com/veridian-id/trustcore/pkg/sessions"
	"github.com/veridian-id/trustcore/pkg/tokengenerator"
	"github.com/veridian-id/trustcore/pkg/user"
	"github.com/veridian-id/trustcore/pkg/useragent"
)

const (
	testIdentifier = "jona@example.com"
	nativeUA       = "AcmeID/2.4.1 (iOS; session)"
)

type flowFixture struct {
	flow       *LoginFlowService
	otp        *otp.OtpService
	sessionSvc *sessions.SessionService
	users      *user.InMemUserRepository
	devices    *device.InMemDeviceRepository
	notifier   *notification.MockNotifier
	sink       *audit.MemorySink
}

func newFlowFixture(sessionCfg config.SessionConfig, rateCfg config.RateLimitConfig) *flowFixture {
	users := user.NewInMemUserRepository()
	devices := device.NewInMemDeviceRepository()
	sessionRepo := sessions.NewInMemSessionRepository()
	notifier := notification.NewMockNotifier()
	sink := audit.NewMemorySink()

	otpSvc := otp.NewOtpService(otp.NewInMemSecretRepository(), notifier)
	sessionSvc := sessions.NewSessionService(sessionRepo, sink, sessionCfg)
	tokens := tokengenerator.NewTokenService("test-signing-secret", "trustcore-test", "trustcore", 15*time.Minute, 30*24*time.Hour)

	flow := NewLoginFlowService(Dependencies{
		Users:     user.NewUserService(users),
		Otp:       otpSvc,
		RateLimit: ratelimit.NewRateLimitService(ratelimit.NewInMemCounterRepository(), rateCfg),
		Trust:     device.NewTrustEngine(devices, sink, config.DefaultDeviceTrustConfig()),
		Devices:   device.NewDeviceService(devices),
		Sessions:  sessionSvc,
		Tokens:    tokens,
		Risk:      risk.NewAnalyzer(nil, nil),
		Audit:     sink,
	})
	return &flowFixture{
		flow:       flow,
		otp:        otpSvc,
		sessionSvc: sessionSvc,
		users:      users,
		devices:    devices,
		notifier:   notifier,
		sink:       sink,
	}
}

func defaultFixture() *flowFixture {
	return newFlowFixture(config.DefaultSessionConfig(), config.DefaultRateLimitConfig())
}

func nativeFingerprint() device.FingerprintData {
	return device.FingerprintData{
		UserAgent:        nativeUA,
		Platform:         "iOS",
		Language:         "en-US",
		Timezone:         "Europe/Berlin",
		DeviceInstanceID: "9f3a1b2c-4d5e-6f70-8192-a3b4c5d6e7f8",
		DeviceModel:      "iPhone15,2",
		SystemVersion:    "iOS 17.1",
		AppVersion:       "2.4.1",
		AppBuild:         "2401",
	}
}

func (fx *flowFixture) login(t *testing.T, identifier string) Result {
	t.Helper()
	ctx := context.Background()

	code, err := fx.otp.IssuePasscode(ctx, identifier)
	require.NoError(t, err)

	result, err := fx.flow.Login(ctx, Request{
		Identifier:       identifier,
		Passcode:         code,
		IPAddress:        "203.0.113.7",
		Fingerprint:      nativeFingerprint(),
		SinceLastAttempt: 10 * time.Second,
	})
	require.NoError(t, err)
	return result
}

func TestLoginCreatesUserDeviceAndSession(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	result := fx.login(t, testIdentifier)

	assert.True(t, result.UserCreated)
	assert.Equal(t, testIdentifier, result.User.Identifier)
	assert.Equal(t, device.DecisionCreated, result.TrustDecision)
	assert.Equal(t, risk.LevelLow, result.RiskLevel)

	// A first-seen device is never trusted, however clean the request
	assert.False(t, result.Device.Trusted)
	assert.Equal(t, result.User.ID, result.Device.OwnerID)

	require.NotNil(t, result.Session.DeviceID)
	assert.Equal(t, result.Device.ID, *result.Session.DeviceID)
	assert.True(t, result.Session.IsActive(time.Now().UTC()))
	assert.Len(t, result.Session.Token, 43)

	claims, err := fx.flow.deps.Tokens.ParseToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokengenerator.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, result.Session.ID.String(), claims.SessionID)
	assert.Equal(t, result.User.ID.String(), claims.Subject)

	active, err := fx.sessionSvc.FindActiveSessionsByOwner(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	events := fx.sink.Find("login")
	require.NotEmpty(t, events)
	assert.Equal(t, "success", events[len(events)-1].Outcome)
}

func TestSecondLoginReusesDeviceRecord(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	first := fx.login(t, testIdentifier)
	second := fx.login(t, testIdentifier)

	assert.False(t, second.UserCreated)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.Equal(t, device.DecisionRefreshed, second.TrustDecision)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)

	active, err := fx.sessionSvc.FindActiveSessionsByOwner(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSixthLoginEvictsOldestSession(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 5
	cfg.MaxSessionsPerDevice = 10
	fx := newFlowFixture(cfg, config.DefaultRateLimitConfig())
	ctx := context.Background()

	var results []Result
	for i := 0; i < 6; i++ {
		results = append(results, fx.login(t, testIdentifier))
		time.Sleep(2 * time.Millisecond)
	}

	active, err := fx.sessionSvc.FindActiveSessionsByOwner(ctx, results[0].User.ID)
	require.NoError(t, err)
	assert.Len(t, active, 5)

	oldest, err := fx.sessionSvc.GetSessionByID(ctx, results[0].Session.ID)
	require.NoError(t, err)
	require.NotNil(t, oldest.TerminatedAt)
	assert.Equal(t, sessions.TerminationSessionLimit, oldest.TerminationReason)

	for _, r := range results[1:] {
		s, err := fx.sessionSvc.GetSessionByID(ctx, r.Session.ID)
		require.NoError(t, err)
		assert.Nil(t, s.TerminatedAt)
	}
}

func TestAutomationClientRejectedBeforeAnyMutation(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	code, err := fx.otp.IssuePasscode(ctx, testIdentifier)
	require.NoError(t, err)

	data := device.FingerprintData{UserAgent: "curl/8.4.0"}
	_, err = fx.flow.Login(ctx, Request{
		Identifier:  testIdentifier,
		Passcode:    code,
		IPAddress:   "203.0.113.7",
		Fingerprint: data,
	})
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeDeviceRejected))

	// The rejection happened before any store mutation
	_, err = fx.users.FindUserByIdentifier(ctx, testIdentifier)
	assert.ErrorIs(t, err, user.ErrUserNotFound)

	fp := device.GenerateFingerprint(data, useragent.Parse(data.UserAgent))
	_, err = fx.devices.GetDeviceByFingerprint(ctx, fp.Primary)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	events := fx.sink.Find("login")
	require.NotEmpty(t, events)
	assert.Equal(t, "rejected_risk", events[len(events)-1].Outcome)
}

func TestInvalidPasscodeRecordsFailure(t *testing.T) {
	rateCfg := config.DefaultRateLimitConfig()
	rateCfg.LoginMaxAttempts = 3
	fx := newFlowFixture(config.DefaultSessionConfig(), rateCfg)
	ctx := context.Background()

	req := Request{
		Identifier:  testIdentifier,
		Passcode:    "000000",
		IPAddress:   "203.0.113.7",
		Fingerprint: nativeFingerprint(),
	}

	for i := 0; i < 3; i++ {
		_, err := fx.flow.Login(ctx, req)
		require.Error(t, err)
		assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeOtpInvalid))
	}

	// The recorded failures now trip the read-only pre-check
	_, err := fx.flow.Login(ctx, req)
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeRateLimitExceeded))
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	login := fx.login(t, testIdentifier)

	refreshed, err := fx.flow.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, refreshed.Session.ID)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The rotated-out refresh token no longer matches the session
	_, err = fx.flow.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeAuthFailed))

	// An access token is not accepted on the refresh path
	_, err = fx.flow.Refresh(ctx, refreshed.AccessToken)
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeTokenInvalid))
}

func TestLogoutTerminatesSessionAndBlocksDevice(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	login := fx.login(t, testIdentifier)
	require.NoError(t, fx.flow.Logout(ctx, login.Session.Token))

	terminated, err := fx.sessionSvc.GetSessionByID(ctx, login.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, terminated.TerminatedAt)
	assert.Equal(t, sessions.TerminationLogout, terminated.TerminationReason)

	blocked, err := fx.devices.GetDeviceByID(ctx, login.Device.ID)
	require.NoError(t, err)
	require.NotNil(t, blocked.BlockedAt)
	assert.Equal(t, device.BlockReasonLogout, blocked.BlockReason)
	assert.False(t, blocked.Trusted)

	// A normal return after logout reactivates the device trusted
	again := fx.login(t, testIdentifier)
	assert.Equal(t, device.DecisionReactivated, again.TrustDecision)
	assert.True(t, again.Device.Trusted)
}

func TestSendOtpValidatesAndRateLimits(t *testing.T) {
	fx := defaultFixture()
	ctx := context.Background()

	err := fx.flow.SendOtp(ctx, "not-an-address")
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeInvalidInput))

	for i := 0; i < 5; i++ {
		require.NoError(t, fx.flow.SendOtp(ctx, testIdentifier))
	}
	assert.Len(t, fx.notifier.Messages, 5)

	err = fx.flow.SendOtp(ctx, testIdentifier)
	require.Error(t, err)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeRateLimitExceeded))
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"+14155550123", "+4915712345678", "jona@example.com", "a.b+c@mail.example.org"}
	for _, id := range valid {
		assert.NoError(t, ValidateIdentifier(id), id)
	}

	invalid := []string{"", "   ", "1234", "014155550123", "jona@", "@example.com", "jona@example", "+1 415 555 0123"}
	for _, id := range invalid {
		assert.Error(t, ValidateIdentifier(id), id)
	}
}
