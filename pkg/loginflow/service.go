package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/device"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
	"github.com/veridian-id/trustcore/pkg/otp"
	"github.com/veridian-id/trustcore/pkg/ratelimit"
	"github.com/veridian-id/trustcore/pkg/risk"
	"github.com/veridian-id/trustcore/pkg/sessions"
	"github.com/veridian-id/trustcore/pkg/tokengenerator"
	"github.com/veridian-id/trustcore/pkg/user"
	"github.com/veridian-id/trustcore/pkg/useragent"
)

// Dependencies holds the services the login flow orchestrates.
type Dependencies struct {
	Users     *user.UserService
	Otp       *otp.OtpService
	RateLimit *ratelimit.RateLimitService
	Trust     *device.TrustEngine
	Devices   *device.DeviceService
	Sessions  *sessions.SessionService
	Tokens    *tokengenerator.TokenService
	Risk      *risk.Analyzer
	Audit     audit.Sink
	Tx        TxRunner
}

// LoginFlowService orchestrates the multi-step login sequence: rate limit,
// fingerprint, risk gate, passcode check, device trust decision, session
// admission and token issuance.
type LoginFlowService struct {
	deps Dependencies
}

// NewLoginFlowService creates a login flow service. A nil Tx falls back to
// running without a transaction boundary.
func NewLoginFlowService(deps Dependencies) *LoginFlowService {
	if deps.Tx == nil {
		deps.Tx = NoopTxRunner{}
	}
	return &LoginFlowService{deps: deps}
}

// Request carries one login attempt.
type Request struct {
	Identifier  string
	Passcode    string
	IPAddress   string
	Fingerprint device.FingerprintData

	// SinceLastAttempt is the interval since this identifier's previous
	// attempt, when the transport layer knows it. Zero means unknown.
	SinceLastAttempt time.Duration

	Remember bool
}

// Result is a successful login.
type Result struct {
	User    user.User
	Device  device.Device
	Session sessions.Session

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	UserCreated   bool
	TrustDecision device.TrustDecision
	RiskLevel     risk.Level
}

// RefreshResult is a successful token renewal.
type RefreshResult struct {
	Session          sessions.Session
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

var (
	phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidateIdentifier checks the login identifier shape: E.164 phone number
// or a plausible email address.
func ValidateIdentifier(identifier string) error {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return idmerrors.InvalidInput("identifier", "must not be empty")
	}
	if phonePattern.MatchString(trimmed) || emailPattern.MatchString(trimmed) {
		return nil
	}
	return idmerrors.InvalidInput("identifier", "must be an E.164 phone number or email address")
}

// SendOtp validates the destination, applies the OTP rate limit and delivers
// a passcode.
func (f *LoginFlowService) SendOtp(ctx context.Context, destination string) error {
	if err := ValidateIdentifier(destination); err != nil {
		return err
	}
	if err := f.deps.RateLimit.CheckOtpSend(ctx, destination); err != nil {
		return err
	}
	if err := f.deps.Otp.SendPasscode(ctx, destination); err != nil {
		return idmerrors.Wrap(err, idmerrors.ErrCodeInternal, "failed to send passcode")
	}
	f.audit(ctx, audit.Event{Action: "otp_sent", Outcome: "success", Details: map[string]interface{}{"destination": destination}})
	return nil
}

// Login runs the full login sequence for one attempt. Everything that
// mutates device or session state executes inside one transaction.
func (f *LoginFlowService) Login(ctx context.Context, req Request) (Result, error) {
	if err := ValidateIdentifier(req.Identifier); err != nil {
		return Result{}, err
	}
	if err := f.deps.RateLimit.CheckLoginAttempts(ctx, req.Identifier); err != nil {
		return Result{}, err
	}

	// Pure analysis first: nothing below this block touches the store.
	parsed := useragent.Parse(req.Fingerprint.UserAgent)
	consistency := device.ValidateConsistency(req.Fingerprint, parsed)
	fp := device.GenerateFingerprint(req.Fingerprint, parsed)
	analysis := f.deps.Risk.Analyze(ctx, risk.Input{
		UserAgent:         req.Fingerprint.UserAgent,
		HeaderConsistency: consistency.Score,
		SinceLastAttempt:  req.SinceLastAttempt,
		IPAddress:         req.IPAddress,
	})

	if analysis.Reject() {
		f.audit(ctx, audit.Event{
			Action:    "login",
			Outcome:   "rejected_risk",
			IPAddress: req.IPAddress,
			Details: map[string]interface{}{
				"riskLevel": string(analysis.Level),
				"riskScore": analysis.Score,
				"patterns":  analysis.SuspiciousPatterns,
			},
		})
		return Result{}, idmerrors.DeviceRejected()
	}

	valid, err := f.deps.Otp.VerifyPasscode(ctx, req.Identifier, req.Passcode)
	if err != nil {
		return Result{}, idmerrors.Wrap(err, idmerrors.ErrCodeInternal, "failed to verify passcode")
	}
	if !valid {
		if err := f.deps.RateLimit.RecordFailedLogin(ctx, req.Identifier); err != nil {
			slog.Error("failed to record failed login", "error", err)
		}
		f.audit(ctx, audit.Event{Action: "login", Outcome: "invalid_passcode", IPAddress: req.IPAddress})
		return Result{}, idmerrors.New(idmerrors.ErrCodeOtpInvalid, "invalid or expired passcode")
	}

	var result Result
	err = f.deps.Tx.RunInTx(ctx, func(tx interface{}) error {
		users := f.deps.Users.WithTx(tx)
		trust := f.deps.Trust.WithTx(tx)
		admission := f.deps.Sessions.WithTx(tx)

		account, created, err := users.FindOrCreate(ctx, req.Identifier)
		if err != nil {
			return err
		}

		dev, decision, err := trust.Evaluate(ctx, account.ID, fp, analysis)
		if err != nil {
			return err
		}

		session, tokens, err := f.admitSession(ctx, admission, account, dev, req)
		if err != nil {
			return err
		}

		result = Result{
			User:             account,
			Device:           dev,
			Session:          session,
			AccessToken:      tokens.access,
			AccessExpiresAt:  tokens.accessExpiresAt,
			RefreshToken:     tokens.refresh,
			RefreshExpiresAt: tokens.refreshExpiresAt,
			UserCreated:      created,
			TrustDecision:    decision,
			RiskLevel:        analysis.Level,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	outcome := "success"
	if analysis.Audit() {
		outcome = "success_flagged"
	}
	f.audit(ctx, audit.Event{
		Action:    "login",
		Outcome:   outcome,
		UserID:    result.User.ID.String(),
		DeviceID:  result.Device.ID.String(),
		IPAddress: req.IPAddress,
		Details: map[string]interface{}{
			"riskLevel":     string(analysis.Level),
			"riskScore":     analysis.Score,
			"trustDecision": string(result.TrustDecision),
			"sessionID":     result.Session.ID.String(),
		},
	})
	return result, nil
}

type issuedTokens struct {
	access           string
	accessExpiresAt  time.Time
	refresh          string
	refreshExpiresAt time.Time
}

func (f *LoginFlowService) admitSession(ctx context.Context, admission *sessions.SessionService, account user.User, dev device.Device, req Request) (sessions.Session, issuedTokens, error) {
	sessionID := uuid.New()

	access, accessExp, err := f.deps.Tokens.IssueAccessToken(account.ID.String(), sessionID)
	if err != nil {
		return sessions.Session{}, issuedTokens{}, err
	}
	refresh, refreshExp, err := f.deps.Tokens.IssueRefreshToken(account.ID.String(), sessionID)
	if err != nil {
		return sessions.Session{}, issuedTokens{}, err
	}
	opaque, err := tokengenerator.NewSessionToken()
	if err != nil {
		return sessions.Session{}, issuedTokens{}, err
	}
	refreshHash, err := tokengenerator.HashRefreshToken(refresh)
	if err != nil {
		return sessions.Session{}, issuedTokens{}, err
	}

	deviceID := dev.ID
	session, err := admission.CreateSession(ctx, sessions.CreateSessionParams{
		ID:               sessionID,
		OwnerID:          account.ID,
		DeviceID:         &deviceID,
		Token:            opaque,
		AccessTokenHash:  tokengenerator.HashToken(access),
		RefreshTokenHash: refreshHash,
		IPAddress:        req.IPAddress,
		UserAgent:        req.Fingerprint.UserAgent,
		Remembered:       req.Remember,
	})
	if err != nil {
		return sessions.Session{}, issuedTokens{}, err
	}
	return session, issuedTokens{
		access:           access,
		accessExpiresAt:  accessExp,
		refresh:          refresh,
		refreshExpiresAt: refreshExp,
	}, nil
}

// Refresh renews the token pair for an active session.
func (f *LoginFlowService) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := f.deps.Tokens.ParseToken(refreshToken)
	if err != nil || claims.TokenType != tokengenerator.TokenTypeRefresh {
		return RefreshResult{}, idmerrors.New(idmerrors.ErrCodeTokenInvalid, "invalid refresh token")
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return RefreshResult{}, idmerrors.New(idmerrors.ErrCodeTokenInvalid, "invalid refresh token")
	}

	session, err := f.deps.Sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return RefreshResult{}, idmerrors.AuthFailed("unknown session")
	}
	if !tokengenerator.VerifyRefreshToken(session.RefreshTokenHash, refreshToken) {
		f.audit(ctx, audit.Event{Action: "refresh", Outcome: "hash_mismatch", UserID: session.OwnerID.String()})
		return RefreshResult{}, idmerrors.AuthFailed("refresh token does not match session")
	}

	access, accessExp, err := f.deps.Tokens.IssueAccessToken(session.OwnerID.String(), session.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	refresh, refreshExp, err := f.deps.Tokens.IssueRefreshToken(session.OwnerID.String(), session.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	refreshHash, err := tokengenerator.HashRefreshToken(refresh)
	if err != nil {
		return RefreshResult{}, err
	}

	updated, err := f.deps.Sessions.RefreshSession(ctx, session.ID, tokengenerator.HashToken(access), refreshHash)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionTerminated) {
			return RefreshResult{}, idmerrors.New(idmerrors.ErrCodeSessionExpired, "session terminated or expired")
		}
		return RefreshResult{}, err
	}

	return RefreshResult{
		Session:          updated,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout terminates the session behind the opaque token and blocks its
// device with reason logout, so the next login reactivates it trusted.
func (f *LoginFlowService) Logout(ctx context.Context, sessionToken string) error {
	session, err := f.deps.Sessions.GetSessionByToken(ctx, sessionToken)
	if err != nil {
		return idmerrors.AuthFailed("unknown session")
	}

	if err := f.deps.Sessions.TerminateSession(ctx, session.ID, sessions.TerminationLogout); err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	if session.DeviceID != nil {
		if _, err := f.deps.Devices.BlockDeviceByID(ctx, *session.DeviceID, device.BlockReasonLogout); err != nil {
			slog.Error("failed to block device on logout", "deviceID", *session.DeviceID, "error", err)
		}
	}

	f.audit(ctx, audit.Event{
		Action:  "logout",
		Outcome: "success",
		UserID:  session.OwnerID.String(),
		Details: map[string]interface{}{"sessionID": session.ID.String()},
	})
	return nil
}

func (f *LoginFlowService) audit(ctx context.Context, event audit.Event) {
	if f.deps.Audit != nil {
		f.deps.Audit.Record(ctx, event)
	}
}
