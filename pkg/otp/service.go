package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/veridian-id/trustcore/pkg/notification"
)

const (
	totpIssuer = "veridian-id"
	totpSkew   = 1

	// One passcode stays valid for five minutes plus one period of skew.
	totpPeriod = 300
)

// OtpService issues and verifies time-based login passcodes. Each login
// identifier gets its own secret, created lazily on first issue.
type OtpService struct {
	secrets  SecretRepository
	notifier notification.Notifier
	now      func() time.Time
}

// NewOtpService creates an OTP service with the given secret repository and
// notifier.
func NewOtpService(secrets SecretRepository, notifier notification.Notifier) *OtpService {
	return &OtpService{
		secrets:  secrets,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *OtpService) WithClock(now func() time.Time) *OtpService {
	s.now = now
	return s
}

// IssuePasscode generates the current passcode for the identifier, creating
// the secret on first use.
func (s *OtpService) IssuePasscode(ctx context.Context, identifier string) (string, error) {
	secret, err := s.getOrCreateSecret(ctx, identifier)
	if err != nil {
		return "", err
	}

	code, err := totp.GenerateCodeCustom(secret.Secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate passcode: %w", err)
	}
	return code, nil
}

// SendPasscode issues the current passcode and delivers it to the
// destination via the notifier.
func (s *OtpService) SendPasscode(ctx context.Context, destination string) error {
	code, err := s.IssuePasscode(ctx, destination)
	if err != nil {
		return err
	}

	err = s.notifier.Send(ctx, notification.Message{
		To:      destination,
		Subject: "Your sign-in code",
		Body:    fmt.Sprintf("Your sign-in code is %s. It expires in 5 minutes.", code),
	})
	if err != nil {
		return fmt.Errorf("failed to deliver passcode: %w", err)
	}
	slog.Info("passcode sent", "destination", destination)
	return nil
}

// VerifyPasscode checks a passcode for the identifier. An identifier with no
// secret yet never verifies.
func (s *OtpService) VerifyPasscode(ctx context.Context, identifier, passcode string) (bool, error) {
	secret, err := s.secrets.GetSecret(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load otp secret: %w", err)
	}

	valid, err := totp.ValidateCustom(passcode, secret.Secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate passcode: %w", err)
	}
	return valid, nil
}

func (s *OtpService) getOrCreateSecret(ctx context.Context, identifier string) (Secret, error) {
	secret, err := s.secrets.GetSecret(ctx, identifier)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return Secret{}, fmt.Errorf("failed to load otp secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: identifier,
	})
	if err != nil {
		return Secret{}, fmt.Errorf("failed to generate otp secret: %w", err)
	}

	created, err := s.secrets.CreateSecret(ctx, Secret{
		Identifier: identifier,
		Secret:     key.Secret(),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return Secret{}, fmt.Errorf("failed to store otp secret: %w", err)
	}
	slog.Info("otp secret created", "identifier", identifier)
	return created, nil
}
