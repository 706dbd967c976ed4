package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/go-mail"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers messages to users. Implementations report delivery
// failure through the returned error; callers decide whether that failure
// is fatal for their flow.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// EmailConfig holds SMTP connection settings.
type EmailConfig struct {
	Host     string `env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" env-default:"no-reply@veridian.id"`
}

// EmailNotifier delivers messages over SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates an email notifier with the given SMTP settings
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// Send delivers one message over SMTP.
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
	}
	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		slog.Error("failed to send email", "to", msg.To, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	slog.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// MockNotifier records messages in memory for tests.
type MockNotifier struct {
	mu       sync.Mutex
	Messages []Message

	// FailNext makes the next Send return an error.
	FailNext bool
}

// NewMockNotifier creates a mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (n *MockNotifier) Send(ctx context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailNext {
		n.FailNext = false
		return fmt.Errorf("mock delivery failure")
	}
	n.Messages = append(n.Messages, msg)
	return nil
}

// Last returns the most recently sent message, or false when none exists.
func (n *MockNotifier) Last() (Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.Messages) == 0 {
		return Message{}, false
	}
	return n.Messages[len(n.Messages)-1], true
}
