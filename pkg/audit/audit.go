package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is a single append-only audit record. Fields beyond Action/Outcome
// are optional and carried as structured details.
type Event struct {
	Action     string                 `json:"action"`
	Outcome    string                 `json:"outcome"`
	UserID     string                 `json:"user_id,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Sink records audit events. Implementations must be best-effort: a failing
// sink never blocks or fails the calling flow.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SlogSink writes audit events as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink. A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	attrs := []any{
		"action", event.Action,
		"outcome", event.Outcome,
		"occurredAt", event.OccurredAt.Format(time.RFC3339),
	}
	if event.UserID != "" {
		attrs = append(attrs, "userID", event.UserID)
	}
	if event.DeviceID != "" {
		attrs = append(attrs, "deviceID", event.DeviceID)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip", event.IPAddress)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	Events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	s.Events = append(s.Events, event)
}

// Find returns the recorded events with the given action.
func (s *MemorySink) Find(action string) []Event {
	var out []Event
	for _, e := range s.Events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
