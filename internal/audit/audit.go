// Package audit records significant events: big wins, gate denials, RNG
// and integrity failures, aborted rounds and operator actions.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Event types
const (
	EventAccountOpened    = "account_opened"
	EventGuestReset       = "guest_reset"
	EventKYCChanged       = "kyc_changed"
	EventBigWin           = "big_win"
	EventLocationDenied   = "location_denied"
	EventRNGFailure       = "rng_failure"
	EventRNGHealthCheck   = "rng_health_check"
	EventIntegrityFailure = "integrity_failure"
	EventRoundAborted     = "round_aborted"
	EventRoundStale       = "round_stale"
	EventDemoFallback     = "demo_rng_fallback"
	EventGamingDisabled   = "gaming_disabled"
	EventGamingEnabled    = "gaming_enabled"
	EventGameDisabled     = "game_disabled"
	EventGameEnabled      = "game_enabled"
	EventSystemError      = "system_error"
	EventLimitChanged     = "limit_changed"
	EventSelfExclusion    = "self_exclusion"
)

// Sink persists events
type Sink interface {
	Write(ctx context.Context, e *domain.AuditEvent) error
	Events(ctx context.Context, f *EventFilter) ([]*domain.AuditEvent, error)
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	UserID string
	Type   string
	From   time.Time
	To     time.Time
	Limit  int
}

func (f *EventFilter) limit() int {
	if f == nil || f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Service provides audit logging functionality
type Service struct {
	sink Sink
}

// New creates a new audit service
func New(sink Sink) *Service {
	return &Service{sink: sink}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = "rgs"
	}
	return s.sink.Write(ctx, event)
}

// Log is a convenience method for logging events. Failures to persist are
// logged and returned.
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data any, opts ...EventOption) error {
	event := &domain.AuditEvent{
		Type:        eventType,
		Severity:    severity,
		Description: description,
	}
	if data != nil {
		if jsonData, err := json.Marshal(data); err == nil {
			event.Data = jsonData
		}
	}
	for _, opt := range opts {
		opt(event)
	}

	if err := s.LogEvent(ctx, event); err != nil {
		log.WithError(err).WithField("type", eventType).Error("Failed to record audit event")
		return err
	}
	return nil
}

// Events retrieves audit events, newest first
func (s *Service) Events(ctx context.Context, f *EventFilter) ([]*domain.AuditEvent, error) {
	return s.sink.Events(ctx, f)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithUser sets the user ID for the event
func WithUser(userID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.UserID = &userID
	}
}

// WithIP sets the IP address for the event
func WithIP(ip string) EventOption {
	return func(e *domain.AuditEvent) {
		e.IPAddress = ip
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}
