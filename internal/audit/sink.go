package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// PostgresSink appends events to the audit_events table
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink over a migrated database
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write implements Sink
func (s *PostgresSink) Write(ctx context.Context, e *domain.AuditEvent) error {
	var data any
	if len(e.Data) > 0 {
		data = []byte(e.Data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, timestamp, user_id, description, data, ip_address, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Type, e.Severity, e.Timestamp, e.UserID, e.Description, data, e.IPAddress, e.Component)
	return err
}

// Events implements Sink
func (s *PostgresSink) Events(ctx context.Context, f *EventFilter) ([]*domain.AuditEvent, error) {
	query := `SELECT id, type, severity, timestamp, user_id, description, data, COALESCE(ip_address, ''), component
			  FROM audit_events WHERE 1=1`
	args := []any{}
	paramIdx := 1

	if f != nil {
		if f.UserID != "" {
			query += fmt.Sprintf(" AND user_id = $%d", paramIdx)
			args = append(args, f.UserID)
			paramIdx++
		}
		if f.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", paramIdx)
			args = append(args, f.Type)
			paramIdx++
		}
		if !f.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", paramIdx)
			args = append(args, f.From)
			paramIdx++
		}
		if !f.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", paramIdx)
			args = append(args, f.To)
			paramIdx++
		}
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", paramIdx)
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var userID sql.NullString
		var data []byte

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&userID, &event.Description, &data, &event.IPAddress, &event.Component)
		if err != nil {
			return nil, err
		}
		if userID.Valid {
			event.UserID = &userID.String
		}
		if len(data) > 0 {
			event.Data = json.RawMessage(data)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// LogSink writes events to the structured log and keeps the most recent
// ones in memory for queries. It backs deployments without Postgres.
type LogSink struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
	max    int
}

// NewLogSink keeps up to max events in memory
func NewLogSink(max int) *LogSink {
	if max <= 0 {
		max = 1000
	}
	return &LogSink{max: max}
}

// Write implements Sink
func (s *LogSink) Write(_ context.Context, e *domain.AuditEvent) error {
	fields := log.Fields{
		"audit_id":  e.ID,
		"type":      e.Type,
		"severity":  e.Severity,
		"component": e.Component,
	}
	if e.UserID != nil {
		fields["user_id"] = *e.UserID
	}
	if len(e.Data) > 0 {
		fields["data"] = string(e.Data)
	}
	entry := log.WithFields(fields)
	switch e.Severity {
	case domain.SeverityCritical, domain.SeverityError:
		entry.Error(e.Description)
	case domain.SeverityWarning:
		entry.Warn(e.Description)
	default:
		entry.Info(e.Description)
	}

	c := *e
	s.mu.Lock()
	s.events = append(s.events, &c)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	s.mu.Unlock()
	return nil
}

// Events implements Sink
func (s *LogSink) Events(_ context.Context, f *EventFilter) ([]*domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.AuditEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < f.limit(); i-- {
		e := s.events[i]
		if f != nil {
			if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
				continue
			}
			if f.Type != "" && e.Type != f.Type {
				continue
			}
			if !f.From.IsZero() && e.Timestamp.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && e.Timestamp.After(f.To) {
				continue
			}
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}
