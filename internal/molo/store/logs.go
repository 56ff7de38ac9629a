package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Molo/common/trace"
)

// Message log directions. Beyond plain inbound/outbound, some sends are
// recorded under a named event kind so compliance reviews can find them.
const (
	DirectionInbound     = "inbound"
	DirectionOutbound    = "outbound"
	DirectionPopiaNotice = "popia_notice_sent"
)

// Security audit event types.
const (
	EventDeleteRequested = "DATA_DELETE_REQUESTED"
	EventDeleteCompleted = "DATA_DELETE_COMPLETED"
)

// MessageLogEntry is one row of the append-only message log.
type MessageLogEntry struct {
	ID         int64
	WhatsAppID string
	Direction  string
	Content    string
	DataSizeKB float64
	Timestamp  time.Time
}

// LogMessage appends a message log entry. The log is write-only from the
// bot's perspective; it exists for usage accounting and compliance.
func (s *Store) LogMessage(ctx context.Context, whatsappID, direction, content string, sizeKB float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_logs (whatsapp_id, direction, content, data_size_kb, ts)
		VALUES (?, ?, ?, ?, ?)
	`, whatsappID, direction, content, sizeKB, time.Now())
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// ListMessages returns a user's message log entries, oldest first. Used only
// by tests and operational tooling; the bot never reads the log.
func (s *Store) ListMessages(ctx context.Context, whatsappID string) ([]*MessageLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, whatsapp_id, direction, content, data_size_kb, ts
		FROM message_logs
		WHERE whatsapp_id = ?
		ORDER BY id ASC
	`, whatsappID)
	if err != nil {
		return nil, fmt.Errorf("failed to query message logs: %w", err)
	}
	defer rows.Close()

	var entries []*MessageLogEntry
	for rows.Next() {
		e := &MessageLogEntry{}
		if err := rows.Scan(&e.ID, &e.WhatsAppID, &e.Direction, &e.Content, &e.DataSizeKB, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message logs: %w", err)
	}
	return entries, nil
}

// SecurityLogEntry is one row of the security audit log.
type SecurityLogEntry struct {
	EventID     string
	WhatsAppID  string
	EventType   string
	TraceID     sql.NullString
	DetailsJSON sql.NullString
	Timestamp   time.Time
}

// WriteSecurityLog records a security-relevant event (delete requested /
// completed). The trace ID is taken from ctx when present.
func (s *Store) WriteSecurityLog(ctx context.Context, whatsappID, eventType string, details map[string]any) error {
	var detailsJSON sql.NullString
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal security log details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var traceID sql.NullString
	if tid := trace.FromContext(ctx); tid != "" {
		traceID = sql.NullString{String: tid, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_logs (event_id, whatsapp_id, event_type, trace_id, details_json, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), whatsappID, eventType, traceID, detailsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write security log: %w", err)
	}
	return nil
}

// ListSecurityLogs returns a user's security log entries, oldest first.
func (s *Store) ListSecurityLogs(ctx context.Context, whatsappID string) ([]*SecurityLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, whatsapp_id, event_type, trace_id, details_json, ts
		FROM security_logs
		WHERE whatsapp_id = ?
		ORDER BY ts ASC, event_id ASC
	`, whatsappID)
	if err != nil {
		return nil, fmt.Errorf("failed to query security logs: %w", err)
	}
	defer rows.Close()

	var entries []*SecurityLogEntry
	for rows.Next() {
		e := &SecurityLogEntry{}
		if err := rows.Scan(&e.EventID, &e.WhatsAppID, &e.EventType, &e.TraceID, &e.DetailsJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan security log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security logs: %w", err)
	}
	return entries, nil
}
