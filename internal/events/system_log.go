package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType classifies system log rows.
type EventType string

const (
	EventWebhookReceived     EventType = "WEBHOOK_RECEIVED"
	EventWebhookFailed       EventType = "WEBHOOK_FAILED"
	EventWebhookDuplicate    EventType = "WEBHOOK_DUPLICATE"
	EventParseSuccess        EventType = "PARSE_SUCCESS"
	EventParseFailed         EventType = "PARSE_FAILED"
	EventSMSSent             EventType = "SMS_SENT"
	EventSMSFailed           EventType = "SMS_FAILED"
	EventSMSWarning          EventType = "SMS_WARNING"
	EventSessionCreated      EventType = "SESSION_CREATED"
	EventSessionCancelled    EventType = "SESSION_CANCELLED"
	EventSessionRefunded     EventType = "SESSION_REFUNDED"
	EventSessionPostponed    EventType = "SESSION_POSTPONED"
	EventSlotConflict        EventType = "SLOT_CONFLICT"
	EventRefundAutoProcessed EventType = "REFUND_AUTO_PROCESSED"
	EventRefundMatchFailed   EventType = "REFUND_MATCH_FAILED"
	EventManualUserCreated   EventType = "MANUAL_USER_CREATED"
	EventWebhookReprocessed  EventType = "WEBHOOK_REPROCESSED"
	EventCronStarted         EventType = "CRON_STARTED"
	EventCronCompleted       EventType = "CRON_COMPLETED"
	EventSettlementLocked    EventType = "SETTLEMENT_LOCKED"
	EventSettlementUnlocked  EventType = "SETTLEMENT_UNLOCKED"
	EventSystemError         EventType = "SYSTEM_ERROR"
)

// Reprocessable reports whether a log row describes a sheet payload that can
// be fed back into the pipeline.
func (e EventType) Reprocessable() bool {
	s := string(e)
	return strings.HasPrefix(s, "WEBHOOK") || strings.HasPrefix(s, "PARSE")
}

// Log outcome labels.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusWarning = "WARNING"
)

// ProcessStatus tracks whether an operator still needs to look at a row.
type ProcessStatus string

const (
	ProcessSuccess  ProcessStatus = "SUCCESS"
	ProcessPending  ProcessStatus = "PENDING"
	ProcessResolved ProcessStatus = "RESOLVED"
	ProcessIgnored  ProcessStatus = "IGNORED"
)

// SystemLog is one operational audit row.
type SystemLog struct {
	ID            uuid.UUID     `json:"id"`
	EventType     EventType     `json:"event_type"`
	Status        string        `json:"status"`
	Message       string        `json:"message"`
	RawData       *string       `json:"raw_data,omitempty"`
	ProcessStatus ProcessStatus `json:"process_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// LogEntry is the input to SystemLogStore.Record.
type LogEntry struct {
	EventType     EventType
	Status        string
	Message       string
	RawData       any
	ProcessStatus ProcessStatus
}

// Success is shorthand for a SUCCESS row that needs no follow-up.
func Success(et EventType, message string, raw any) LogEntry {
	return LogEntry{EventType: et, Status: StatusSuccess, Message: message, RawData: raw, ProcessStatus: ProcessSuccess}
}

// Failure is shorthand for a FAILED row left PENDING for an operator.
func Failure(et EventType, message string, raw any) LogEntry {
	return LogEntry{EventType: et, Status: StatusFailed, Message: message, RawData: raw, ProcessStatus: ProcessPending}
}

// Warning is shorthand for a WARNING row left PENDING for an operator.
func Warning(et EventType, message string, raw any) LogEntry {
	return LogEntry{EventType: et, Status: StatusWarning, Message: message, RawData: raw, ProcessStatus: ProcessPending}
}

// SystemLogStore writes and reads system_logs.
type SystemLogStore struct {
	pool rowQuerier
}

func NewSystemLogStore(pool *pgxpool.Pool) *SystemLogStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &SystemLogStore{pool: pool}
}

func newSystemLogStoreWithExec(exec rowQuerier) *SystemLogStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &SystemLogStore{pool: exec}
}

// Record appends a row. Raw data that is not already a string is stored as JSON.
func (s *SystemLogStore) Record(ctx context.Context, e LogEntry) error {
	raw, err := encodeRaw(e.RawData)
	if err != nil {
		return err
	}
	if e.ProcessStatus == "" {
		e.ProcessStatus = ProcessSuccess
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	query := `
		INSERT INTO system_logs (id, event_type, status, message, raw_data, process_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), string(e.EventType), e.Status, e.Message, raw, string(e.ProcessStatus)); err != nil {
		return fmt.Errorf("events: insert system log: %w", err)
	}
	return nil
}

func encodeRaw(v any) (*string, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case string:
		return nullable(raw), nil
	case json.RawMessage:
		return nullable(string(raw)), nil
	case []byte:
		return nullable(string(raw)), nil
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("events: marshal raw data: %w", err)
		}
		str := string(data)
		return &str, nil
	}
}

// LogFilter narrows List.
type LogFilter struct {
	EventType     EventType
	ProcessStatus ProcessStatus
	Limit         int
}

// List returns the newest rows first.
func (s *SystemLogStore) List(ctx context.Context, f LogFilter) ([]SystemLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `
		SELECT id, event_type, status, message, raw_data, process_status, created_at
		FROM system_logs
		WHERE ($1 = '' OR event_type = $1) AND ($2 = '' OR process_status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, string(f.EventType), string(f.ProcessStatus), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("events: list system logs: %w", err)
	}
	defer rows.Close()

	var out []SystemLog
	for rows.Next() {
		var l SystemLog
		var et, ps string
		if err := rows.Scan(&l.ID, &et, &l.Status, &l.Message, &l.RawData, &ps, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan system log: %w", err)
		}
		l.EventType = EventType(et)
		l.ProcessStatus = ProcessStatus(ps)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Get loads a single row.
func (s *SystemLogStore) Get(ctx context.Context, id uuid.UUID) (*SystemLog, error) {
	query := `
		SELECT id, event_type, status, message, raw_data, process_status, created_at
		FROM system_logs WHERE id = $1
	`
	var l SystemLog
	var et, ps string
	err := s.pool.QueryRow(ctx, query, id).Scan(&l.ID, &et, &l.Status, &l.Message, &l.RawData, &ps, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("events: get system log: %w", err)
	}
	l.EventType = EventType(et)
	l.ProcessStatus = ProcessStatus(ps)
	return &l, nil
}

// SetProcessStatus marks a row as handled.
func (s *SystemLogStore) SetProcessStatus(ctx context.Context, id uuid.UUID, status ProcessStatus) error {
	query := `UPDATE system_logs SET process_status = $1 WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("events: update system log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
