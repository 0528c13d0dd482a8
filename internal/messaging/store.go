package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SMS log states.
const (
	LogPending   = "PENDING"
	LogSent      = "SENT"
	LogFailed    = "FAILED"
	LogDelivered = "DELIVERED"
)

// SMSLog is one outbound message attempt.
type SMSLog struct {
	ID                uuid.UUID `json:"id"`
	RecipientPhone    string    `json:"recipient_phone"`
	RecipientType     Recipient `json:"recipient_type"`
	Content           string    `json:"message_content"`
	Status            string    `json:"status"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists sms_logs rows.
type Store struct {
	pool Querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("messaging: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(q Querier) *Store {
	if q == nil {
		panic("messaging: querier required")
	}
	return &Store{pool: q}
}

// Insert appends one send attempt.
func (s *Store) Insert(ctx context.Context, rec SMSLog) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO sms_logs (id, recipient_phone, recipient_type, message_content, status, provider_message_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query, rec.ID, rec.RecipientPhone, string(rec.RecipientType), rec.Content, rec.Status, rec.ProviderMessageID, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("messaging: insert sms log: %w", err)
	}
	return nil
}

// ListRefreshable returns the given rows, or when ids is empty the latest
// SENT rows that carry a provider id.
func (s *Store) ListRefreshable(ctx context.Context, ids []uuid.UUID, limit int) ([]SMSLog, error) {
	base := `SELECT id, recipient_phone, recipient_type, message_content, status, provider_message_id, error_message, created_at FROM sms_logs`
	var (
		rows pgx.Rows
		err  error
	)
	if len(ids) > 0 {
		rows, err = s.pool.Query(ctx, base+` WHERE id = ANY($1) AND provider_message_id IS NOT NULL`, ids)
	} else {
		if limit <= 0 {
			limit = 50
		}
		rows, err = s.pool.Query(ctx, base+` WHERE status = 'SENT' AND provider_message_id IS NOT NULL ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: list sms logs: %w", err)
	}
	defer rows.Close()

	var out []SMSLog
	for rows.Next() {
		var rec SMSLog
		if err := rows.Scan(&rec.ID, &rec.RecipientPhone, (*string)(&rec.RecipientType), &rec.Content, &rec.Status, &rec.ProviderMessageID, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan sms log: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStatus sets the delivery state of one row.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	query := `UPDATE sms_logs SET status = $2, error_message = COALESCE($3, error_message), updated_at = NOW() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, status, errMsg); err != nil {
		return fmt.Errorf("messaging: update sms log status: %w", err)
	}
	return nil
}
