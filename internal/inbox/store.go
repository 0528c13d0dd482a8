// Package inbox holds webhook payloads the pipeline could not reconcile and
// the operator actions that resolve them.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("inbox: item not found")

// ErrorType classifies why an item landed in the inbox.
type ErrorType string

const (
	ErrorParseFailed       ErrorType = "PARSE_FAILED"
	ErrorSlotConflict      ErrorType = "SLOT_CONFLICT"
	ErrorRefundMatchFailed ErrorType = "REFUND_MATCH_FAILED"
	ErrorTallyMatchFailed  ErrorType = "TALLY_MATCH_FAILED"
)

// Status is the manual resolution state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusResolved Status = "RESOLVED"
	StatusIgnored  Status = "IGNORED"
)

// Valid reports whether s is a known resolution status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusResolved || s == StatusIgnored
}

// Item is one inbox row, joined with the stored payload when it has one.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	RawWebhookID *uuid.UUID      `json:"raw_webhook_id,omitempty"`
	RawText      string          `json:"raw_text"`
	ErrorMessage string          `json:"error_message"`
	ErrorType    ErrorType       `json:"error_type"`
	Status       Status          `json:"manual_resolution_status"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Meta decodes the metadata object. Missing metadata yields an empty map.
func (it *Item) Meta() map[string]any {
	out := map[string]any{}
	if len(it.Metadata) > 0 {
		_ = json.Unmarshal(it.Metadata, &out)
	}
	return out
}

// Entry is a new inbox row.
type Entry struct {
	RawWebhookID *uuid.UUID
	RawText      string
	ErrorMessage string
	ErrorType    ErrorType
	Metadata     map[string]any
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists ingestion_inbox rows.
type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("inbox: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(d querier) *Store {
	return &Store{db: d}
}

func encodeMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("inbox: marshal metadata: %w", err)
	}
	return data, nil
}

// Create inserts a PENDING row.
func (s *Store) Create(ctx context.Context, e Entry) (uuid.UUID, error) {
	meta, err := encodeMeta(e.Metadata)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	query := `
		INSERT INTO ingestion_inbox (id, raw_webhook_id, raw_text, error_message, error_type, manual_resolution_status, metadata)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
	`
	if _, err := s.db.Exec(ctx, query, id, e.RawWebhookID, e.RawText, e.ErrorMessage, string(e.ErrorType), meta); err != nil {
		return uuid.Nil, fmt.Errorf("inbox: insert item: %w", err)
	}
	return id, nil
}

const itemSelect = `
	SELECT i.id, i.raw_webhook_id, i.raw_text, i.error_message, i.error_type, i.manual_resolution_status,
		i.metadata, i.created_at, w.payload
	FROM ingestion_inbox i
	LEFT JOIN raw_webhooks w ON w.id = i.raw_webhook_id
`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var errType, status string
	var meta, payload []byte
	if err := row.Scan(&it.ID, &it.RawWebhookID, &it.RawText, &it.ErrorMessage, &errType, &status,
		&meta, &it.CreatedAt, &payload); err != nil {
		return nil, err
	}
	it.ErrorType = ErrorType(errType)
	it.Status = Status(status)
	if len(meta) > 0 {
		it.Metadata = meta
	}
	if len(payload) > 0 {
		it.Payload = payload
	}
	return &it, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(ctx, itemSelect+` WHERE i.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inbox: get item: %w", err)
	}
	return it, nil
}

// List returns items newest first. An empty status lists every item.
func (s *Store) List(ctx context.Context, status Status) ([]Item, error) {
	rows, err := s.db.Query(ctx, itemSelect+` WHERE ($1 = '' OR i.manual_resolution_status = $1) ORDER BY i.created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("inbox: list items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("inbox: scan item: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// SetStatus updates the resolution status and merges meta into the stored metadata.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, meta map[string]any) error {
	patch, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	query := `
		UPDATE ingestion_inbox
		SET manual_resolution_status = $2,
			metadata = CASE WHEN $3::jsonb IS NULL THEN metadata ELSE COALESCE(metadata, '{}'::jsonb) || $3::jsonb END,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, string(status), patch)
	if err != nil {
		return fmt.Errorf("inbox: update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
