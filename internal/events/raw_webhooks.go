package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Raw webhook sources.
const (
	SourceGoogleSheet = "google_sheet"
	SourceTally       = "TALLY"
)

// RawWebhook is the save-first copy of an inbound payload.
type RawWebhook struct {
	ID             uuid.UUID       `json:"id"`
	Source         string          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Processed      bool            `json:"processed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RawWebhookStore records every inbound webhook before interpretation.
type RawWebhookStore struct {
	pool rowQuerier
}

func NewRawWebhookStore(pool *pgxpool.Pool) *RawWebhookStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &RawWebhookStore{pool: pool}
}

func newRawWebhookStoreWithExec(exec rowQuerier) *RawWebhookStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &RawWebhookStore{pool: exec}
}

// ExistsByKey checks if a payload with this idempotency key was already stored.
func (s *RawWebhookStore) ExistsByKey(ctx context.Context, key string) (bool, error) {
	query := `SELECT 1 FROM raw_webhooks WHERE idempotency_key = $1`
	var exists int
	if err := s.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check raw webhook: %w", err)
	}
	return true, nil
}

// FindByKey loads the payload stored under an idempotency key.
func (s *RawWebhookStore) FindByKey(ctx context.Context, key string) (*RawWebhook, error) {
	query := `
		SELECT id, source, payload, idempotency_key, processed, created_at
		FROM raw_webhooks WHERE idempotency_key = $1
	`
	var w RawWebhook
	err := s.pool.QueryRow(ctx, query, key).Scan(&w.ID, &w.Source, &w.Payload, &w.IdempotencyKey, &w.Processed, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("events: find raw webhook: %w", err)
	}
	return &w, nil
}

// Insert stores a payload with processed=false. An empty key is stored as
// NULL. A key collision returns ErrDuplicateKey.
func (s *RawWebhookStore) Insert(ctx context.Context, source, key string, payload json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO raw_webhooks (id, source, payload, idempotency_key, processed)
		VALUES ($1, $2, $3, $4, FALSE)
	`
	if _, err := s.pool.Exec(ctx, query, id, source, payload, nullable(key)); err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrDuplicateKey
		}
		return uuid.Nil, fmt.Errorf("events: insert raw webhook: %w", err)
	}
	return id, nil
}

// Get loads one stored payload.
func (s *RawWebhookStore) Get(ctx context.Context, id uuid.UUID) (*RawWebhook, error) {
	query := `
		SELECT id, source, payload, idempotency_key, processed, created_at
		FROM raw_webhooks WHERE id = $1
	`
	var w RawWebhook
	err := s.pool.QueryRow(ctx, query, id).Scan(&w.ID, &w.Source, &w.Payload, &w.IdempotencyKey, &w.Processed, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("events: get raw webhook: %w", err)
	}
	return &w, nil
}

// SetProcessed flips the processed flag.
func (s *RawWebhookStore) SetProcessed(ctx context.Context, id uuid.UUID, processed bool) error {
	query := `UPDATE raw_webhooks SET processed = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.pool.Exec(ctx, query, processed, id); err != nil {
		return fmt.Errorf("events: set processed: %w", err)
	}
	return nil
}
