package templates

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

	"github.com/creatus-team/v3/internal/messaging"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound is returned when a template id does not exist.
var ErrNotFound = errors.New("templates: not found")

// Trigger types.
const (
	TriggerEvent    = "EVENT"
	TriggerSchedule = "SCHEDULE"
)

// Template is one (event, recipient) message body.
type Template struct {
	ID            uuid.UUID           `json:"id"`
	EventType     string              `json:"event_type"`
	RecipientType messaging.Recipient `json:"recipient_type"`
	TriggerType   string              `json:"trigger_type"`
	Content       string              `json:"content"`
	DaysBefore    *int                `json:"days_before,omitempty"`
	SendTime      *string             `json:"send_time,omitempty"`
	IsActive      bool                `json:"is_active"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Store persists sms_templates and the sms_enabled setting.
type Store struct {
	pool rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("templates: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec rowQuerier) *Store {
	if exec == nil {
		panic("templates: exec required")
	}
	return &Store{pool: exec}
}

const templateColumns = `id, event_type, recipient_type, trigger_type, content, days_before, send_time, is_active, updated_at`

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Template, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("templates: query: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.EventType, (*string)(&t.RecipientType), &t.TriggerType, &t.Content, &t.DaysBefore, &t.SendTime, &t.IsActive, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("templates: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListActive returns the active templates for one event.
func (s *Store) ListActive(ctx context.Context, eventType string) ([]Template, error) {
	return s.query(ctx, `SELECT `+templateColumns+` FROM sms_templates
		WHERE event_type = $1 AND is_active = TRUE ORDER BY recipient_type`, eventType)
}

// ListSchedule returns every active schedule-triggered template.
func (s *Store) ListSchedule(ctx context.Context) ([]Template, error) {
	return s.query(ctx, `SELECT `+templateColumns+` FROM sms_templates
		WHERE trigger_type = 'SCHEDULE' AND is_active = TRUE ORDER BY event_type, recipient_type`)
}

// List returns all templates for the admin screen.
func (s *Store) List(ctx context.Context) ([]Template, error) {
	return s.query(ctx, `SELECT `+templateColumns+` FROM sms_templates ORDER BY event_type, recipient_type`)
}

// Upsert inserts or replaces the template for (event, recipient).
func (s *Store) Upsert(ctx context.Context, t Template) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.TriggerType == "" {
		t.TriggerType = TriggerEvent
	}
	query := `
		INSERT INTO sms_templates (id, event_type, recipient_type, trigger_type, content, days_before, send_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_type, recipient_type) DO UPDATE
		SET trigger_type = EXCLUDED.trigger_type,
			content = EXCLUDED.content,
			days_before = EXCLUDED.days_before,
			send_time = EXCLUDED.send_time,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, t.ID, t.EventType, string(t.RecipientType), t.TriggerType, t.Content, t.DaysBefore, t.SendTime, t.IsActive).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("templates: upsert: %w", err)
	}
	return id, nil
}

// Update edits the content and schedule of one template.
func (s *Store) Update(ctx context.Context, t Template) error {
	query := `
		UPDATE sms_templates
		SET content = $2, is_active = $3, days_before = $4, send_time = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, t.ID, t.Content, t.IsActive, t.DaysBefore, t.SendTime)
	if err != nil {
		return fmt.Errorf("templates: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const settingsKey = "sms_enabled"

// LoadSettings reads the per-recipient toggles. A missing row yields DefaultSettings.
func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, settingsKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("templates: load settings: %w", err)
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("templates: decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings replaces the toggles.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("templates: encode settings: %w", err)
	}
	query := `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, settingsKey, raw); err != nil {
		return fmt.Errorf("templates: save settings: %w", err)
	}
	return nil
}
