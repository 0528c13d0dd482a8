package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeLogStore records field-level edits made by operators.
type ChangeLogStore struct {
	pool rowQuerier
}

func NewChangeLogStore(pool *pgxpool.Pool) *ChangeLogStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ChangeLogStore{pool: pool}
}

func newChangeLogStoreWithExec(exec rowQuerier) *ChangeLogStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ChangeLogStore{pool: exec}
}

// FieldChange is one differing field.
type FieldChange struct {
	Field    string
	OldValue *string
	NewValue *string
}

// Diff compares the listed fields of two snapshots. Values are compared by
// their printed form; a missing key and a nil value are the same.
func Diff(before, after map[string]any, fields []string) []FieldChange {
	var out []FieldChange
	for _, f := range fields {
		oldV := printable(before[f])
		newV := printable(after[f])
		if equalPtr(oldV, newV) {
			continue
		}
		out = append(out, FieldChange{Field: f, OldValue: oldV, NewValue: newV})
	}
	return out
}

// RecordChanges writes one row per changed field and returns how many were written.
func (s *ChangeLogStore) RecordChanges(ctx context.Context, table string, recordID uuid.UUID, before, after map[string]any, fields []string) (int, error) {
	changes := Diff(before, after, fields)
	query := `
		INSERT INTO change_logs (id, table_name, record_id, field_name, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, c := range changes {
		if _, err := s.pool.Exec(ctx, query, uuid.New(), table, recordID, c.Field, c.OldValue, c.NewValue); err != nil {
			return 0, fmt.Errorf("events: insert change log %s.%s: %w", table, c.Field, err)
		}
	}
	return len(changes), nil
}

func printable(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		return x
	default:
		s := fmt.Sprint(x)
		return &s
	}
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
