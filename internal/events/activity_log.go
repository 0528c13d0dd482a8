package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionType classifies user activity rows.
type ActionType string

const (
	ActionEnroll         ActionType = "ENROLL"
	ActionRenewal        ActionType = "RENEWAL"
	ActionCancel         ActionType = "CANCEL"
	ActionRefund         ActionType = "REFUND"
	ActionPostpone       ActionType = "POSTPONE"
	ActionEarlyTerminate ActionType = "EARLY_TERMINATE"
	ActionEdit           ActionType = "EDIT"
	ActionSlotTimeChange ActionType = "SLOT_TIME_CHANGE"
	ActionUserMerge      ActionType = "USER_MERGE"
)

// Activity is one row of a student's history.
type Activity struct {
	UserID    uuid.UUID
	SessionID *uuid.UUID
	Action    ActionType
	Reason    string
	Metadata  map[string]any
}

// ActivityLogStore appends to user_activity_logs.
type ActivityLogStore struct {
	pool rowQuerier
}

func NewActivityLogStore(pool *pgxpool.Pool) *ActivityLogStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ActivityLogStore{pool: pool}
}

func newActivityLogStoreWithExec(exec rowQuerier) *ActivityLogStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ActivityLogStore{pool: exec}
}

// Record appends an activity row.
func (s *ActivityLogStore) Record(ctx context.Context, a Activity) error {
	var meta []byte
	if a.Metadata != nil {
		var err error
		meta, err = json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("events: marshal activity metadata: %w", err)
		}
	}
	query := `
		INSERT INTO user_activity_logs (id, user_id, session_id, action_type, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), a.UserID, a.SessionID, string(a.Action), nullable(a.Reason), meta); err != nil {
		return fmt.Errorf("events: insert activity: %w", err)
	}
	return nil
}

// ReassignUser moves every activity row from one user to another.
func (s *ActivityLogStore) ReassignUser(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE user_activity_logs SET user_id = $1 WHERE user_id = $2`, to, from)
	if err != nil {
		return 0, fmt.Errorf("events: reassign activity: %w", err)
	}
	return tag.RowsAffected(), nil
}
