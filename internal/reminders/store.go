package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyRecorded is returned when the (session, date, type) row exists.
var ErrAlreadyRecorded = errors.New("reminders: already recorded")

const uniqueViolation = "23505"

// Status is the outcome stored on a reminder_logs row.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// TypeCoachBriefing is the reminder type of the coach day briefing.
const TypeCoachBriefing = "COACH_BRIEFING"

// TypeFor returns the reminder type of a D-n reminder.
func TypeFor(daysBefore int) string {
	return fmt.Sprintf("D%d", daysBefore)
}

// Entry is one reminder_logs row.
type Entry struct {
	SessionID uuid.UUID
	Date      time.Time
	Type      string
	Status    Status
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists reminder_logs, the at-most-once ledger of scheduled sends.
type Store struct {
	db execer
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("reminders: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec execer) *Store {
	if exec == nil {
		panic("reminders: exec required")
	}
	return &Store{db: exec}
}

// Claim inserts the PENDING row for e's occurrence before anything is sent.
// The unique (session, date, type) constraint makes this the at-most-once
// boundary: a second claim fails with ErrAlreadyRecorded.
func (s *Store) Claim(ctx context.Context, e Entry) error {
	query := `INSERT INTO reminder_logs (id, session_id, remind_date, reminder_type, status)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, query, uuid.New(), e.SessionID, e.Date, e.Type, string(StatusPending))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("reminders: claim log: %w", err)
	}
	return nil
}

// SetStatus stores the send outcome on a claimed row.
func (s *Store) SetStatus(ctx context.Context, e Entry) error {
	query := `UPDATE reminder_logs SET status = $4
		WHERE session_id = $1 AND remind_date = $2 AND reminder_type = $3`
	tag, err := s.db.Exec(ctx, query, e.SessionID, e.Date, e.Type, string(e.Status))
	if err != nil {
		return fmt.Errorf("reminders: update log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: no log row for %s %s", e.Type, e.SessionID)
	}
	return nil
}
