package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatus-team/v3/internal/schedule"
)

// db is the pgx surface shared by pgxpool.Pool, pgx.Tx and pgxmock.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const exclusionViolation = "23P01"

func isSlotOverlap(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

// Store persists users, coaches, slots, sessions and postponements.
type Store struct {
	db db
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("sessions: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(d db) *Store {
	if d == nil {
		panic("sessions: db required")
	}
	return &Store{db: d}
}

// Repository is the session persistence surface used by the services.
// *Store implements it; sessionstest.Memory is the in-memory double.
type Repository interface {
	FindUserByPhone(ctx context.Context, phone string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	FindOrCreateUser(ctx context.Context, name, phone, email string) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	FindCoachByName(ctx context.Context, name string) (*Coach, error)
	GetCoach(ctx context.Context, id uuid.UUID) (*Coach, error)

	FindActiveSlot(ctx context.Context, coachID uuid.UUID, day schedule.Day, startTime string) (*Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	SaveSlot(ctx context.Context, sl *Slot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	CreateSession(ctx context.Context, ss *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetView(ctx context.Context, id uuid.UUID) (*View, error)
	OccupyingOnSlot(ctx context.Context, slotID uuid.UUID) ([]Session, error)
	OccupyingByUser(ctx context.Context, userID uuid.UUID) ([]View, error)
	OccupyingByUserCoachDay(ctx context.Context, userID, coachID uuid.UUID, day schedule.Day) ([]View, error)
	Terminate(ctx context.Context, id uuid.UUID, t Termination) error
	UpdateEndDate(ctx context.Context, id uuid.UUID, end time.Time) error
	ActivateDue(ctx context.Context, today time.Time) (int64, error)
	ExpireDue(ctx context.Context, today time.Time) (int64, error)
	ListSettled(ctx context.Context, from, to time.Time) ([]View, error)
	ListActiveOn(ctx context.Context, date time.Time) ([]View, error)
	RescheduleSlotSessions(ctx context.Context, slotID uuid.UUID, day schedule.Day, startTime string) (int64, error)
	ReassignSessions(ctx context.Context, from, to uuid.UUID) (int64, error)

	ListPostponements(ctx context.Context, sessionID uuid.UUID) ([]Postponement, error)
	InsertPostponements(ctx context.Context, sessionID uuid.UUID, dates []time.Time, reason string) error
	PostponedDates(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error)

	InTx(ctx context.Context, fn func(tx Repository) error) error
}

var _ Repository = (*Store)(nil)

// InTx runs fn against a store bound to one transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sessions: commit tx: %w", err)
	}
	return nil
}

const userColumns = `id, name, phone, email, memo, is_manual_entry, manual_entry_reason, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.Memo, &u.IsManualEntry, &u.ManualEntryReason, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindUserByPhone looks a student up by normalized phone.
func (s *Store) FindUserByPhone(ctx context.Context, phone string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: find user by phone: %w", err)
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: get user: %w", err)
	}
	return u, err
}

// FindOrCreateUser returns the user owning phone, creating it on first sight.
// An existing user's name is left untouched.
func (s *Store) FindOrCreateUser(ctx context.Context, name, phone, email string) (*User, error) {
	query := `
		INSERT INTO users (id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) DO UPDATE SET updated_at = NOW()
		RETURNING ` + userColumns
	var emailArg *string
	if email != "" {
		emailArg = &email
	}
	u, err := scanUser(s.db.QueryRow(ctx, query, uuid.New(), name, phone, emailArg))
	if err != nil {
		return nil, fmt.Errorf("sessions: find or create user: %w", err)
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("sessions: delete user: %w", err)
	}
	return nil
}

const coachColumns = `id, name, phone, grade, bank_account, max_slots`

func scanCoach(row pgx.Row) (*Coach, error) {
	var c Coach
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, (*string)(&c.Grade), &c.BankAccount, &c.MaxSlots); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCoachByName resolves a coach by exact name.
func (s *Store) FindCoachByName(ctx context.Context, name string) (*Coach, error) {
	c, err := scanCoach(s.db.QueryRow(ctx, `SELECT `+coachColumns+` FROM coaches WHERE name = $1`, name))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: find coach: %w", err)
	}
	return c, err
}

func (s *Store) GetCoach(ctx context.Context, id uuid.UUID) (*Coach, error) {
	c, err := scanCoach(s.db.QueryRow(ctx, `SELECT `+coachColumns+` FROM coaches WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: get coach: %w", err)
	}
	return c, err
}

const slotColumns = `id, coach_id, day_of_week, start_time, end_time, open_chat_link, is_active`

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	if err := row.Scan(&sl.ID, &sl.CoachID, (*string)(&sl.Day), &sl.StartTime, &sl.EndTime, &sl.OpenChatLink, &sl.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sl, nil
}

// FindActiveSlot resolves the active slot for (coach, day, start time).
func (s *Store) FindActiveSlot(ctx context.Context, coachID uuid.UUID, day schedule.Day, startTime string) (*Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM coach_slots
		WHERE coach_id = $1 AND day_of_week = $2 AND start_time = $3 AND is_active = TRUE`
	sl, err := scanSlot(s.db.QueryRow(ctx, query, coachID, string(day), startTime))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: find slot: %w", err)
	}
	return sl, err
}

func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := scanSlot(s.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM coach_slots WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: get slot: %w", err)
	}
	return sl, err
}

// SaveSlot writes the mutable slot fields.
func (s *Store) SaveSlot(ctx context.Context, sl *Slot) error {
	query := `
		UPDATE coach_slots
		SET day_of_week = $2, start_time = $3, end_time = $4, open_chat_link = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, sl.ID, string(sl.Day), sl.StartTime, sl.EndTime, sl.OpenChatLink, sl.IsActive)
	if err != nil {
		return fmt.Errorf("sessions: save slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM coach_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessions: delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `s.id, s.user_id, s.coach_id, s.slot_id, s.day_of_week, s.start_time, s.start_date, s.end_date,
	s.extension_count, s.status, s.cancelled_at, s.cancellation_reason, s.early_terminated_at,
	s.early_termination_reason, s.payment_amount, s.payment_date, s.product_name, s.created_at`

const viewColumns = sessionColumns + `, u.name, u.phone, c.name, c.phone, c.grade, sl.open_chat_link`

const viewFrom = `sessions s
	JOIN users u ON u.id = s.user_id
	JOIN coaches c ON c.id = s.coach_id
	JOIN coach_slots sl ON sl.id = s.slot_id`

func sessionDest(ss *Session) []any {
	return []any{
		&ss.ID, &ss.UserID, &ss.CoachID, &ss.SlotID, (*string)(&ss.Day), &ss.StartTime, &ss.StartDate, &ss.EndDate,
		&ss.ExtensionCount, (*string)(&ss.Status), &ss.CancelledAt, &ss.CancellationReason, &ss.EarlyTerminatedAt,
		&ss.EarlyTerminationReason, &ss.PaymentAmount, &ss.PaymentDate, &ss.ProductName, &ss.CreatedAt,
	}
}

func scanSession(row pgx.Row) (*Session, error) {
	var ss Session
	if err := row.Scan(sessionDest(&ss)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ss, nil
}

func scanView(row pgx.Row) (*View, error) {
	var v View
	dest := append(sessionDest(&v.Session), &v.UserName, &v.UserPhone, &v.CoachName, &v.CoachPhone, (*string)(&v.CoachGrade), &v.OpenChatLink)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ss)
	}
	return out, rows.Err()
}

func collectViews(rows pgx.Rows) ([]View, error) {
	defer rows.Close()
	var out []View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// CreateSession inserts ss, assigning an id when missing. An overlapping
// occupying session on the same slot yields ErrSlotOccupied.
func (s *Store) CreateSession(ctx context.Context, ss *Session) error {
	if ss.ID == uuid.Nil {
		ss.ID = uuid.New()
	}
	if ss.Status == "" {
		ss.Status = StatusPending
	}
	query := `
		INSERT INTO sessions (id, user_id, coach_id, slot_id, day_of_week, start_time, start_date, end_date,
			extension_count, status, payment_amount, payment_date, product_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query, ss.ID, ss.UserID, ss.CoachID, ss.SlotID, string(ss.Day), ss.StartTime,
		ss.StartDate, ss.EndDate, ss.ExtensionCount, string(ss.Status), ss.PaymentAmount, ss.PaymentDate, ss.ProductName).
		Scan(&ss.CreatedAt)
	if err != nil {
		if isSlotOverlap(err) {
			return ErrSlotOccupied
		}
		return fmt.Errorf("sessions: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	ss, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: get session: %w", err)
	}
	return ss, err
}

// GetView loads a session with its user, coach and slot details.
func (s *Store) GetView(ctx context.Context, id uuid.UUID) (*View, error) {
	v, err := scanView(s.db.QueryRow(ctx, `SELECT `+viewColumns+` FROM `+viewFrom+` WHERE s.id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sessions: get session view: %w", err)
	}
	return v, err
}

// OccupyingOnSlot lists PENDING/ACTIVE sessions holding the slot.
func (s *Store) OccupyingOnSlot(ctx context.Context, slotID uuid.UUID) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s
		WHERE s.slot_id = $1 AND s.status = ANY($2) ORDER BY s.start_date`
	rows, err := s.db.Query(ctx, query, slotID, OccupyingStatuses)
	if err != nil {
		return nil, fmt.Errorf("sessions: list slot sessions: %w", err)
	}
	out, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan slot sessions: %w", err)
	}
	return out, nil
}

// OccupyingByUser lists a user's PENDING/ACTIVE sessions, newest first.
func (s *Store) OccupyingByUser(ctx context.Context, userID uuid.UUID) ([]View, error) {
	query := `SELECT ` + viewColumns + ` FROM ` + viewFrom + `
		WHERE s.user_id = $1 AND s.status = ANY($2) ORDER BY s.created_at DESC`
	rows, err := s.db.Query(ctx, query, userID, OccupyingStatuses)
	if err != nil {
		return nil, fmt.Errorf("sessions: list user sessions: %w", err)
	}
	out, err := collectViews(rows)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan user sessions: %w", err)
	}
	return out, nil
}

// OccupyingByUserCoachDay lists refund candidates, newest first.
func (s *Store) OccupyingByUserCoachDay(ctx context.Context, userID, coachID uuid.UUID, day schedule.Day) ([]View, error) {
	query := `SELECT ` + viewColumns + ` FROM ` + viewFrom + `
		WHERE s.user_id = $1 AND s.coach_id = $2 AND s.day_of_week = $3 AND s.status = ANY($4)
		ORDER BY s.created_at DESC`
	rows, err := s.db.Query(ctx, query, userID, coachID, string(day), OccupyingStatuses)
	if err != nil {
		return nil, fmt.Errorf("sessions: list refund candidates: %w", err)
	}
	out, err := collectViews(rows)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan refund candidates: %w", err)
	}
	return out, nil
}

// Terminate moves a session out of the occupying states.
func (s *Store) Terminate(ctx context.Context, id uuid.UUID, t Termination) error {
	query := `
		UPDATE sessions
		SET status = $2, cancelled_at = $3, cancellation_reason = $4,
			early_terminated_at = $5, early_termination_reason = $6, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, string(t.Status), t.CancelledAt, nullableString(t.Reason), t.EarlyTerminatedAt, nullableString(t.EarlyReason))
	if err != nil {
		return fmt.Errorf("sessions: terminate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEndDate moves the period end. A collision with a chained renewal
// yields ErrSlotOccupied.
func (s *Store) UpdateEndDate(ctx context.Context, id uuid.UUID, end time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET end_date = $2, updated_at = NOW() WHERE id = $1`, id, end)
	if err != nil {
		if isSlotOverlap(err) {
			return ErrSlotOccupied
		}
		return fmt.Errorf("sessions: update end date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateDue flips PENDING sessions whose start date has arrived.
func (s *Store) ActivateDue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET status = 'ACTIVE', updated_at = NOW()
		WHERE status = 'PENDING' AND start_date <= $1`, today)
	if err != nil {
		return 0, fmt.Errorf("sessions: activate due: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireDue flips ACTIVE sessions whose end date has passed.
func (s *Store) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND end_date < $1`, today)
	if err != nil {
		return 0, fmt.Errorf("sessions: expire due: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSettled lists sessions overlapping [from, to] in a settled status.
func (s *Store) ListSettled(ctx context.Context, from, to time.Time) ([]View, error) {
	query := `SELECT ` + viewColumns + ` FROM ` + viewFrom + `
		WHERE s.start_date <= $2 AND s.end_date >= $1 AND s.status = ANY($3)
		ORDER BY c.name, s.start_date`
	rows, err := s.db.Query(ctx, query, from, to, SettledStatuses)
	if err != nil {
		return nil, fmt.Errorf("sessions: list settled: %w", err)
	}
	out, err := collectViews(rows)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan settled: %w", err)
	}
	return out, nil
}

// ListActiveOn lists ACTIVE sessions with a lesson weekday of date whose
// period contains date.
func (s *Store) ListActiveOn(ctx context.Context, date time.Time) ([]View, error) {
	query := `SELECT ` + viewColumns + ` FROM ` + viewFrom + `
		WHERE s.status = 'ACTIVE' AND s.day_of_week = $1 AND s.start_date <= $2 AND s.end_date >= $2
		ORDER BY s.start_time`
	rows, err := s.db.Query(ctx, query, string(schedule.DayOf(date)), date)
	if err != nil {
		return nil, fmt.Errorf("sessions: list active on date: %w", err)
	}
	out, err := collectViews(rows)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan active on date: %w", err)
	}
	return out, nil
}

// RescheduleSlotSessions rewrites day and time on every occupying session of a slot.
func (s *Store) RescheduleSlotSessions(ctx context.Context, slotID uuid.UUID, day schedule.Day, startTime string) (int64, error) {
	query := `UPDATE sessions SET day_of_week = $2, start_time = $3, updated_at = NOW()
		WHERE slot_id = $1 AND status = ANY($4)`
	tag, err := s.db.Exec(ctx, query, slotID, string(day), startTime, OccupyingStatuses)
	if err != nil {
		return 0, fmt.Errorf("sessions: reschedule slot sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReassignSessions moves every session of one user to another.
func (s *Store) ReassignSessions(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET user_id = $2, updated_at = NOW() WHERE user_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("sessions: reassign sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPostponements returns a session's postponements, latest date first.
func (s *Store) ListPostponements(ctx context.Context, sessionID uuid.UUID) ([]Postponement, error) {
	query := `SELECT id, session_id, postponed_date, reason FROM postponements
		WHERE session_id = $1 ORDER BY postponed_date DESC`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list postponements: %w", err)
	}
	defer rows.Close()

	var out []Postponement
	for rows.Next() {
		var p Postponement
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Date, &p.Reason); err != nil {
			return nil, fmt.Errorf("sessions: scan postponement: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPostponements records each date as a skipped lesson.
func (s *Store) InsertPostponements(ctx context.Context, sessionID uuid.UUID, dates []time.Time, reason string) error {
	query := `INSERT INTO postponements (id, session_id, postponed_date, reason) VALUES ($1, $2, $3, $4)`
	for _, d := range dates {
		if _, err := s.db.Exec(ctx, query, uuid.New(), sessionID, d, nullableString(reason)); err != nil {
			return fmt.Errorf("sessions: insert postponement: %w", err)
		}
	}
	return nil
}

// PostponedDates returns the postponed date set per session, keyed by
// schedule.DateString.
func (s *Store) PostponedDates(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error) {
	out := make(map[uuid.UUID]map[string]bool, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT session_id, postponed_date FROM postponements WHERE session_id = ANY($1)`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("sessions: list postponed dates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var d time.Time
		if err := rows.Scan(&id, &d); err != nil {
			return nil, fmt.Errorf("sessions: scan postponed date: %w", err)
		}
		if out[id] == nil {
			out[id] = make(map[string]bool)
		}
		out[id][schedule.DateString(d)] = true
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
