package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAlreadyLocked is returned when the month already has an active lock.
	ErrAlreadyLocked = errors.New("settlement: month already locked")
	// ErrNotLocked is returned when unlocking a month without an active lock.
	ErrNotLocked = errors.New("settlement: month not locked")
	// ErrInvalidMonth is returned for out-of-range year/month input.
	ErrInvalidMonth = errors.New("settlement: invalid year or month")
)

const uniqueViolation = "23505"

// Lock is a settlement_locks row. A nil UnlockedAt means the month is frozen.
type Lock struct {
	ID         uuid.UUID  `json:"id"`
	Year       int        `json:"year"`
	Month      int        `json:"month"`
	LockedAt   time.Time  `json:"locked_at"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LockStore persists settlement locks.
type LockStore struct {
	db rowQuerier
}

func NewLockStore(pool *pgxpool.Pool) *LockStore {
	if pool == nil {
		panic("settlement: pgx pool required")
	}
	return &LockStore{db: pool}
}

func newLockStoreWithExec(exec rowQuerier) *LockStore {
	if exec == nil {
		panic("settlement: exec required")
	}
	return &LockStore{db: exec}
}

const lockColumns = `id, year, month, locked_at, unlocked_at`

func scanLock(row pgx.Row) (*Lock, error) {
	var l Lock
	if err := row.Scan(&l.ID, &l.Year, &l.Month, &l.LockedAt, &l.UnlockedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// Active returns the month's active lock or ErrNotLocked.
func (s *LockStore) Active(ctx context.Context, year, month int) (*Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM settlement_locks
		WHERE year = $1 AND month = $2 AND unlocked_at IS NULL`
	l, err := scanLock(s.db.QueryRow(ctx, query, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: load lock: %w", err)
	}
	return l, nil
}

// IsLocked reports whether the month has an active lock.
func (s *LockStore) IsLocked(ctx context.Context, year, month int) (bool, error) {
	_, err := s.Active(ctx, year, month)
	if errors.Is(err, ErrNotLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Lock freezes the month. The partial unique index on active locks turns a
// concurrent second lock into ErrAlreadyLocked.
func (s *LockStore) Lock(ctx context.Context, year, month int) (*Lock, error) {
	query := `INSERT INTO settlement_locks (id, year, month) VALUES ($1, $2, $3)
		RETURNING ` + lockColumns
	l, err := scanLock(s.db.QueryRow(ctx, query, uuid.New(), year, month))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("settlement: insert lock: %w", err)
	}
	return l, nil
}

// Unlock stamps unlocked_at on the active lock, keeping the row for audit.
func (s *LockStore) Unlock(ctx context.Context, year, month int, at time.Time) (*Lock, error) {
	query := `UPDATE settlement_locks SET unlocked_at = $3
		WHERE year = $1 AND month = $2 AND unlocked_at IS NULL
		RETURNING ` + lockColumns
	l, err := scanLock(s.db.QueryRow(ctx, query, year, month, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: unlock: %w", err)
	}
	return l, nil
}
