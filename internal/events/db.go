// Package events persists the append-only audit trails: raw webhook
// payloads, system logs, per-user activity and field-level change logs.
package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowQuerier is the pgx surface shared by pgxpool.Pool, pgx.Tx and pgxmock.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrNotFound is returned when a row lookup misses.
	ErrNotFound = errors.New("events: not found")
	// ErrDuplicateKey is returned when a raw webhook with the same idempotency key exists.
	ErrDuplicateKey = errors.New("events: duplicate idempotency key")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
