// Package slotlock serializes enrollment writes against one coach slot
// across API replicas with a Redis lease.
package slotlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creatus-team/v3/pkg/logging"
)

// ErrBusy is returned when another request holds the slot lease.
var ErrBusy = errors.New("slotlock: slot is being booked by another request")

const (
	DefaultTTL  = 10 * time.Second
	keyPrefix   = "slotlock:"
	retryPeriod = 50 * time.Millisecond
)

// release deletes the key only if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-slot leases. A nil client makes every Acquire succeed
// immediately; the database exclusion constraint still guards the slot.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *logging.Logger
}

// Options tunes lease behaviour.
type Options struct {
	TTL time.Duration
	// Wait bounds how long Acquire polls a held lease before giving up.
	Wait time.Duration
}

func New(client *redis.Client, opts Options, logger *logging.Logger) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Locker{client: client, ttl: opts.TTL, wait: opts.Wait, logger: logger}
}

// SlotKey is the lease key for bookings on one coach slot.
func SlotKey(slotID string) string {
	return "slot:" + slotID
}

// Acquire takes the lease for key and returns its release func.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := keyPrefix + key
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("slotlock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryPeriod):
		}
	}

	return func() {
		// Release must run even when the request context is already done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := release.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("slot lock release failed", "key", key, "error", err)
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("slotlock: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
