package slotlock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts Options) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts, nil), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, mr := newTestLocker(t, Options{TTL: time.Minute})
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("slotlock:slot-1"))

	_, err = locker.Acquire(ctx, "slot-1")
	assert.ErrorIs(t, err, ErrBusy)

	other, err := locker.Acquire(ctx, "slot-2")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("slotlock:slot-1"))

	again, err := locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	again()
}

func TestLeaseExpires(t *testing.T) {
	locker, mr := newTestLocker(t, Options{TTL: time.Second})
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlock, err := locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	unlock()
}

func TestStaleReleaseKeepsNewOwner(t *testing.T) {
	locker, mr := newTestLocker(t, Options{TTL: time.Second})
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = locker.Acquire(ctx, "slot-1")
	require.NoError(t, err)
	stale()
	assert.True(t, mr.Exists("slotlock:slot-1"))
}

func TestNilClientIsNoop(t *testing.T) {
	unlock, err := New(nil, Options{}, nil).Acquire(context.Background(), "slot-1")
	require.NoError(t, err)
	unlock()
}
