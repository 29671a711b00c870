package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/migrate"
)

func newSQLiteLocker(t *testing.T) *SQLiteLocker {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	l := NewSQLite(conn)
	return &l
}

func TestSQLiteLocker(t *testing.T) {
	ctx := context.Background()
	l := newSQLiteLocker(t)
	now := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }

	lease, err := l.Acquire(ctx, "agenda:ds-1", "run-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-06T09:01:00Z", lease.ExpiresAt)

	_, err = l.Acquire(ctx, "agenda:ds-1", "run-b", time.Minute)
	require.ErrorIs(t, err, ErrHeld)
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "run-a", held.OwnerID)

	_, err = l.Acquire(ctx, "agenda:ds-2", "run-b", time.Minute)
	require.NoError(t, err, "other keys are independent")

	_, err = l.Acquire(ctx, "agenda:ds-1", "run-a", time.Minute)
	require.NoError(t, err, "owner may re-acquire")

	// a stranger's release is ignored
	require.NoError(t, l.Release(ctx, stranger(lease)))
	_, err = l.Acquire(ctx, "agenda:ds-1", "run-b", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, l.Release(ctx, lease))
	_, err = l.Acquire(ctx, "agenda:ds-1", "run-b", time.Minute)
	require.NoError(t, err)
}

func TestSQLiteLockerExpiry(t *testing.T) {
	ctx := context.Background()
	l := newSQLiteLocker(t)
	now := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }

	_, err := l.Acquire(ctx, "trending:ds", "run-a", time.Minute)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	lease, err := l.Acquire(ctx, "trending:ds", "run-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "run-b", lease.OwnerID)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := NewRedis(NewRedisClient(mr.Addr(), 0), nil)

	lease, err := l.Acquire(ctx, "agenda:ds-1", "run-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "run-a", mustGet(t, mr, "desk:lease:agenda:ds-1"))

	_, err = l.Acquire(ctx, "agenda:ds-1", "run-b", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, l.Release(ctx, stranger(lease)))
	assert.True(t, mr.Exists("desk:lease:agenda:ds-1"))

	require.NoError(t, l.Release(ctx, lease))
	assert.False(t, mr.Exists("desk:lease:agenda:ds-1"))

	_, err = l.Acquire(ctx, "agenda:ds-1", "run-b", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = l.Acquire(ctx, "agenda:ds-1", "run-c", time.Minute)
	require.NoError(t, err, "expired lease is free")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestNop(t *testing.T) {
	var l Locker = Nop{}
	_, err := l.Acquire(context.Background(), "k", "a", time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "k", "b", time.Second)
	require.NoError(t, err)
}

func stranger(l domain.Lease) domain.Lease {
	l.OwnerID = "run-b"
	return l
}
