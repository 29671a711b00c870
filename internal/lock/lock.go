// Package lock keeps two runs from working the same data source at once.
// A held lease fails the second run immediately; nothing waits or retries.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"opsdesk/internal/domain"
	"opsdesk/internal/repo"
)

// ErrHeld is returned when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease already held")

type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (domain.Lease, error)
	Release(ctx context.Context, lease domain.Lease) error
}

// HeldError names the current holder of a lease.
type HeldError struct {
	Key       string
	OwnerID   string
	ExpiresAt string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: %s is held by %s until %s", ErrHeld, e.Key, e.OwnerID, e.ExpiresAt)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

func newLease(key, owner string, now time.Time, ttl time.Duration) domain.Lease {
	return domain.Lease{
		Key:        key,
		OwnerID:    owner,
		AcquiredAt: now.UTC().Format(time.RFC3339),
		ExpiresAt:  now.UTC().Add(ttl).Format(time.RFC3339),
	}
}

// SQLiteLocker stores leases in the journal's leases table.
type SQLiteLocker struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func NewSQLite(db *sql.DB) SQLiteLocker {
	return SQLiteLocker{DB: db, Repo: repo.Repo{DB: db}, Now: time.Now}
}

func (l SQLiteLocker) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Acquire claims key for owner. An expired lease, or one owner already
// holds, is taken over.
func (l SQLiteLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (domain.Lease, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()

	now := l.now()
	existing, err := l.Repo.GetLeaseTx(ctx, tx, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Lease{}, err
	}
	if err == nil {
		exp, _ := time.Parse(time.RFC3339, existing.ExpiresAt)
		if now.Before(exp) && existing.OwnerID != owner {
			return domain.Lease{}, &HeldError{Key: key, OwnerID: existing.OwnerID, ExpiresAt: existing.ExpiresAt}
		}
	}
	lease := newLease(key, owner, now, ttl)
	if err := l.Repo.UpsertLease(ctx, tx, lease); err != nil {
		return domain.Lease{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return lease, nil
}

func (l SQLiteLocker) Release(ctx context.Context, lease domain.Lease) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := l.Repo.DeleteLease(ctx, tx, lease.Key, lease.OwnerID); err != nil {
		return err
	}
	return tx.Commit()
}

// RedisLocker holds leases as redis keys with a TTL, so several hosts can
// share one lock space.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, prefix: "desk:lease:", now: time.Now, logger: logger}
}

// NewRedisClient builds a client for the configured redis address.
func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (domain.Lease, error) {
	k := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		holder, err := l.rdb.Get(ctx, k).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return domain.Lease{}, fmt.Errorf("read lease %s: %w", key, err)
		}
		if holder == owner {
			if err := l.rdb.PExpire(ctx, k, ttl).Err(); err != nil {
				return domain.Lease{}, fmt.Errorf("extend lease %s: %w", key, err)
			}
			return newLease(key, owner, l.now(), ttl), nil
		}
		left, _ := l.rdb.PTTL(ctx, k).Result()
		l.logger.Info("lease held", zap.String("key", key), zap.String("owner", holder))
		return domain.Lease{}, &HeldError{Key: key, OwnerID: holder, ExpiresAt: l.now().UTC().Add(left).Format(time.RFC3339)}
	}
	return newLease(key, owner, l.now(), ttl), nil
}

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Release(ctx context.Context, lease domain.Lease) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.prefix + lease.Key}, lease.OwnerID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	return nil
}

// Nop never blocks.
type Nop struct{}

func (Nop) Acquire(_ context.Context, key, owner string, ttl time.Duration) (domain.Lease, error) {
	return newLease(key, owner, time.Now(), ttl), nil
}

func (Nop) Release(context.Context, domain.Lease) error { return nil }
