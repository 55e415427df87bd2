// Package locks provides short-lived distributed locks on Redis.
package locks

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

const (
	defaultExpiry = 30 * time.Second
	defaultTries  = 8
)

// Locker serializes work on one key across processes. The returned release
// function must be called once the work is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker implements Locker with redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	tries  int
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	pool := goredis.NewPool(rdb)
	return &RedisLocker{
		rs:     redsync.New(pool),
		prefix: prefix,
		expiry: defaultExpiry,
		tries:  defaultTries,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(250*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		// release on a fresh context so a cancelled request still unlocks
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			logger.Component("locks").WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}, nil
}

// Noop never blocks. Used when Redis is not configured and in tests.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
