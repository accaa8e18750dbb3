// Package lock provides a Redis backed mutual exclusion primitive keyed by
// resource identity. A lock always carries a TTL so a crashed holder cannot
// wedge a resource, and it can only be released by the token that took it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by WithLock when the key is still held by
// someone else after all retries.
var ErrNotAcquired = errors.New("lock not acquired")

// compare-and-delete: only the holder of the token may remove the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, retries int, retryDelay time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Options struct {
	Prefix     string        // namespace prepended to every key
	Retries    int           // retries used by WithLock
	RetryDelay time.Duration // fixed backoff between attempts
}

func DefaultOptions() Options {
	return Options{Prefix: "lock:", Retries: 3, RetryDelay: 100 * time.Millisecond}
}

type RedisLocker struct {
	rdb  redis.UniversalClient
	opts Options
}

func NewRedisLocker(rdb redis.UniversalClient, opts Options) *RedisLocker {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &RedisLocker{rdb: rdb, opts: opts}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) key(k string) string {
	return l.opts.Prefix + k
}

// Acquire tries SET NX PX once plus up to retries more times, sleeping
// retryDelay between attempts. A context cancellation stops the retry loop.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration, retries int, retryDelay time.Duration) (string, bool, error) {
	token := uuid.New().String()
	for attempt := 0; ; attempt++ {
		ok, err := l.rdb.SetNX(ctx, l.key(key), token, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return token, true, nil
		}
		if attempt >= retries {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// Release deletes the key only if it still holds token. It returns false when
// the lock had expired or was taken over by another holder.
func (l *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// WithLock runs fn while holding key. The lock is released on every exit path,
// including a panic in fn which is re-raised after the release.
func (l *RedisLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.Acquire(ctx, key, ttl, l.opts.Retries, l.opts.RetryDelay)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	defer l.release(ctx, key, token)
	return fn(ctx)
}

// TryWithLock makes a single acquisition attempt. When the key is busy it
// returns (false, nil) without calling fn.
func (l *RedisLocker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	token, ok, err := l.Acquire(ctx, key, ttl, 0, 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer l.release(ctx, key, token)
	return true, fn(ctx)
}

func (l *RedisLocker) release(ctx context.Context, key, token string) {
	// the caller's context may already be cancelled, the key must still go
	released, err := l.Release(context.WithoutCancel(ctx), key, token)
	if err != nil {
		slog.Error("release lock failed", "key", key, "error", err)
		return
	}
	if !released {
		slog.Warn("lock expired before release", "key", key)
	}
}
