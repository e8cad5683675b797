package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockBusy is returned when the refresh lock could not be obtained before
// the retry budget ran out.
var ErrLockBusy = errors.New("session refresh lock busy")

// RedisLocker implements Locker with bsm/redislock.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
}

// NewRedisLocker builds a locker over any go-redis client. ttl bounds how
// long a crashed holder can block others; waiters retry for up to ttl.
func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, backoff: 100 * time.Millisecond}
}

// Lock obtains key, retrying with linear backoff.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	retries := int(l.ttl / l.backoff)
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
