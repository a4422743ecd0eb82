package locking

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 30 * time.Second

// Redis is a Locker shared by every process talking to the same Redis.
type Redis struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps rdb. Keys are stored as "<prefix><key>".
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: redislock.New(rdb), prefix: prefix, ttl: ttl}
}

func (r *Redis) Obtain(ctx context.Context, key string) (Lock, error) {
	lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLock{lock: lock, ttl: r.ttl}, nil
}

type redisLock struct {
	lock *redislock.Lock
	ttl  time.Duration
}

// Refresh resets the lease to the full TTL.
func (l redisLock) Refresh(ctx context.Context) error {
	err := l.lock.Refresh(ctx, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrNotHeld
	}
	return err
}

// Release treats an expired lock as released.
func (l redisLock) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}
