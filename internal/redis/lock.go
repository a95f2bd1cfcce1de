package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("date lock not acquired")
	ErrLockUnavailable = errors.New("date lock unavailable")
)

const lockRetryStep = 25 * time.Millisecond

// Locker serialises capacity-affecting work per calendar date across processes.
type Locker interface {
	WithDateLock(ctx context.Context, date time.Time, fn func(ctx context.Context) error) error
}

type redisDateLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisDateLocker returns a Locker backed by one SETNX key per date.
// Acquisition is retried until wait elapses; the holder's work is bounded by ttl.
func NewRedisDateLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisDateLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func DateLockKey(date time.Time) string {
	return fmt.Sprintf("lock:date:%s", date.Format("2006-01-02"))
}

func (l *redisDateLocker) WithDateLock(ctx context.Context, date time.Time, fn func(ctx context.Context) error) error {
	key := DateLockKey(date)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	// release must run even when ctx is already cancelled
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

func (l *redisDateLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	step := lockRetryStep

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(step).After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		if step < 200*time.Millisecond {
			step *= 2
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDateLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release date lock: %w", err)
	}
	return nil
}
