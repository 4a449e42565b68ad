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
	ErrLockNotAcquired = errors.New("subject lock not acquired")
)

const lockPollInterval = 50 * time.Millisecond

// Locker serialises writes that touch a subject's appointments on one
// schedule, across processes.
type Locker interface {
	WithSubjectLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisSubjectLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSubjectLocker creates a locker that uses a per subject Redis key.
// A busy key is polled for up to wait before ErrLockNotAcquired.
func NewRedisSubjectLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisSubjectLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisSubjectLocker) WithSubjectLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:subject:%s", key)
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSubjectLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire subject lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
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

func (l *redisSubjectLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release subject lock: %w", err)
	}
	return nil
}
