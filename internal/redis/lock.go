package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("provider lock not acquired")

// Locker serializes schedule writes per provider across API replicas.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}

type providerLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
}

type LockOption func(*providerLocker)

// WithWait lets an acquire poll for up to d before giving up.
func WithWait(d, every time.Duration) LockOption {
	return func(l *providerLocker) {
		l.wait = d
		l.retry = every
	}
}

func NewProviderLocker(client redis.UniversalClient, ttl time.Duration, opts ...LockOption) Locker {
	l := &providerLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(providerID uuid.UUID) string {
	return fmt.Sprintf("lock:provider:%s", providerID)
}

func (l *providerLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(providerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	// Release with a fresh context so a cancelled request still frees the key.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockedCtx)
}

func (l *providerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire provider lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
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

func (l *providerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn without coordination. Suitable for a single process.
type NoopLocker struct{}

func (NoopLocker) WithProviderLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
