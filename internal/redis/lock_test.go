package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithProviderLockReleasesKey(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewProviderLocker(client, 5*time.Second)
	provider := uuid.New()

	called := false
	err := locker.WithProviderLock(context.Background(), provider, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists(lockKey(provider)))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(lockKey(provider)))
}

func TestWithProviderLockBusy(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewProviderLocker(client, 5*time.Second)
	provider := uuid.New()
	require.NoError(t, mr.Set(lockKey(provider), "someone-else"))

	err := locker.WithProviderLock(context.Background(), provider, func(context.Context) error {
		t.Fatal("fn must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// The other holder's token is untouched.
	got, err := mr.Get(lockKey(provider))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithProviderLockWaitsForRelease(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewProviderLocker(client, 5*time.Second, WithWait(time.Second, 10*time.Millisecond))
	provider := uuid.New()
	require.NoError(t, mr.Set(lockKey(provider), "someone-else"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del(lockKey(provider))
	}()

	err := locker.WithProviderLock(context.Background(), provider, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithProviderLockPropagatesError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewProviderLocker(client, 5*time.Second)
	provider := uuid.New()
	boom := errors.New("boom")

	err := locker.WithProviderLock(context.Background(), provider, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(lockKey(provider)))
}

func TestLocksAreIndependentPerProvider(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewProviderLocker(client, 5*time.Second)
	a, b := uuid.New(), uuid.New()

	err := locker.WithProviderLock(context.Background(), a, func(ctx context.Context) error {
		return locker.WithProviderLock(ctx, b, func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}
