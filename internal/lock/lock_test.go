package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := newRedisLocker(newFakeRedis())

	lease, ok, err := l.Acquire(ctx, "opname:o1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "opname:o1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.Acquire(ctx, "opname:o2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = l.Acquire(ctx, "opname:o1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLeaseKeepsForeignOwner(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	l := newRedisLocker(fake)

	lease, ok, err := l.Acquire(ctx, "opname:o1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Lease expired and another process took the key.
	fake.data["lock:opname:o1"] = "someone-else"
	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, "someone-else", fake.data["lock:opname:o1"])
}

func TestLocalLockerExpiresAndReleases(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	lease, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale lease must not free the newer holder.
	require.NoError(t, lease.Release(ctx))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestAcquireRequiresKey(t *testing.T) {
	_, _, err := NewLocalLocker().Acquire(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, _, err = newRedisLocker(newFakeRedis()).Acquire(context.Background(), "", time.Second)
	assert.Error(t, err)
}
