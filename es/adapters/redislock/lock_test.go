package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to a local Redis instance and skips the test if
// one isn't reachable, the same pattern used elsewhere in the retrieval
// pack for adapter tests against a real dependency rather than a mock.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis-backed test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at localhost:6379: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLock_CreateLockGrantsExclusiveAccess(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	name := "test-lock-exclusive"
	t.Cleanup(func() { client.Del(ctx, "es:lock:"+name) })

	a := New(client, "owner-a", WithTTL(5*time.Second))
	b := New(client, "owner-b", WithTTL(5*time.Second))

	acquired, err := a.CreateLock(ctx, name)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = b.CreateLock(ctx, name)
	require.NoError(t, err)
	require.False(t, acquired, "a second owner should not acquire an already-held lock")
}

func TestLock_ReleaseLockOnlyByOwner(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	name := "test-lock-owner-only"
	t.Cleanup(func() { client.Del(ctx, "es:lock:"+name) })

	a := New(client, "owner-a", WithTTL(5*time.Second))
	b := New(client, "owner-b", WithTTL(5*time.Second))

	_, err := a.CreateLock(ctx, name)
	require.NoError(t, err)

	released, err := b.ReleaseLock(ctx, name)
	require.NoError(t, err)
	require.False(t, released, "a non-owner must not be able to release another owner's lease")

	released, err = a.ReleaseLock(ctx, name)
	require.NoError(t, err)
	require.True(t, released)

	acquired, err := b.CreateLock(ctx, name)
	require.NoError(t, err)
	require.True(t, acquired, "the lock should be acquirable once its real owner releases it")
}

func TestLock_KeyPrefixIsConfigurable(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	name := "test-lock-prefix"
	t.Cleanup(func() { client.Del(ctx, "custom:"+name) })

	l := New(client, "owner-a", WithKeyPrefix("custom:"), WithTTL(5*time.Second))
	_, err := l.CreateLock(ctx, name)
	require.NoError(t, err)

	exists, err := client.Exists(ctx, "custom:"+name).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), exists)
}
