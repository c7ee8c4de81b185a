package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLock_SingleInstance(t *testing.T) {
	client, _ := newClient(t)
	lk := New(client, "test-lock")
	ctx := context.Background()

	acquired, err := lk.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lk.IsHeld())

	assert.NoError(t, lk.Unlock(ctx))
	assert.False(t, lk.IsHeld())
}

func TestRedisLock_MultipleInstances(t *testing.T) {
	client, _ := newClient(t)
	lock1 := ForWorkspace(client, "/data/brain.ws", "pool-tick")
	lock2 := ForWorkspace(client, "/data/brain.ws", "pool-tick")
	other := ForWorkspace(client, "/data/other.ws", "pool-tick")
	ctx := context.Background()

	require.Equal(t, lock1.Key(), lock2.Key())
	require.NotEqual(t, lock1.Key(), other.Key())

	acquired, err := lock1.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.False(t, acquired, "second instance must not get the lock")

	acquired, err = other.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired, "other workspaces are independent")

	assert.NoError(t, lock1.Unlock(ctx))
	acquired, err = lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired, "lock is free after release")

	assert.NoError(t, lock2.Unlock(ctx))
	assert.NoError(t, other.Unlock(ctx))
}

func TestRedisLock_AutoExpire(t *testing.T) {
	client, mr := newClient(t)
	lock1 := New(client, "expire")
	lock2 := New(client, "expire")
	ctx := context.Background()

	acquired, err := lock1.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(defaultTTL + time.Second)

	acquired, err = lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired, "lock is available after ttl")

	// the expired holder must not release the new holder's lock
	assert.NoError(t, lock1.Unlock(ctx))
	assert.True(t, mr.Exists(lock2.Key()))
	assert.NoError(t, lock2.Unlock(ctx))
}

func TestRedisLock_NilClient(t *testing.T) {
	lk := New(nil, "nil")
	ctx := context.Background()

	acquired, err := lk.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lk.IsHeld())

	assert.NoError(t, lk.Unlock(ctx))
	assert.False(t, lk.IsHeld())
}

func TestRedisLock_Cycles(t *testing.T) {
	client, _ := newClient(t)
	lk := New(client, "cycle")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		acquired, err := lk.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, acquired)
		require.NoError(t, lk.Unlock(ctx))
	}
	assert.NoError(t, lk.Unlock(ctx), "unlocking a free lock is a no-op")
}

func TestDo(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	holder := New(client, "do")
	contender := New(client, "do")

	ran, err := Do(ctx, holder, func(ctx context.Context) error {
		inner, innerErr := Do(ctx, contender, func(context.Context) error {
			t.Fatal("must not run while held")
			return nil
		})
		assert.NoError(t, innerErr)
		assert.False(t, inner)
		return errors.New("tick failed")
	})
	assert.True(t, ran)
	assert.EqualError(t, err, "tick failed")
	assert.False(t, holder.IsHeld())
}
