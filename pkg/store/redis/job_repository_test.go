package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T, ttl time.Duration) (*JobRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewJobRepository(client, ttl), mr
}

func TestJobRepository_OrderAndGet(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, 0)

	at := time.UnixMilli(1700000000000)
	require.NoError(t, repo.Append(ctx, JobRecord{ID: "a", Queue: "q1", Kind: "simulate", SubmittedAt: at}))
	require.NoError(t, repo.Append(ctx, JobRecord{ID: "b", Queue: "q1", Kind: "fit"}))
	require.NoError(t, repo.Append(ctx, JobRecord{ID: "c", Queue: "q2", Kind: "fit"}))

	ids, err := repo.IDs(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	rec, found, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, JobRecord{ID: "a", Queue: "q1", Kind: "simulate", SubmittedAt: at}, rec)

	_, found, err = repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobRepository_Remove(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, 0)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Append(ctx, JobRecord{ID: id, Queue: "q", Kind: "k"}))
	}

	require.NoError(t, repo.Remove(ctx, "q", "a", "c"))
	require.NoError(t, repo.Remove(ctx, "q"))

	ids, err := repo.IDs(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	_, found, _ := repo.Get(ctx, "a")
	assert.False(t, found)
}

func TestJobRepository_TTL(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRepo(t, time.Hour)
	require.NoError(t, repo.Append(ctx, JobRecord{ID: "a", Queue: "q", Kind: "k"}))

	mr.FastForward(2 * time.Hour)
	ids, err := repo.IDs(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
