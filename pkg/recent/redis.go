package recent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "twinpool:recent:"
	redisOrderKey  = redisKeyPrefix + "order"
	redisSeqKey    = redisKeyPrefix + "seq"
)

// RedisStore Redis-backed Store: one hash per workspace path and a sorted set
// ordered by a monotonically increasing touch sequence
type RedisStore struct {
	client       *redis.Client
	defaultCount int
}

// NewRedisStore creates a store on client
func NewRedisStore(client *redis.Client, defaultCount int) *RedisStore {
	return &RedisStore{client: client, defaultCount: defaultCount}
}

func entryKey(path string) string {
	return redisKeyPrefix + "ws:" + path
}

func (s *RedisStore) Lookup(ctx context.Context, name, path string) (int, error) {
	count := s.defaultCount
	raw, err := s.client.HGet(ctx, entryKey(path), "worker_count").Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		return 0, fmt.Errorf("failed to read recent workspace: %w", err)
	default:
		if n, convErr := strconv.Atoi(raw); convErr == nil && n >= 0 {
			count = n
		}
	}
	if err := s.Record(ctx, name, path, count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RedisStore) Record(ctx context.Context, name, path string, count int) error {
	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to record recent workspace: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, entryKey(path), "name", name, "path", path, "worker_count", count)
		pipe.ZAdd(ctx, redisOrderKey, &redis.Z{Score: float64(seq), Member: path})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record recent workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entryKey(path))
		pipe.ZRem(ctx, redisOrderKey, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove recent workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	paths, err := s.client.ZRevRange(ctx, redisOrderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent workspaces: %w", err)
	}
	if len(paths) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.StringStringMapCmd, len(paths))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range paths {
			cmds[i] = pipe.HGetAll(ctx, entryKey(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent workspaces: %w", err)
	}

	entries := make([]Entry, 0, len(paths))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		count, _ := strconv.Atoi(fields["worker_count"])
		entries = append(entries, Entry{Name: fields["name"], Path: paths[i], WorkerCount: count})
	}
	return entries, nil
}

// Close the client is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}
