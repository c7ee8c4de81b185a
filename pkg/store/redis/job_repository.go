package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	jobOrderKeyPrefix = "twinpool:jobs:" // submission order per queue (twinpool:jobs:{queue})
	jobKeyPrefix      = "twinpool:job:"  // job metadata (twinpool:job:{id})
)

// JobRecord submission metadata of one job
type JobRecord struct {
	ID          string
	Queue       string
	Kind        string
	SubmittedAt time.Time
}

// JobRepository keeps the submission order of jobs per queue. Job state
// itself lives in the task queue.
type JobRepository struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewJobRepository creates a job repository; records expire after ttl (0 keeps them)
func NewJobRepository(client *redis.Client, ttl time.Duration) *JobRepository {
	return &JobRepository{redis: client, ttl: ttl}
}

// Append records a submitted job at the end of its queue's order
func (r *JobRepository) Append(ctx context.Context, rec JobRecord) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	orderKey := jobOrderKeyPrefix + rec.Queue
	key := jobKeyPrefix + rec.ID

	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"queue", rec.Queue,
		"kind", rec.Kind,
		"submitted_at", rec.SubmittedAt.UnixMilli(),
	)
	pipe.RPush(ctx, orderKey, rec.ID)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, orderKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// IDs returns the job ids of queue in submission order
func (r *JobRepository) IDs(ctx context.Context, queue string) ([]string, error) {
	ids, err := r.redis.LRange(ctx, jobOrderKeyPrefix+queue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return ids, nil
}

// Get retrieves a job record; found is false when it is unknown
func (r *JobRepository) Get(ctx context.Context, id string) (rec JobRecord, found bool, err error) {
	fields, err := r.redis.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("failed to get job: %w", err)
	}
	if len(fields) == 0 {
		return JobRecord{}, false, nil
	}
	ms, _ := strconv.ParseInt(fields["submitted_at"], 10, 64)
	return JobRecord{
		ID:          id,
		Queue:       fields["queue"],
		Kind:        fields["kind"],
		SubmittedAt: time.UnixMilli(ms),
	}, true, nil
}

// Remove forgets jobs of queue, e.g. once the queue dropped them
func (r *JobRepository) Remove(ctx context.Context, queue string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.redis.TxPipeline()
	for _, id := range ids {
		pipe.LRem(ctx, jobOrderKeyPrefix+queue, 0, id)
		pipe.Del(ctx, jobKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove jobs: %w", err)
	}
	return nil
}
