// Package lock provides a Redis-backed lock so that two control planes never
// drive the same workspace at the same time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"twinpool/pkg/logger"
)

const (
	keyPrefix           = "twinpool:lock:"
	defaultTTL          = 30 * time.Second
	lockAcquireTimeout  = 5 * time.Second
	lockExtendInterval  = 10 * time.Second
	maxLockHoldDuration = 2 * time.Minute
)

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("expire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// Locker lock that can be taken and released repeatedly
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock SET NX lock with a per-instance token; only the holder can
// release or renew it. A nil client runs in single-instance mode where
// TryLock always succeeds.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	mu           sync.Mutex
	held         bool
	acquiredAt   time.Time
	stopRenew    chan struct{}
	renewStopped bool
}

// New creates a lock named name (prefixed with the twinpool key space)
func New(client *redis.Client, name string) *RedisLock {
	return &RedisLock{
		client:       client,
		key:          keyPrefix + name,
		token:        uuid.NewString(),
		ttl:          defaultTTL,
		stopRenew:    make(chan struct{}),
		renewStopped: true,
	}
}

// ForWorkspace lock guarding the periodic work of one workspace
func ForWorkspace(client *redis.Client, path, task string) *RedisLock {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(path))
	return New(client, task+":"+id.String())
}

// Key redis key of the lock
func (l *RedisLock) Key() string {
	return l.key
}

// TryLock acquires the lock without waiting for it
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.acquiredAt = time.Now()
	// a fresh channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.renewStopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(context.WithoutCancel(ctx), stop)
	return true, nil
}

// Unlock releases the lock if this instance holds it
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	if l.client == nil {
		l.held = false
		l.mu.Unlock()
		return nil
	}
	if !l.renewStopped {
		l.renewStopped = true
		close(l.stopRenew)
	}
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Int64()

	l.mu.Lock()
	l.held = false
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if result == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld whether this instance holds the lock
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisLock) renew(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(lockExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()

			if held > maxLockHoldDuration {
				logger.WarnCtx(ctx, "lock %s held for %.0fs, no longer renewed", l.key, held.Seconds())
				l.lost()
				return
			}

			result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.token, int(l.ttl.Seconds())).Int64()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.key, err)
				l.lost()
				return
			}
			if result == 0 {
				logger.WarnCtx(ctx, "lock %s lost", l.key)
				l.lost()
				return
			}
		}
	}
}

func (l *RedisLock) lost() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

// Do runs fn while holding lk. ran is false when another instance holds it.
func Do(ctx context.Context, lk Locker, fn func(ctx context.Context) error) (ran bool, err error) {
	acquired, err := lk.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if unlockErr := lk.Unlock(ctx); unlockErr != nil {
			logger.WarnCtx(ctx, "%v", unlockErr)
		}
	}()
	return true, fn(ctx)
}
