package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"twinpool/pkg/config"
	"twinpool/pkg/logger"
	redisstore "twinpool/pkg/store/redis"
	"twinpool/pkg/workspace"
)

// Opener opens queue-backed workspaces
type Opener struct {
	redis    asynq.RedisConnOpt
	jobs     *redisstore.JobRepository
	spawner  Spawner
	settings settings
}

// NewOpener creates an opener; jobs keeps the submission order of every queue
func NewOpener(redis asynq.RedisConnOpt, jobs *redisstore.JobRepository, spawner Spawner, cfg config.WorkspaceConfig) *Opener {
	return &Opener{
		redis:   redis,
		jobs:    jobs,
		spawner: spawner,
		settings: settings{
			refresh:      time.Duration(cfg.RefreshMs) * time.Millisecond,
			retention:    time.Duration(cfg.TaskRetention) * time.Hour,
			jobTimeout:   time.Duration(cfg.JobTimeout) * time.Second,
			shutdownWait: time.Duration(cfg.ShutdownWaitMs) * time.Millisecond,
		},
	}
}

// Open opens the workspace directory at path and connects to its queue.
// No worker is started.
func (o *Opener) Open(ctx context.Context, path, name string) (workspace.Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", path)
	}

	ins := asynq.NewInspector(o.redis)
	if _, err := ins.Servers(); err != nil {
		ins.Close()
		return nil, fmt.Errorf("task queue unreachable: %w", err)
	}
	client := asynq.NewClient(o.redis)

	ws := newWorkspace(name, path, o.spawner, ins, client, o.jobs, o.settings)
	logger.InfoCtx(logger.WithWorkspace(ctx, path), "workspace %s opened on queue %s", name, ws.Queue())
	return ws, nil
}
