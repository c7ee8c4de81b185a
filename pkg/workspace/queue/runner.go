package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"twinpool/pkg/logger"
)

// KindCommand job kind running an external command in the workspace
const KindCommand = "command"

// maxErrorOutput bytes of command output kept in a failed job's message
const maxErrorOutput = 512

// maxDrain bound on finishing the job in flight when no job timeout is set
const maxDrain = 24 * time.Hour

// CommandPayload payload of a KindCommand job
type CommandPayload struct {
	Args []string `json:"args"`
	Env  []string `json:"env,omitempty"`
	// Dir relative paths resolve against the workspace directory
	Dir string `json:"dir,omitempty"`
}

// RunnerOptions worker process options
type RunnerOptions struct {
	Redis asynq.RedisConnOpt
	Queue string
	Dir   string
	// DrainTimeout how long the job in flight may keep running once the
	// worker is asked to stop; 0 means maxDrain
	DrainTimeout time.Duration
}

func (o RunnerOptions) drainTimeout() time.Duration {
	if o.DrainTimeout <= 0 {
		return maxDrain
	}
	return o.DrainTimeout
}

// RunWorker serves one job at a time from the queue until ctx is done or the
// parent process goes away
func RunWorker(ctx context.Context, opts RunnerOptions) error {
	if opts.Queue == "" {
		return errors.New("queue is required")
	}

	srv := asynq.NewServer(opts.Redis, asynq.Config{
		Concurrency:     1,
		Queues:          map[string]int{opts.Queue: 1},
		Logger:          logger.Sugar(),
		ShutdownTimeout: opts.drainTimeout(),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(KindCommand, commandHandler(opts.Dir))

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	logger.Info("worker started on queue " + opts.Queue)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchParent(ctx, cancel)

	<-ctx.Done()
	// no new jobs from here on, the one in flight runs to completion
	srv.Stop()
	srv.Shutdown()
	logger.Info("worker stopped")
	return nil
}

// watchParent cancels once the spawning process has exited
func watchParent(ctx context.Context, cancel context.CancelFunc) {
	parent := os.Getppid()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if os.Getppid() != parent {
				logger.Warn("parent process exited, stopping worker")
				cancel()
				return
			}
		}
	}
}

func commandHandler(workspaceDir string) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p CommandPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("invalid command payload: %w", err)
		}
		if len(p.Args) == 0 {
			return errors.New("command payload has no args")
		}

		cmd := exec.CommandContext(ctx, p.Args[0], p.Args[1:]...)
		cmd.Dir = workspaceDir
		if p.Dir != "" {
			cmd.Dir = p.Dir
			if !filepath.IsAbs(p.Dir) {
				cmd.Dir = filepath.Join(workspaceDir, p.Dir)
			}
		}
		cmd.Env = append(os.Environ(), p.Env...)

		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: %s", err, tail(out, maxErrorOutput))
		}
		return nil
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
