// Package queue is the production workspace backend. Jobs are tasks on a
// per-workspace asynq queue and workers are child processes serving it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"twinpool/internal/model"
	"twinpool/pkg/logger"
	redisstore "twinpool/pkg/store/redis"
	"twinpool/pkg/workspace"
)

// maxRefreshFailures consecutive failed server listings before the
// workspace is considered unreachable
const maxRefreshFailures = 3

// inspector the part of *asynq.Inspector the workspace reads
type inspector interface {
	Servers() ([]*asynq.ServerInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	Close() error
}

// enqueuer the part of *asynq.Client the workspace submits through
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// jobStore submission order of the queue's jobs
type jobStore interface {
	Append(ctx context.Context, rec redisstore.JobRecord) error
	IDs(ctx context.Context, queue string) ([]string, error)
	Remove(ctx context.Context, queue string, ids ...string) error
}

type worker struct {
	id       string
	proc     Process
	idle     atomic.Bool
	stopping atomic.Bool
}

func (w *worker) ID() string   { return w.id }
func (w *worker) PID() int     { return w.proc.PID() }
func (w *worker) IsIdle() bool { return w.idle.Load() }

// Workspace open queue-backed workspace
type Workspace struct {
	name  string
	path  string
	queue string
	host  string

	spawner   Spawner
	inspector inspector
	client    enqueuer
	jobs      jobStore

	retention    time.Duration
	jobTimeout   time.Duration
	shutdownWait time.Duration

	mu       sync.Mutex
	workers  []*worker
	failures int
	err      error
	closed   bool

	observers *workspace.Observers
	exited    sync.WaitGroup
	stop      chan struct{}
	loopDone  chan struct{}
}

type settings struct {
	refresh      time.Duration
	retention    time.Duration
	jobTimeout   time.Duration
	shutdownWait time.Duration
}

func newWorkspace(name, path string, spawner Spawner, ins inspector, client enqueuer, jobs jobStore, s settings) *Workspace {
	host, _ := os.Hostname()
	w := &Workspace{
		name:         name,
		path:         path,
		queue:        QueueName(path),
		host:         host,
		spawner:      spawner,
		inspector:    ins,
		client:       client,
		jobs:         jobs,
		retention:    s.retention,
		jobTimeout:   s.jobTimeout,
		shutdownWait: s.shutdownWait,
		observers:    workspace.NewObservers(),
		stop:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	go w.refreshLoop(s.refresh)
	return w
}

func (w *Workspace) Name() string { return w.name }
func (w *Workspace) Path() string { return w.path }

// Queue task queue name of the workspace
func (w *Workspace) Queue() string { return w.queue }

func (w *Workspace) Workers() []workspace.Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]workspace.Worker, len(w.workers))
	for i, wk := range w.workers {
		out[i] = wk
	}
	return out
}

// StartWorkers spawns n worker processes. Spawned workers are reported in one
// delta even when a later spawn fails.
func (w *Workspace) StartWorkers(ctx context.Context, n int) error {
	if err := w.usable(); err != nil {
		return err
	}

	var (
		added    []*worker
		spawnErr error
	)
	for i := 0; i < n; i++ {
		proc, err := w.spawner.Spawn(ctx, w.queue, w.path)
		if err != nil {
			spawnErr = err
			break
		}
		wk := &worker{id: uuid.NewString(), proc: proc}
		// idle until the worker registers with the queue
		wk.idle.Store(true)
		added = append(added, wk)
	}

	if len(added) > 0 {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			for _, wk := range added {
				_ = wk.proc.Signal(os.Kill)
				_ = wk.proc.Wait()
			}
			return workspace.ErrClosed
		}
		index := len(w.workers)
		w.workers = append(w.workers, added...)
		d := workspace.Delta{Index: index, Added: make([]workspace.Worker, len(added))}
		for i, wk := range added {
			d.Added[i] = wk
			w.exited.Add(1)
			go w.wait(wk)
		}
		w.observers.Publish(d)
		w.mu.Unlock()
		logger.InfoCtx(ctx, "started %d workers on queue %s", len(added), w.queue)
	}

	if spawnErr != nil {
		return fmt.Errorf("started %d of %d workers: %w", len(added), n, spawnErr)
	}
	return nil
}

// RemoveIdleWorkers asks up to n idle workers to exit, newest first. A
// worker confirmed idle after the signal leaves the list at once. One that
// picked up a job in between stops taking new ones, finishes the job and
// stays listed as busy until its process exits.
func (w *Workspace) RemoveIdleWorkers(ctx context.Context, n int) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.refresh(); err != nil {
		return fmt.Errorf("failed to refresh worker activity: %w", err)
	}

	w.mu.Lock()
	var victims []*worker
	for i := len(w.workers) - 1; i >= 0 && len(victims) < n; i-- {
		wk := w.workers[i]
		if wk.IsIdle() && !wk.stopping.Load() {
			victims = append(victims, wk)
		}
	}
	for _, wk := range victims {
		wk.stopping.Store(true)
	}
	w.mu.Unlock()
	if len(victims) == 0 {
		return nil
	}

	for _, wk := range victims {
		if err := wk.proc.Signal(syscall.SIGTERM); err != nil {
			logger.WarnCtx(ctx, "failed to stop worker %d: %v", wk.PID(), err)
		}
	}

	active, err := w.activity()
	if err != nil {
		logger.WarnCtx(ctx, "failed to confirm stopped workers are idle, removing them on exit: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for _, wk := range victims {
		switch {
		case err != nil:
		case active[wk.PID()] > 0:
			wk.idle.Store(false)
			logger.WarnCtx(ctx, "worker %d took a job before stopping, draining it", wk.PID())
		default:
			if w.detachLocked(wk) {
				removed++
			}
		}
	}
	logger.InfoCtx(ctx, "stopping %d idle workers on queue %s, %d removed", len(victims), w.queue, removed)
	return nil
}

func (w *Workspace) Observe(listener workspace.Listener) func() {
	return w.observers.Add(listener)
}

func (w *Workspace) Manager() workspace.JobManager { return w }

func (w *Workspace) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close terminates every worker, escalating to SIGKILL after the shutdown
// wait, and releases the queue connections
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	workers := append([]*worker(nil), w.workers...)
	w.mu.Unlock()

	close(w.stop)
	<-w.loopDone

	for _, wk := range workers {
		wk.stopping.Store(true)
		_ = wk.proc.Signal(syscall.SIGTERM)
	}

	exited := make(chan struct{})
	go func() {
		w.exited.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(w.shutdownWait):
		logger.Warn("workers did not exit in time, killing",
			zap.String("queue", w.queue))
		for _, wk := range workers {
			_ = wk.proc.Signal(os.Kill)
		}
		<-exited
	}

	w.observers.Close()
	return errors.Join(w.client.Close(), w.inspector.Close())
}

// Jobs returns the queue's jobs in submission order. Jobs the queue no longer
// retains are skipped and forgotten.
func (w *Workspace) Jobs(ctx context.Context) ([]model.Job, error) {
	ids, err := w.jobs.IDs(ctx, w.queue)
	if err != nil {
		return nil, err
	}

	jobs := make([]model.Job, 0, len(ids))
	var stale []string
	for _, id := range ids {
		info, err := w.inspector.GetTaskInfo(w.queue, id)
		if isNotFound(err) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read job %s: %w", id, err)
		}
		jobs = append(jobs, toJob(info))
	}

	if len(stale) > 0 {
		if err := w.jobs.Remove(ctx, w.queue, stale...); err != nil {
			logger.WarnCtx(ctx, "failed to forget %d expired jobs: %v", len(stale), err)
		}
	}
	return jobs, nil
}

// Job re-reads one job
func (w *Workspace) Job(_ context.Context, id string) (model.Job, error) {
	info, err := w.inspector.GetTaskInfo(w.queue, id)
	if isNotFound(err) {
		return model.Job{}, fmt.Errorf("%w: %s", workspace.ErrJobNotFound, id)
	}
	if err != nil {
		return model.Job{}, err
	}
	return toJob(info), nil
}

// Submit enqueues a task of type kind. Failed tasks are not retried.
func (w *Workspace) Submit(ctx context.Context, kind string, payload []byte) (string, error) {
	if err := w.usable(); err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(w.queue),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(0),
		asynq.Retention(w.retention),
	}
	if w.jobTimeout > 0 {
		opts = append(opts, asynq.Timeout(w.jobTimeout))
	}

	info, err := w.client.EnqueueContext(ctx, asynq.NewTask(kind, payload), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	if err := w.jobs.Append(ctx, redisstore.JobRecord{ID: info.ID, Queue: w.queue, Kind: kind}); err != nil {
		return "", err
	}
	logger.InfoCtx(ctx, "submitted %s job %s", kind, info.ID)
	return info.ID, nil
}

func (w *Workspace) usable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return workspace.ErrClosed
	}
	return w.err
}

// wait removes wk from the list once its process exits
func (w *Workspace) wait(wk *worker) {
	defer w.exited.Done()
	err := wk.proc.Wait()
	if !wk.stopping.Load() {
		logger.Warn("worker exited unexpectedly",
			zap.Int("pid", wk.PID()),
			zap.String("queue", w.queue),
			zap.Error(err))
	}

	w.mu.Lock()
	w.detachLocked(wk)
	w.mu.Unlock()
}

// detachLocked removes wk from the list and publishes the removal. It
// reports false when wk had already left.
func (w *Workspace) detachLocked(wk *worker) bool {
	for i, other := range w.workers {
		if other == wk {
			w.workers = append(w.workers[:i], w.workers[i+1:]...)
			w.observers.Publish(workspace.Delta{Index: i, Removed: []workspace.Worker{wk}})
			return true
		}
	}
	return false
}

func (w *Workspace) refreshLoop(interval time.Duration) {
	defer close(w.loopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.refresh(); err != nil {
				logger.Debug("worker refresh failed",
					zap.String("queue", w.queue),
					zap.Error(err))
			}
		}
	}
}

// refresh updates every worker's activity from the servers registered on
// the queue. Workers not registered yet count as idle.
func (w *Workspace) refresh() error {
	active, err := w.activity()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wk := range w.workers {
		n, ok := active[wk.PID()]
		wk.idle.Store(!ok || n == 0)
	}
	return nil
}

// activity active task count per worker pid, from the servers of this host
// serving the workspace queue
func (w *Workspace) activity() (map[int]int, error) {
	servers, err := w.inspector.Servers()
	if err != nil {
		w.mu.Lock()
		w.failures++
		if w.failures >= maxRefreshFailures && w.err == nil && !w.closed {
			w.err = fmt.Errorf("task queue unreachable: %w", err)
			logger.Error("workspace unreachable",
				zap.String("queue", w.queue),
				zap.Error(err))
		}
		w.mu.Unlock()
		return nil, err
	}

	active := make(map[int]int, len(servers))
	for _, s := range servers {
		if s.Host != w.host {
			continue
		}
		if _, ok := s.Queues[w.queue]; !ok {
			continue
		}
		active[s.PID] = len(s.ActiveWorkers)
	}

	w.mu.Lock()
	w.failures = 0
	w.mu.Unlock()
	return active, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
