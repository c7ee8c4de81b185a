package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"twinpool/internal/jobs"
	"twinpool/pkg/jobmonitor"
	"twinpool/pkg/lock"
	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
)

func (app *Application) initJobs() error {
	if app.poolController == nil || app.jobMonitor == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	// Locks keep two control planes from driving the same workspace.
	// Without Redis they downgrade to single-instance mode.
	var redisClient *redis.Client
	if app.redisClient != nil && app.config.Redis.Enabled {
		redisClient = app.redisClient.GetClient()
	}

	tick := time.Duration(app.config.Pool.TickIntervalMs) * time.Millisecond
	poll := time.Duration(app.config.Jobs.PollIntervalMs) * time.Millisecond

	manager.Register(newPoolTickJob(tick, app.poolController, redisClient))
	manager.Register(newJobPollJob(poll, app.jobMonitor))

	if app.historyService.Enabled() {
		snapshotInterval := time.Duration(app.config.Pool.SnapshotInterval) * time.Second
		manager.Register(jobs.Every("worker-snapshot", snapshotInterval,
			withLock(lock.New(redisClient, "history:snapshot-lock"), app.historyService.SnapshotWorkers)))
		manager.Register(jobs.Aligned("history-retention", 24*time.Hour,
			withLock(lock.New(redisClient, "cleanup:history-retention-lock"), app.historyService.Cleanup)))
	}

	app.jobsManager = manager
	return nil
}

// withLock runs fn only on the instance holding lk
func withLock(lk lock.Locker, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := lock.Do(ctx, lk, fn)
		return err
	}
}

// poolTickJob refreshes the worker partition and samples worker resources
type poolTickJob struct {
	interval   time.Duration
	controller *pool.Controller
	client     *redis.Client
}

func newPoolTickJob(interval time.Duration, controller *pool.Controller, client *redis.Client) jobs.Job {
	return &poolTickJob{interval: interval, controller: controller, client: client}
}

func (j *poolTickJob) Name() string {
	return "pool-tick"
}

func (j *poolTickJob) Interval() time.Duration {
	return j.interval
}

func (j *poolTickJob) Run(ctx context.Context) error {
	ws := j.controller.Workspace()
	if ws == nil {
		return nil
	}

	ran, err := lock.Do(ctx, lock.ForWorkspace(j.client, ws.Path(), j.Name()), j.controller.Tick)
	if !ran && err == nil {
		logger.DebugCtx(logger.WithWorkspace(ctx, ws.Path()), "pool tick skipped, workspace driven by another instance")
	}
	return err
}

// jobPollJob re-checks running jobs and rebuilds the job views when needed
type jobPollJob struct {
	interval time.Duration
	monitor  *jobmonitor.Monitor
}

func newJobPollJob(interval time.Duration, monitor *jobmonitor.Monitor) jobs.Job {
	return &jobPollJob{interval: interval, monitor: monitor}
}

func (j *jobPollJob) Name() string {
	return "job-poll"
}

func (j *jobPollJob) Interval() time.Duration {
	return j.interval
}

func (j *jobPollJob) Run(ctx context.Context) error {
	return j.monitor.PollRunningJobs(ctx)
}
