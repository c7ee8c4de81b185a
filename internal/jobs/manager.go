package jobs

import (
	"context"
	"sync"
	"time"

	"twinpool/pkg/logger"
)

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob is a job that runs at aligned time boundaries (e.g., on the hour).
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Status last outcome of one job
type Status struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int64     `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager orchestrates the lifecycle of background jobs. Each job runs on its
// own goroutine and never overlaps with itself.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	status  map[string]*Status
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make([]Job, 0),
		status: make(map[string]*Status),
	}
}

// Register adds a job to the manager.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	m.status[job.Name()] = &Status{Name: job.Name(), Interval: job.Interval().String()}
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Statuses returns the status of every registered job in registration order
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *m.status[job.Name()])
	}
	return out
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	alignedJob, shouldAlign := job.(AlignedJob)
	if shouldAlign && alignedJob.AlignToInterval() {
		// Wait until next aligned time before first run
		now := time.Now()
		next := now.Truncate(interval).Add(interval)
		waitDuration := next.Sub(now)

		logger.InfoCtx(m.ctx, "job %s will start at next aligned time: %v (in %v)", job.Name(), next.Format("15:04:05"), waitDuration)

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(waitDuration):
			m.executeJob(job)
		}
	} else {
		// Run immediately once.
		m.executeJob(job)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

func (m *Manager) executeJob(job Job) {
	err := job.Run(m.ctx)
	if err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status[job.Name()]
	st.Runs++
	st.LastRun = time.Now()
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
}

// funcJob adapts a function to Job
type funcJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Every creates a job running fn every interval
func Every(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &funcJob{name: name, interval: interval, run: fn}
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Interval() time.Duration       { return j.interval }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

type alignedFuncJob struct {
	funcJob
}

// Aligned creates a job running fn on interval boundaries
func Aligned(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &alignedFuncJob{funcJob{name: name, interval: interval, run: fn}}
}

func (j *alignedFuncJob) AlignToInterval() bool { return true }
