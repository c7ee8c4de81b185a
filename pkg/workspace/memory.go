package workspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"twinpool/internal/model"
)

// memoryWorker in-process stand-in for a worker process
type memoryWorker struct {
	id   string
	pid  int
	idle atomic.Bool
}

func (w *memoryWorker) ID() string   { return w.id }
func (w *memoryWorker) PID() int     { return w.pid }
func (w *memoryWorker) IsIdle() bool { return w.idle.Load() }

// Memory in-memory workspace handle. It is its own job manager.
// Deltas are delivered asynchronously in mutation order.
type Memory struct {
	name string
	path string

	mu      sync.Mutex
	workers []*memoryWorker
	jobs    []model.Job
	nextPID int
	err     error
	closed  bool

	// PIDFunc assigns process ids to new workers; defaults to a counter
	PIDFunc func() int

	observers *Observers
}

// NewMemory creates an empty in-memory workspace
func NewMemory(name, path string) *Memory {
	return &Memory{
		name:      name,
		path:      path,
		nextPID:   100000,
		observers: NewObservers(),
	}
}

// MemoryOpener opens in-memory workspaces, reusing one per path
func MemoryOpener() Opener {
	var mu sync.Mutex
	open := make(map[string]*Memory)
	return OpenerFunc(func(_ context.Context, path, name string) (Handle, error) {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := open[path]; ok && !m.isClosed() {
			return m, nil
		}
		m := NewMemory(name, path)
		open[path] = m
		return m, nil
	})
}

func (m *Memory) Name() string { return m.name }
func (m *Memory) Path() string { return m.path }

func (m *Memory) Workers() []Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Worker, len(m.workers))
	for i, w := range m.workers {
		out[i] = w
	}
	return out
}

func (m *Memory) StartWorkers(_ context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	index := len(m.workers)
	added := make([]Worker, 0, n)
	for i := 0; i < n; i++ {
		w := &memoryWorker{id: uuid.NewString(), pid: m.newPID()}
		w.idle.Store(true)
		m.workers = append(m.workers, w)
		added = append(added, w)
	}
	m.observers.Publish(Delta{Index: index, Added: added})
	m.mu.Unlock()
	return nil
}

// RemoveIdleWorkers removes up to n idle workers, newest first.
// Busy workers are never touched.
func (m *Memory) RemoveIdleWorkers(_ context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := len(m.workers) - 1; i >= 0 && n > 0; i-- {
		w := m.workers[i]
		if !w.IsIdle() {
			continue
		}
		m.workers = append(m.workers[:i], m.workers[i+1:]...)
		m.observers.Publish(Delta{Index: i, Removed: []Worker{w}})
		n--
	}
	return nil
}

func (m *Memory) Observe(listener Listener) func() {
	return m.observers.Add(listener)
}

func (m *Memory) Manager() JobManager { return m }

func (m *Memory) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.observers.Close()
	return nil
}

// Jobs returns every job in creation order
func (m *Memory) Jobs(_ context.Context) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]model.Job(nil), m.jobs...), nil
}

func (m *Memory) Job(_ context.Context, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Job{}, m.err
	}
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Submit records a waiting job; nothing executes it
func (m *Memory) Submit(_ context.Context, kind string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	m.jobs = append(m.jobs, model.Job{ID: id, Kind: kind, State: model.Waiting()})
	return id, nil
}

// AddJob appends a job as-is
func (m *Memory) AddJob(job model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// SetJobState transitions a job; false when unknown
func (m *Memory) SetJobState(id string, state model.JobState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			m.jobs[i].State = state
			return true
		}
	}
	return false
}

// RemoveJob drops a job from the manager
func (m *Memory) RemoveJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			return
		}
	}
}

// SetBusy flips a worker's ground-truth activity flag
func (m *Memory) SetBusy(id string, busy bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		if w.id == id {
			w.idle.Store(!busy)
			return true
		}
	}
	return false
}

// KillWorker removes a worker regardless of its activity, as if the process died
func (m *Memory) KillWorker(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.workers {
		if w.id == id {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			m.observers.Publish(Delta{Index: i, Removed: []Worker{w}})
			return true
		}
	}
	return false
}

// SetErr marks the workspace unreachable
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Settle waits until every published delta reached the listeners
func (m *Memory) Settle() {
	m.observers.Settle()
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) newPID() int {
	if m.PIDFunc != nil {
		return m.PIDFunc()
	}
	m.nextPID++
	return m.nextPID
}
