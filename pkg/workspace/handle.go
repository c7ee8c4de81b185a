// Package workspace defines the contract a workspace backend exposes to the
// worker pool controller and the job monitor, plus an in-memory backend.
package workspace

import (
	"context"
	"errors"

	"twinpool/internal/model"
)

var (
	// ErrJobNotFound the job manager no longer knows the job
	ErrJobNotFound = errors.New("job not found")
	// ErrClosed the workspace has been closed
	ErrClosed = errors.New("workspace closed")
)

// Worker is one compute-worker process owned by the workspace.
// Implementations must be safe for concurrent use.
type Worker interface {
	ID() string
	PID() int
	// IsIdle is the ground-truth activity flag
	IsIdle() bool
}

// Delta describes one change of the workspace worker list.
// Index is the position of the first change in the list before it was applied.
type Delta struct {
	Index   int
	Removed []Worker
	Added   []Worker
}

// Listener receives worker list deltas
type Listener func(Delta)

// JobManager is the read side of the external job manager plus submission
type JobManager interface {
	// Jobs returns every job in creation order
	Jobs(ctx context.Context) ([]model.Job, error)
	// Job re-reads one job; ErrJobNotFound when it is gone
	Job(ctx context.Context, id string) (model.Job, error)
	// Submit enqueues a job and returns its id
	Submit(ctx context.Context, kind string, payload []byte) (string, error)
}

// Handle is an open workspace
type Handle interface {
	Name() string
	Path() string
	// Workers returns the current worker list in display order. It already
	// reflects a StartWorkers or RemoveIdleWorkers call once that call returns,
	// before the matching delta is delivered.
	Workers() []Worker
	// StartWorkers requests n more workers; growth is observed through Observe
	StartWorkers(ctx context.Context, n int) error
	// RemoveIdleWorkers requests removal of up to n idle workers; observed through Observe
	RemoveIdleWorkers(ctx context.Context, n int) error
	// Observe registers a listener for worker list deltas
	Observe(listener Listener) (unsubscribe func())
	Manager() JobManager
	// Err is non-nil once the workspace became unreachable
	Err() error
	Close() error
}

// Opener opens a workspace by path
type Opener interface {
	Open(ctx context.Context, path, name string) (Handle, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, path, name string) (Handle, error)

func (f OpenerFunc) Open(ctx context.Context, path, name string) (Handle, error) {
	return f(ctx, path, name)
}
