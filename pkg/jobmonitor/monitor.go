// Package jobmonitor keeps categorized, most-recent-first views of the jobs of
// the open workspace and rebuilds them only when they may have changed.
package jobmonitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"twinpool/internal/model"
	"twinpool/pkg/events"
	"twinpool/pkg/logger"
	"twinpool/pkg/workspace"
)

// Options monitor collaborators; all optional
type Options struct {
	Bus      *events.Bus
	Notifier events.Notifier
	Now      func() time.Time
}

// Monitor job monitor of the open workspace
type Monitor struct {
	opts Options

	// rebuildMu serializes scans so an older scan never overwrites a newer one
	rebuildMu sync.Mutex

	mu       sync.Mutex
	ws       workspace.Handle
	gen      uint64
	snapshot model.JobSnapshot
	running  []string
	dirty    bool
	visible  bool
	enabled  bool
	faulted  bool
}

// New creates a monitor with no workspace attached
func New(opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		opts:     opts,
		snapshot: model.EmptyJobSnapshot(),
	}
}

// SetWorkspace attaches ws and rebuilds every view from a full scan.
// A nil ws detaches and empties the views.
func (m *Monitor) SetWorkspace(ctx context.Context, ws workspace.Handle) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.ws = ws
	m.snapshot = model.EmptyJobSnapshot()
	m.running = nil
	m.dirty = false
	m.faulted = false
	m.enabled = ws != nil
	m.mu.Unlock()

	if ws == nil {
		m.emit("", model.EmptyJobSnapshot())
		return nil
	}
	return m.rebuild(ctx, gen)
}

// MarkDirty records that the job list changed; the rebuild is deferred until
// the view is shown or the next poll finds it visible
func (m *Monitor) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// SetVisible reports whether the job view is on screen. Becoming visible
// while dirty rebuilds.
func (m *Monitor) SetVisible(ctx context.Context, visible bool) error {
	m.mu.Lock()
	wasVisible := m.visible
	m.visible = visible
	needed := visible && !wasVisible && m.dirty && m.enabled
	gen := m.gen
	m.mu.Unlock()

	if !needed {
		return nil
	}
	return m.rebuild(ctx, gen)
}

// PollRunningJobs re-reads every job shown as running. If any left the
// running state, or vanished, the views are rebuilt whether visible or not.
// A visible dirty view is rebuilt as well.
func (m *Monitor) PollRunningJobs(ctx context.Context) error {
	m.mu.Lock()
	ws := m.ws
	gen := m.gen
	if ws == nil || !m.enabled {
		m.mu.Unlock()
		return nil
	}
	running := append([]string(nil), m.running...)
	pending := m.visible && m.dirty
	m.mu.Unlock()

	ctx = logger.WithWorkspace(ctx, ws.Path())
	if err := ws.Err(); err != nil {
		m.fail(ctx, gen, ws, err)
		return nil
	}

	changed := false
	manager := ws.Manager()
	for _, id := range running {
		job, err := manager.Job(ctx, id)
		if errors.Is(err, workspace.ErrJobNotFound) {
			changed = true
			break
		}
		if err != nil {
			logger.WarnCtx(ctx, "failed to re-check job %s: %v", id, err)
			continue
		}
		if job.State.Kind != model.JobRunning {
			logger.DebugCtx(ctx, "job %s left running: %s", id, job.State.Kind)
			changed = true
			break
		}
	}

	if !changed && !pending {
		return nil
	}
	return m.rebuild(ctx, gen)
}

// Snapshot current views
func (m *Monitor) Snapshot() model.JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Rows one view
func (m *Monitor) Rows(c model.Category) []model.JobRow {
	return m.Snapshot().Rows(c)
}

// Dirty whether a rebuild is pending
func (m *Monitor) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Visible whether the view is on screen
func (m *Monitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Enabled false when no workspace is attached or the last scan failed
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Rebuild forces a full rebuild of the views
func (m *Monitor) Rebuild(ctx context.Context) error {
	m.mu.Lock()
	gen := m.gen
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		return nil
	}
	return m.rebuild(ctx, gen)
}

func (m *Monitor) rebuild(ctx context.Context, gen uint64) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.mu.Lock()
	ws := m.ws
	if gen != m.gen || ws == nil {
		m.mu.Unlock()
		return nil
	}
	// cleared before the scan so a MarkDirty racing with it is kept
	m.dirty = false
	m.mu.Unlock()

	ctx = logger.WithWorkspace(ctx, ws.Path())
	jobs, err := ws.Manager().Jobs(ctx)
	if err != nil {
		m.fail(ctx, gen, ws, err)
		return fmt.Errorf("failed to scan jobs: %w", err)
	}

	snap := model.BuildJobSnapshot(jobs, m.opts.Now())
	running := make([]string, 0, len(snap.Running))
	for _, j := range jobs {
		if j.State.Kind == model.JobRunning {
			running = append(running, j.ID)
		}
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	m.snapshot = snap
	m.running = running
	m.mu.Unlock()

	logger.DebugCtx(ctx, "job views rebuilt: all=%d running=%d finished=%d failed=%d",
		len(snap.All), len(snap.Running), len(snap.Finished), len(snap.Failed))
	m.emit(ws.Path(), snap)
	return nil
}

func (m *Monitor) fail(ctx context.Context, gen uint64, ws workspace.Handle, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.faulted {
		m.mu.Unlock()
		return
	}
	m.faulted = true
	m.enabled = false
	m.snapshot = model.EmptyJobSnapshot()
	m.running = nil
	m.mu.Unlock()

	events.RaiseFault(ctx, m.opts.Bus, m.opts.Notifier, events.SourceJobMonitor, ws.Path(),
		fmt.Sprintf("job manager of %s unreachable: %v", ws.Name(), cause))
	m.emit(ws.Path(), model.EmptyJobSnapshot())
}

func (m *Monitor) emit(path string, snap model.JobSnapshot) {
	events.Emit(m.opts.Bus, events.TypeJobs, events.SourceJobMonitor, path, snap)
}
