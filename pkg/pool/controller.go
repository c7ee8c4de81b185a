// Package pool keeps the idle/busy classification of a workspace's workers in
// sync with the processes it actually runs and turns user scale requests into
// start/remove requests against the workspace.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"twinpool/internal/model"
	"twinpool/pkg/events"
	"twinpool/pkg/logger"
	"twinpool/pkg/probe"
	"twinpool/pkg/workspace"
)

// CountRecorder persists the last used worker count of a workspace
type CountRecorder interface {
	Record(ctx context.Context, name, path string, count int) error
}

// ScalingEvent one accepted scale request
type ScalingEvent struct {
	Workspace string
	Path      string
	From      int
	To        int
	Busy      int
	Max       int
	At        time.Time
}

// HistoryRecorder stores accepted scale requests
type HistoryRecorder interface {
	RecordScaling(ctx context.Context, ev ScalingEvent) error
}

// Options controller collaborators; only Probe is required
type Options struct {
	Probe    probe.Probe
	Recent   CountRecorder
	History  HistoryRecorder
	Bus      *events.Bus
	Notifier events.Notifier

	// MaxCapacity overrides the host logical CPU count when positive
	MaxCapacity int
	CPUCount    func(ctx context.Context) int

	SampleConcurrency int
	SampleTimeout     time.Duration
	Now               func() time.Time
}

// Controller worker pool controller of the open workspace
type Controller struct {
	opts    Options
	sampler *sampler

	// scaleMu serializes scale requests from validation until the workspace
	// has taken the start or remove request
	scaleMu sync.Mutex

	mu          sync.Mutex
	ws          workspace.Handle
	gen         uint64
	unsubscribe func()
	workers     []workspace.Worker
	idle        map[string]struct{}
	busy        map[string]struct{}
	stats       map[string]model.WorkerStats
	maxCapacity int
	target      int
	enabled     bool
	faulted     bool
}

// NewController creates a controller with no workspace attached
func NewController(opts Options) *Controller {
	if opts.Probe == nil {
		opts.Probe = probe.NewProcessProbe()
	}
	if opts.CPUCount == nil {
		opts.CPUCount = probe.CPUCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = 800 * time.Millisecond
	}
	c := &Controller{
		opts:  opts,
		idle:  make(map[string]struct{}),
		busy:  make(map[string]struct{}),
		stats: make(map[string]model.WorkerStats),
	}
	c.sampler = newSampler(opts.Probe, opts.SampleConcurrency, opts.SampleTimeout, opts.Now)
	return c
}

// SetWorkspace attaches ws, replacing whatever was attached before. Known
// workers start out idle until the next tick. A nil ws detaches.
func (c *Controller) SetWorkspace(ctx context.Context, ws workspace.Handle) {
	maxCapacity := 0
	if ws != nil {
		maxCapacity = c.opts.MaxCapacity
		if maxCapacity <= 0 {
			maxCapacity = c.opts.CPUCount(ctx)
		}
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	prev := c.workers
	c.resetLocked()
	c.ws = ws
	c.faulted = false
	c.maxCapacity = maxCapacity

	if ws == nil {
		c.enabled = false
		summary := c.summaryLocked()
		c.mu.Unlock()
		c.forget(prev)
		c.emit(events.TypeSummary, "", summary)
		return
	}

	// subscribe before seeding so no delta is lost in between
	c.unsubscribe = ws.Observe(func(d workspace.Delta) {
		c.onDelta(gen, d)
	})
	for _, w := range ws.Workers() {
		if _, ok := c.idle[w.ID()]; ok {
			continue
		}
		c.workers = append(c.workers, w)
		c.idle[w.ID()] = struct{}{}
	}
	c.enabled = true
	summary := c.summaryLocked()
	c.mu.Unlock()
	c.forget(prev)

	logger.InfoCtx(logger.WithWorkspace(ctx, ws.Path()), "pool attached, workers=%d max=%d", summary.All, summary.Max)
	c.emit(events.TypeSummary, ws.Path(), summary)
}

// RequestScale asks the workspace to converge on n workers. The size of the
// start or remove request is taken from the workspace's own worker list, so
// requests issued before earlier deltas arrive do not overshoot. Growth and
// shrinkage reach the controller's view later through the deltas.
func (c *Controller) RequestScale(ctx context.Context, n int) error {
	c.scaleMu.Lock()
	defer c.scaleMu.Unlock()

	c.mu.Lock()
	ws := c.ws
	enabled := c.enabled
	busy := len(c.busy)
	maxCapacity := c.maxCapacity
	gen := c.gen
	c.mu.Unlock()

	current := 0
	if ws != nil {
		current = len(ws.Workers())
	}
	if ws == nil || !enabled {
		return &ScaleError{Target: n, Current: current, Busy: busy, Max: maxCapacity, Err: ErrNoWorkspaceOpen}
	}
	if n > maxCapacity {
		return &ScaleError{Target: n, Current: current, Busy: busy, Max: maxCapacity, Err: ErrCapacityExceeded}
	}
	if n < busy || n < 0 {
		return &ScaleError{Target: n, Current: current, Busy: busy, Max: maxCapacity, Err: ErrBusyExceedsTarget}
	}

	ctx = logger.WithWorkspace(ctx, ws.Path())
	var err error
	switch {
	case n > current:
		err = ws.StartWorkers(ctx, n-current)
	case n < current:
		err = ws.RemoveIdleWorkers(ctx, current-n)
	}
	if err != nil {
		return fmt.Errorf("failed to scale workspace to %d workers: %w", n, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.target = n
	summary := c.summaryLocked()
	c.mu.Unlock()

	logger.InfoCtx(ctx, "scale requested %d -> %d (busy=%d max=%d)", current, n, busy, maxCapacity)
	c.persist(ctx, ws, n)
	if n != current && c.opts.History != nil {
		ev := ScalingEvent{
			Workspace: ws.Name(),
			Path:      ws.Path(),
			From:      current,
			To:        n,
			Busy:      busy,
			Max:       maxCapacity,
			At:        c.opts.Now(),
		}
		if err := c.opts.History.RecordScaling(ctx, ev); err != nil {
			logger.WarnCtx(ctx, "failed to record scaling event: %v", err)
		}
	}
	c.emit(events.TypeScaled, ws.Path(), summary)
	return nil
}

// OnWorkerListChanged applies a delta of the attached workspace
func (c *Controller) OnWorkerListChanged(d workspace.Delta) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.onDelta(gen, d)
}

func (c *Controller) onDelta(gen uint64, d workspace.Delta) {
	c.mu.Lock()
	if gen != c.gen || c.ws == nil || !c.enabled {
		c.mu.Unlock()
		return
	}
	ws := c.ws

	for _, w := range d.Removed {
		id := w.ID()
		delete(c.idle, id)
		delete(c.busy, id)
		delete(c.stats, id)
		for i, existing := range c.workers {
			if existing.ID() == id {
				c.workers = append(c.workers[:i], c.workers[i+1:]...)
				break
			}
		}
	}

	pos := d.Index
	if pos < 0 || pos > len(c.workers) {
		pos = len(c.workers)
	}
	for _, w := range d.Added {
		id := w.ID()
		if _, ok := c.idle[id]; ok {
			continue
		}
		if _, ok := c.busy[id]; ok {
			continue
		}
		c.workers = append(c.workers, nil)
		copy(c.workers[pos+1:], c.workers[pos:])
		c.workers[pos] = w
		pos++
		c.idle[id] = struct{}{}
	}
	count := len(c.workers)
	summary := c.summaryLocked()
	c.mu.Unlock()
	c.forget(d.Removed)

	ctx := logger.WithWorkspace(context.Background(), ws.Path())
	logger.DebugCtx(ctx, "worker list changed: +%d -%d, now %d", len(d.Added), len(d.Removed), count)
	c.persist(ctx, ws, count)
	c.emit(events.TypeSummary, ws.Path(), summary)
}

// forgetter a probe holding per-process state between samples
type forgetter interface {
	Forget(pid int)
}

// forget releases whatever the probe keeps for workers that left the pool
func (c *Controller) forget(workers []workspace.Worker) {
	f, ok := c.opts.Probe.(forgetter)
	if !ok {
		return
	}
	for _, w := range workers {
		f.Forget(w.PID())
	}
}

// Tick samples every worker and reclassifies it from its ground-truth
// activity flag. Results for a workspace that was replaced meanwhile, or for
// workers removed meanwhile, are discarded.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	gen := c.gen
	if ws == nil || !c.enabled {
		c.mu.Unlock()
		return nil
	}
	workers := append([]workspace.Worker(nil), c.workers...)
	c.mu.Unlock()

	ctx = logger.WithWorkspace(ctx, ws.Path())
	if err := ws.Err(); err != nil {
		c.fault(ctx, gen, ws, err)
		return nil
	}

	results := c.sampler.run(ctx, workers)

	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return nil
	}
	for _, r := range results {
		if !c.knownLocked(r.id) {
			continue
		}
		activity := model.ActivityFromIdle(r.idle)
		if activity == model.ActivityIdle {
			delete(c.busy, r.id)
			c.idle[r.id] = struct{}{}
		} else {
			delete(c.idle, r.id)
			c.busy[r.id] = struct{}{}
		}
		c.stats[r.id] = model.WorkerStats{
			WorkerID:   r.id,
			CPUPercent: r.stats.CPUPercent,
			MemPercent: r.stats.MemPercent,
			Gone:       r.stats.Gone,
			SampledAt:  r.at,
		}
	}
	summary := c.summaryLocked()
	stats := c.statsLocked()
	c.mu.Unlock()

	c.emit(events.TypeWorkerStats, ws.Path(), stats)
	c.emit(events.TypeSummary, ws.Path(), summary)
	return nil
}

// Summary current badge values
func (c *Controller) Summary() model.WorkerSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

// Stats latest per-worker readouts in display order
func (c *Controller) Stats() []model.WorkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

// Enabled whether scale requests are accepted
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Workspace attached workspace, nil when none
func (c *Controller) Workspace() workspace.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

func (c *Controller) fault(ctx context.Context, gen uint64, ws workspace.Handle, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.faulted {
		c.mu.Unlock()
		return
	}
	c.faulted = true
	c.enabled = false
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.resetLocked()
	summary := c.summaryLocked()
	c.mu.Unlock()

	events.RaiseFault(ctx, c.opts.Bus, c.opts.Notifier, events.SourcePool, ws.Path(),
		fmt.Sprintf("workspace %s unreachable: %v", ws.Name(), cause))
	c.emit(events.TypeSummary, ws.Path(), summary)
}

func (c *Controller) persist(ctx context.Context, ws workspace.Handle, count int) {
	if c.opts.Recent == nil {
		return
	}
	if err := c.opts.Recent.Record(ctx, ws.Name(), ws.Path(), count); err != nil {
		logger.WarnCtx(ctx, "failed to persist worker count %d: %v", count, err)
	}
}

func (c *Controller) emit(typ events.Type, path string, data interface{}) {
	events.Emit(c.opts.Bus, typ, events.SourcePool, path, data)
}

func (c *Controller) knownLocked(id string) bool {
	if _, ok := c.idle[id]; ok {
		return true
	}
	_, ok := c.busy[id]
	return ok
}

func (c *Controller) resetLocked() {
	c.workers = nil
	c.idle = make(map[string]struct{})
	c.busy = make(map[string]struct{})
	c.stats = make(map[string]model.WorkerStats)
	c.target = 0
}

func (c *Controller) summaryLocked() model.WorkerSummary {
	return model.WorkerSummary{
		All:    len(c.workers),
		Idle:   len(c.idle),
		Busy:   len(c.busy),
		Max:    c.maxCapacity,
		Target: c.target,
	}
}

func (c *Controller) statsLocked() []model.WorkerStats {
	out := make([]model.WorkerStats, 0, len(c.workers))
	for i, w := range c.workers {
		s := c.stats[w.ID()]
		s.WorkerID = w.ID()
		s.Index = i + 1
		s.PID = w.PID()
		_, busy := c.busy[w.ID()]
		s.Activity = model.ActivityFromIdle(!busy)
		out = append(out, s)
	}
	return out
}
