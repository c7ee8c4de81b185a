package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"twinpool/internal/model"
	"twinpool/pkg/jobmonitor"
	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
	"twinpool/pkg/recent"
	"twinpool/pkg/workspace"
)

// ErrWorkspaceNotFound the workspace path no longer exists. It is dropped
// from the recent list.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// WorkspaceInfo open workspace as reported to clients
type WorkspaceInfo struct {
	Name        string              `json:"name"`
	Path        string              `json:"path"`
	Workers     model.WorkerSummary `json:"workers"`
	PoolEnabled bool                `json:"poolEnabled"`
	JobsEnabled bool                `json:"jobsEnabled"`
}

// WorkerView summary and per-worker readouts
type WorkerView struct {
	Summary model.WorkerSummary `json:"summary"`
	Stats   []model.WorkerStats `json:"stats"`
}

// JobView one job tab plus the tab labels
type JobView struct {
	Category model.Category            `json:"category"`
	Rows     []model.JobRow            `json:"rows"`
	Counts   model.JobCounts           `json:"counts"`
	Labels   map[model.Category]string `json:"labels"`
	Dirty    bool                      `json:"dirty"`
}

// WorkspaceService opens and closes workspaces and wires them into the pool
// controller and the job monitor
type WorkspaceService struct {
	opener  workspace.Opener
	recent  recent.Store
	pool    *pool.Controller
	monitor *jobmonitor.Monitor

	// mu serializes open and close
	mu sync.Mutex
	ws workspace.Handle
}

// NewWorkspaceService creates a new workspace service
func NewWorkspaceService(opener workspace.Opener, recentStore recent.Store, controller *pool.Controller, monitor *jobmonitor.Monitor) *WorkspaceService {
	return &WorkspaceService{
		opener:  opener,
		recent:  recentStore,
		pool:    controller,
		monitor: monitor,
	}
}

// Open opens the workspace at path, closing the current one first, and
// restores its last pool size. Opening the current workspace again is a no-op.
func (s *WorkspaceService) Open(ctx context.Context, path, name string) (*WorkspaceInfo, error) {
	if path == "" {
		return nil, errors.New("workspace path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace path: %w", err)
	}
	path = abs
	if name == "" {
		name = filepath.Base(path)
	}
	ctx = logger.WithWorkspace(ctx, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws != nil {
		if s.ws.Path() == path {
			return s.infoLocked(), nil
		}
		s.closeLocked(ctx)
	}

	ws, err := s.opener.Open(ctx, path, name)
	if errors.Is(err, os.ErrNotExist) {
		if rerr := s.recent.Remove(ctx, path); rerr != nil {
			logger.WarnCtx(ctx, "failed to forget missing workspace: %v", rerr)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	s.ws = ws

	count, err := s.recent.Lookup(ctx, name, path)
	if err != nil {
		logger.WarnCtx(ctx, "failed to read recent worker count: %v", err)
		count = 0
	}

	s.pool.SetWorkspace(ctx, ws)
	if err := s.monitor.SetWorkspace(ctx, ws); err != nil {
		logger.WarnCtx(ctx, "job views unavailable: %v", err)
	}

	if limit := s.pool.Summary().Max; count > limit {
		count = limit
	}
	if count > 0 {
		if err := s.pool.RequestScale(ctx, count); err != nil {
			logger.WarnCtx(ctx, "failed to restore %d workers: %v", count, err)
		}
	}

	logger.InfoCtx(ctx, "workspace %s opened with %d workers requested", name, count)
	return s.infoLocked(), nil
}

// Close detaches and closes the current workspace
func (s *WorkspaceService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return pool.ErrNoWorkspaceOpen
	}
	s.closeLocked(logger.WithWorkspace(ctx, s.ws.Path()))
	return nil
}

// Current open workspace, nil when none
func (s *WorkspaceService) Current() *WorkspaceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return nil
	}
	return s.infoLocked()
}

// Scale requests a pool size for the open workspace
func (s *WorkspaceService) Scale(ctx context.Context, n int) error {
	return s.pool.RequestScale(ctx, n)
}

// Workers current summary and per-worker readouts
func (s *WorkspaceService) Workers() WorkerView {
	return WorkerView{Summary: s.pool.Summary(), Stats: s.pool.Stats()}
}

// SubmitJob submits a job to the open workspace and flags the job views stale
func (s *WorkspaceService) SubmitJob(ctx context.Context, kind string, payload []byte) (string, error) {
	if kind == "" {
		return "", errors.New("job kind is required")
	}
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return "", pool.ErrNoWorkspaceOpen
	}

	id, err := ws.Manager().Submit(ctx, kind, payload)
	if err != nil {
		return "", err
	}
	s.monitor.MarkDirty()
	return id, nil
}

// Jobs one job tab
func (s *WorkspaceService) Jobs(c model.Category) JobView {
	snap := s.monitor.Snapshot()
	return JobView{
		Category: c,
		Rows:     snap.Rows(c),
		Counts:   snap.Counts(),
		Labels:   snap.Labels(),
		Dirty:    s.monitor.Dirty(),
	}
}

// SetJobsVisible reports whether the job view is shown
func (s *WorkspaceService) SetJobsVisible(ctx context.Context, visible bool) error {
	return s.monitor.SetVisible(ctx, visible)
}

// Recent recently opened workspaces, most recent first
func (s *WorkspaceService) Recent(ctx context.Context) ([]recent.Entry, error) {
	return s.recent.List(ctx)
}

// ForgetRecent removes path from the recent list
func (s *WorkspaceService) ForgetRecent(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("path is required")
	}
	return s.recent.Remove(ctx, path)
}

func (s *WorkspaceService) closeLocked(ctx context.Context) {
	ws := s.ws
	s.ws = nil
	s.pool.SetWorkspace(ctx, nil)
	if err := s.monitor.SetWorkspace(ctx, nil); err != nil {
		logger.WarnCtx(ctx, "failed to detach job monitor: %v", err)
	}
	if err := ws.Close(); err != nil {
		logger.WarnCtx(ctx, "failed to close workspace: %v", err)
	}
	logger.InfoCtx(ctx, "workspace %s closed", ws.Name())
}

func (s *WorkspaceService) infoLocked() *WorkspaceInfo {
	return &WorkspaceInfo{
		Name:        s.ws.Name(),
		Path:        s.ws.Path(),
		Workers:     s.pool.Summary(),
		PoolEnabled: s.pool.Enabled(),
		JobsEnabled: s.monitor.Enabled(),
	}
}
