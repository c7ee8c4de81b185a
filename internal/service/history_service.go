package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
	"twinpool/pkg/store/mysql"
)

// ErrHistoryDisabled no history store is configured
var ErrHistoryDisabled = errors.New("history is disabled, mysql not configured")

// HistoryService scaling and resource history of the worker pool
type HistoryService struct {
	repo      *mysql.Repository
	pool      *pool.Controller
	retention time.Duration
}

// NewHistoryService creates a history service; a nil repo disables it
func NewHistoryService(repo *mysql.Repository, controller *pool.Controller, retentionDays int) *HistoryService {
	return &HistoryService{
		repo:      repo,
		pool:      controller,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Enabled whether a history store is configured
func (s *HistoryService) Enabled() bool {
	return s.repo != nil
}

// ScalingEvents latest scaling events of path (all workspaces when empty)
func (s *HistoryService) ScalingEvents(ctx context.Context, path string, limit int) ([]*mysql.ScalingEvent, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.ScalingEvent.ListByWorkspace(ctx, path, limit)
}

// WorkerSnapshots resource history of one worker within [from, to]
func (s *HistoryService) WorkerSnapshots(ctx context.Context, workerID string, from, to time.Time) ([]*mysql.WorkerResourceSnapshot, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.WorkerSnapshot.ListByWorker(ctx, workerID, from, to)
}

// SnapshotWorkers stores the latest readouts of every sampled worker
func (s *HistoryService) SnapshotWorkers(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	ws := s.pool.Workspace()
	if ws == nil {
		return nil
	}
	snapshots := mysql.FromWorkerStats(ws.Path(), s.pool.Stats(), time.Now())
	return s.repo.WorkerSnapshot.BatchCreate(ctx, snapshots)
}

// Cleanup deletes history older than the retention period. Snapshots and
// scaling events go in one transaction.
func (s *HistoryService) Cleanup(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	cutoff := time.Now().Add(-s.retention)

	var snapshots, events int64
	err := s.repo.GetDatastore().ExecTx(ctx, func(ctx context.Context) error {
		var err error
		if snapshots, err = s.repo.WorkerSnapshot.DeleteBefore(ctx, cutoff); err != nil {
			return err
		}
		events, err = s.repo.ScalingEvent.DeleteOldEvents(ctx, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clean up history: %w", err)
	}
	if snapshots > 0 || events > 0 {
		logger.InfoCtx(ctx, "history cleanup removed %d snapshots and %d scaling events", snapshots, events)
	}
	return nil
}
