package mysql

import (
	"context"
	"fmt"
	"time"
)

// WorkerSnapshotRepository stores periodic worker resource snapshots
type WorkerSnapshotRepository struct {
	ds *Datastore
}

// NewWorkerSnapshotRepository creates a new snapshot repository
func NewWorkerSnapshotRepository(ds *Datastore) *WorkerSnapshotRepository {
	return &WorkerSnapshotRepository{ds: ds}
}

// BatchCreate inserts snapshots in one statement; an empty batch is a no-op
func (r *WorkerSnapshotRepository) BatchCreate(ctx context.Context, snapshots []*WorkerResourceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := r.ds.DB(ctx).CreateInBatches(snapshots, 100).Error; err != nil {
		return fmt.Errorf("failed to create worker snapshots: %w", err)
	}
	return nil
}

// ListByWorker retrieves snapshots of one worker within a time range, oldest first
func (r *WorkerSnapshotRepository) ListByWorker(ctx context.Context, workerID string, from, to time.Time) ([]*WorkerResourceSnapshot, error) {
	var snapshots []*WorkerResourceSnapshot
	err := r.ds.DB(ctx).
		Where("worker_id = ? AND snapshot_at >= ? AND snapshot_at <= ?", workerID, from, to).
		Order("snapshot_at ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list worker snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteBefore deletes snapshots older than cutoff
func (r *WorkerSnapshotRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("snapshot_at < ?", cutoff).Delete(&WorkerResourceSnapshot{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete worker snapshots: %w", result.Error)
	}
	return result.RowsAffected, nil
}
