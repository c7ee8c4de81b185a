package mysql

import (
	"context"
	"fmt"
	"time"

	"twinpool/pkg/pool"
)

// ScalingEventRepository handles scaling event persistence in MySQL
type ScalingEventRepository struct {
	ds *Datastore
}

// NewScalingEventRepository creates a new scaling event repository
func NewScalingEventRepository(ds *Datastore) *ScalingEventRepository {
	return &ScalingEventRepository{ds: ds}
}

// Create creates a new scaling event
func (r *ScalingEventRepository) Create(ctx context.Context, event *ScalingEvent) error {
	return r.ds.DB(ctx).Create(event).Error
}

// RecordScaling stores an accepted scale request of the pool controller
func (r *ScalingEventRepository) RecordScaling(ctx context.Context, ev pool.ScalingEvent) error {
	if err := r.Create(ctx, FromPoolScalingEvent(ev)); err != nil {
		return fmt.Errorf("failed to create scaling event: %w", err)
	}
	return nil
}

// ListByWorkspace retrieves the latest scaling events of a workspace, newest first.
// An empty path lists every workspace.
func (r *ScalingEventRepository) ListByWorkspace(ctx context.Context, path string, limit int) ([]*ScalingEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.ds.DB(ctx).Model(&ScalingEvent{}).Order("timestamp DESC").Limit(limit)
	if path != "" {
		query = query.Where("path_hash = ?", PathHash(path))
	}

	var events []*ScalingEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list scaling events: %w", err)
	}
	return events, nil
}

// DeleteOldEvents deletes events older than the specified time
func (r *ScalingEventRepository) DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("timestamp < ?", olderThan).Delete(&ScalingEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
