package mysql

import (
	"time"

	"github.com/google/uuid"

	domain "twinpool/internal/model"
	"twinpool/pkg/pool"
)

// PathHash fixed-width index key of a workspace path
func PathHash(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// FromPoolScalingEvent converts a pool scaling event to its MySQL row
func FromPoolScalingEvent(ev pool.ScalingEvent) *ScalingEvent {
	action := "scale_up"
	if ev.To < ev.From {
		action = "scale_down"
	}
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ScalingEvent{
		EventID:     uuid.NewString(),
		Workspace:   ev.Workspace,
		Path:        ev.Path,
		PathHash:    PathHash(ev.Path),
		Timestamp:   ts,
		Action:      action,
		FromWorkers: ev.From,
		ToWorkers:   ev.To,
		BusyWorkers: ev.Busy,
		MaxCapacity: ev.Max,
	}
}

// FromWorkerStats converts per-worker readouts to snapshot rows taken at at.
// Workers that were never sampled are skipped.
func FromWorkerStats(path string, stats []domain.WorkerStats, at time.Time) []*WorkerResourceSnapshot {
	hash := PathHash(path)
	out := make([]*WorkerResourceSnapshot, 0, len(stats))
	for _, s := range stats {
		if s.SampledAt.IsZero() {
			continue
		}
		out = append(out, &WorkerResourceSnapshot{
			PathHash:   hash,
			WorkerID:   s.WorkerID,
			PID:        s.PID,
			SnapshotAt: at,
			CPUPercent: s.CPUPercent,
			MemPercent: s.MemPercent,
			IsIdle:     s.Activity == domain.ActivityIdle,
			Gone:       s.Gone,
		})
	}
	return out
}
