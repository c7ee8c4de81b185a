package mysql

import "twinpool/pkg/store/mysql/model"

// Re-export types from model package

type (
	ScalingEvent           = model.ScalingEvent
	WorkerResourceSnapshot = model.WorkerResourceSnapshot
)

// allModels tables managed by AutoMigrate
func allModels() []interface{} {
	return []interface{}{
		&ScalingEvent{},
		&WorkerResourceSnapshot{},
	}
}
