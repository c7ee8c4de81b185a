package model

import "time"

// ScalingEvent MySQL model for scaling_events table
type ScalingEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID     string    `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex:idx_event_id_unique" json:"event_id"`
	Workspace   string    `gorm:"column:workspace;type:varchar(255);not null" json:"workspace"`
	Path        string    `gorm:"column:path;type:varchar(1024);not null" json:"path"`
	PathHash    string    `gorm:"column:path_hash;type:char(36);not null;index:idx_path_timestamp,priority:1" json:"-"`
	Timestamp   time.Time `gorm:"column:timestamp;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_timestamp;index:idx_path_timestamp,priority:2" json:"timestamp"`
	Action      string    `gorm:"column:action;type:varchar(20);not null" json:"action"`
	FromWorkers int       `gorm:"column:from_workers;type:int;not null" json:"from_workers"`
	ToWorkers   int       `gorm:"column:to_workers;type:int;not null" json:"to_workers"`
	BusyWorkers int       `gorm:"column:busy_workers;type:int;not null;default:0" json:"busy_workers"`
	MaxCapacity int       `gorm:"column:max_capacity;type:int;not null;default:0" json:"max_capacity"`
}

// TableName specifies the table name for ScalingEvent
func (ScalingEvent) TableName() string {
	return "scaling_events"
}
