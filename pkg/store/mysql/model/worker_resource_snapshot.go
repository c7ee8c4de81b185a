package model

import "time"

// WorkerResourceSnapshot represents a point-in-time resource usage snapshot of one worker process
type WorkerResourceSnapshot struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	PathHash   string    `gorm:"type:char(36);not null;index:idx_path_snapshot,priority:1"`
	WorkerID   string    `gorm:"size:255;not null;index:idx_worker_snapshot,priority:1"`
	PID        int       `gorm:"not null"`
	SnapshotAt time.Time `gorm:"not null;index:idx_worker_snapshot,priority:2;index:idx_path_snapshot,priority:2;index:idx_snapshot_time"`
	CPUPercent float64   `gorm:"type:decimal(7,2)"`
	MemPercent float64   `gorm:"type:decimal(5,2)"`
	IsIdle     bool      `gorm:"default:true"`
	Gone       bool      `gorm:"default:false"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (WorkerResourceSnapshot) TableName() string { return "worker_resource_snapshots" }
