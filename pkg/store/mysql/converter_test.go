package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "twinpool/internal/model"
	"twinpool/pkg/config"
	"twinpool/pkg/pool"
)

func TestFromPoolScalingEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	up := FromPoolScalingEvent(pool.ScalingEvent{Workspace: "brain", Path: "/ws/brain", From: 1, To: 4, Busy: 1, Max: 8, At: at})

	assert.Equal(t, "scale_up", up.Action)
	assert.Equal(t, 1, up.FromWorkers)
	assert.Equal(t, 4, up.ToWorkers)
	assert.Equal(t, at, up.Timestamp)
	assert.Equal(t, PathHash("/ws/brain"), up.PathHash)
	assert.NotEmpty(t, up.EventID)

	down := FromPoolScalingEvent(pool.ScalingEvent{Path: "/ws/brain", From: 4, To: 2})
	assert.Equal(t, "scale_down", down.Action)
	assert.False(t, down.Timestamp.IsZero())
	assert.NotEqual(t, up.EventID, down.EventID)
}

func TestPathHashIsStable(t *testing.T) {
	assert.Equal(t, PathHash("/a"), PathHash("/a"))
	assert.NotEqual(t, PathHash("/a"), PathHash("/b"))
	assert.Len(t, PathHash("/a"), 36)
}

func TestFromWorkerStats(t *testing.T) {
	at := time.Now()
	rows := FromWorkerStats("/ws/brain", []domain.WorkerStats{
		{WorkerID: "w1", PID: 10, Activity: domain.ActivityBusy, CPUPercent: 99, MemPercent: 2, SampledAt: at},
		{WorkerID: "w2", PID: 11},
		{WorkerID: "w3", PID: 12, Activity: domain.ActivityIdle, Gone: true, SampledAt: at},
	}, at)

	require.Len(t, rows, 2)
	assert.Equal(t, "w1", rows[0].WorkerID)
	assert.False(t, rows[0].IsIdle)
	assert.Equal(t, 99.0, rows[0].CPUPercent)
	assert.True(t, rows[1].IsIdle)
	assert.True(t, rows[1].Gone)
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.MySQLConfig{User: "u", Password: "p", Host: "db", Port: 3307, Database: "twin"})
	assert.Equal(t, "u:p@tcp(db:3307)/twin?charset=utf8mb4&parseTime=True&loc=UTC", dsn)
}
