package queue

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"twinpool/internal/model"
)

func TestJobState(t *testing.T) {
	tests := []struct {
		name string
		info asynq.TaskInfo
		want model.JobState
	}{
		{"pending", asynq.TaskInfo{State: asynq.TaskStatePending}, model.Waiting()},
		{"scheduled", asynq.TaskInfo{State: asynq.TaskStateScheduled}, model.Waiting()},
		{"retry", asynq.TaskInfo{State: asynq.TaskStateRetry, LastErr: "boom"}, model.Waiting()},
		{"aggregating", asynq.TaskInfo{State: asynq.TaskStateAggregating}, model.Waiting()},
		{"active", asynq.TaskInfo{State: asynq.TaskStateActive}, model.Running()},
		{"completed", asynq.TaskInfo{State: asynq.TaskStateCompleted}, model.Done()},
		{"archived", asynq.TaskInfo{State: asynq.TaskStateArchived, LastErr: "exit status 2"}, model.Failed("exit status 2")},
		{"archived without error", asynq.TaskInfo{State: asynq.TaskStateArchived}, model.Failed("archived")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			assert.Equal(t, tt.want, jobState(&info))
		})
	}
}

func TestQueueName(t *testing.T) {
	a := QueueName("/data/brain.ws")
	assert.Equal(t, a, QueueName("/data/brain.ws"))
	assert.NotEqual(t, a, QueueName("/data/other.ws"))
	assert.Contains(t, a, "twinpool-")
}
