package queue

import (
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"twinpool/internal/model"
)

const queuePrefix = "twinpool-"

// QueueName task queue serving the workspace at path
func QueueName(path string) string {
	return queuePrefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// jobState maps a task state onto the job manager states
func jobState(info *asynq.TaskInfo) model.JobState {
	switch info.State {
	case asynq.TaskStateActive:
		return model.Running()
	case asynq.TaskStateCompleted:
		return model.Done()
	case asynq.TaskStateArchived:
		if info.LastErr == "" {
			return model.Failed("archived")
		}
		return model.Failed(info.LastErr)
	default:
		// pending, scheduled, retry, aggregating
		return model.Waiting()
	}
}

func toJob(info *asynq.TaskInfo) model.Job {
	return model.Job{
		ID:    info.ID,
		Kind:  info.Type,
		State: jobState(info),
	}
}
