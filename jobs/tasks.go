package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthTokensPrune removes expired personal access tokens.
	TaskAuthTokensPrune = "auth:tokens:prune"
	// TaskActivityPrune removes activity entries older than the retention window.
	TaskActivityPrune = "activity:prune"
)

// ActivityPrunePayload overrides the configured retention for one run.
type ActivityPrunePayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewTokensPruneTask builds a token prune task.
func NewTokensPruneTask() *asynq.Task {
	return asynq.NewTask(TaskAuthTokensPrune, nil, asynq.Queue(QueueDefault))
}

// NewActivityPruneTask builds an activity prune task. A zero retention uses
// the worker's configured window.
func NewActivityPruneTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ActivityPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityPrune, body, asynq.Queue(QueueDefault)), nil
}
