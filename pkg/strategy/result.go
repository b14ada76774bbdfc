package strategy

import (
	"github.com/taskfleet/dispatch/pkg/play"
)

// TaskResult pairs a host, a task and the outcome payload of one unit of
// work. The payload is never nil: an empty map means "no data, succeeded".
// Results are not mutated after creation; ownership passes to the callback
// bus and the coordinator's aggregate.
type TaskResult struct {
	Host   play.Host      `json:"host"`
	Task   play.Task      `json:"task"`
	Result map[string]any `json:"result"`
}

// NewTaskResult builds a result, substituting an empty payload for nil.
func NewTaskResult(host play.Host, task play.Task, result map[string]any) TaskResult {
	if result == nil {
		result = map[string]any{}
	}
	return TaskResult{Host: host, Task: task, Result: result}
}

// Failed reports whether the payload marks the unit as failed.
func (r TaskResult) Failed() bool {
	failed, _ := r.Result["failed"].(bool)
	return failed
}

// Changed reports whether the payload marks the unit as having changed state.
func (r TaskResult) Changed() bool {
	changed, _ := r.Result["changed"].(bool)
	return changed
}

// Skipped reports whether the payload marks the unit as skipped.
func (r TaskResult) Skipped() bool {
	skipped, _ := r.Result["skipped"].(bool)
	return skipped
}
