package executor

import (
	"dispatchd/internal/event"
	"dispatchd/internal/task"
)

// Request is the work order written to the worker's stdin. The payload
// travels over the pipe rather than argv so size and shell quoting are
// never a concern.
type Request struct {
	TaskID  string       `json:"task_id"`
	Slot    string       `json:"slot"`
	Attempt int          `json:"attempt"`
	Event   *event.Event `json:"event"`

	// Payload is the raw upstream event body, forwarded verbatim.
	Payload []byte `json:"payload,omitempty"`

	// TimeoutSeconds tells the worker the coordinator's hard limit so it
	// can budget the agent run below it.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Record is the single structured outcome the worker must emit on stdout
// before exiting. Anything else on stdout is a protocol violation.
type Record struct {
	TaskID  string              `json:"task_id"`
	Success bool                `json:"success"`
	Summary string              `json:"summary,omitempty"`
	Action  task.FollowUpAction `json:"action,omitempty"`
	Output  string              `json:"output,omitempty"`
	Error   string              `json:"error,omitempty"`
}
