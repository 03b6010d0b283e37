package task

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"dispatchd/internal/event"
)

// Decision is the dispatcher's answer to a source submitting a task.
type Decision string

const (
	Accepted Decision = "accepted"
	Deduped  Decision = "deduped"
	Rejected Decision = "rejected"
)

// Status is the terminal state of a task execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure reasons attached to a failed outcome.
const (
	ReasonTimeout       = "timeout"
	ReasonProtocolError = "protocol-error"
	ReasonWorkerError   = "worker-error"
	ReasonAgentError    = "agent-error"
	ReasonShutdown      = "shutdown"
)

// FollowUpAction is what the worker decided should happen upstream.
type FollowUpAction string

const (
	ActionComment     FollowUpAction = "comment"
	ActionPullRequest FollowUpAction = "pull-request"
)

// AckFunc acknowledges a task back to its originating queue. Poll sources
// set this so the message is only removed after the task is fully reported;
// push sources leave it nil.
type AckFunc func(ctx context.Context) error

// Task is a unit of work resolved from an upstream event.
type Task struct {
	// ID is the fingerprint of the normalized event content. It serves as
	// the dedup key.
	ID string

	// Source names the producing TaskSource ("webhook", "sqs", "kafka").
	Source string

	EventType string
	Event     *event.Event

	// Payload is the raw event body, forwarded verbatim to the worker.
	Payload []byte

	// RoutingKey identifies the logical stream the task belongs to,
	// normally the repository full name.
	RoutingKey string

	// SingleQueue forces strict FIFO processing for this routing key.
	SingleQueue bool

	ReceivedAt time.Time

	// Attempt counts redeliveries from sources that support them.
	Attempt int

	Ack AckFunc
}

// New builds a task from a parsed event. The fingerprint doubles as the
// task ID.
func New(source string, ev *event.Event, payload []byte) *Task {
	return &Task{
		ID:         Fingerprint(source, ev.Type, ev.Repo, ev.Number, ev.CommentID),
		Source:     source,
		EventType:  ev.Type,
		Event:      ev,
		Payload:    payload,
		RoutingKey: ev.Repo,
		ReceivedAt: time.Now().UTC(),
	}
}

// Acknowledge invokes the source acknowledgment if one is attached.
func (t *Task) Acknowledge(ctx context.Context) error {
	if t.Ack == nil {
		return nil
	}
	return t.Ack(ctx)
}

// Fingerprint derives a stable identity from normalized event content.
// Identical events from the same source always hash to the same value, so
// redeliveries and duplicate webhook deliveries collapse to one task.
func Fingerprint(source, eventType, repo string, number, commentID int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%s\x00%d\x00%d", source, eventType, repo, number, commentID))
	return hex.EncodeToString(sum[:])
}

// Outcome is the structured result of executing a task.
type Outcome struct {
	Status  Status         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Action  FollowUpAction `json:"action,omitempty"`
	Output  string         `json:"output,omitempty"`
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status != StatusSucceeded
}
