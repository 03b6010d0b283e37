// Package source turns upstream deliveries into tasks. The push variant
// accepts webhooks synchronously; the poll variants long-poll a durable
// queue. Every variant feeds the same dispatcher.
package source

import (
	"context"
	"errors"
	"fmt"

	"dispatchd/internal/event"
	"dispatchd/internal/policy"
	"dispatchd/internal/task"
)

// Submitter is the dispatcher surface sources depend on.
type Submitter interface {
	Submit(ctx context.Context, t *task.Task) (task.Decision, error)
}

// Drop reasons. Dropped events are expected traffic, not errors: the
// webhook subscription is broader than what the engine acts on.
var (
	// ErrNotTriggered marks events that do not mention the watched user or
	// carry a non-trigger action.
	ErrNotTriggered = errors.New("event does not trigger work")
	// ErrUnauthorized marks events from repositories or actors outside the
	// allow-sets.
	ErrUnauthorized = errors.New("event not authorized")
)

// Envelope is the message format produced by the webhook forwarder in front
// of the durable queue: the interesting GitHub headers plus the raw body.
type Envelope struct {
	Headers struct {
		Event      string `json:"x-github-event"`
		DeliveryID string `json:"x-github-delivery"`
		Signature  string `json:"x-hub-signature-256"`
	} `json:"headers"`
	Payload string `json:"payload"`
}

// Builder constructs tasks from raw event payloads, applying the trigger
// and authorization checks that must pass before a task may exist.
type Builder struct {
	mentionedUser string
	policy        *policy.Policy
}

// NewBuilder creates a Builder.
func NewBuilder(mentionedUser string, p *policy.Policy) *Builder {
	return &Builder{mentionedUser: mentionedUser, policy: p}
}

// Build parses the payload and returns a task, or an error explaining why
// no task was constructed: event.ErrUnsupported, ErrNotTriggered,
// ErrUnauthorized, or a parse failure.
func (b *Builder) Build(sourceName, eventType, deliveryID string, payload []byte) (*task.Task, error) {
	ev, err := event.Parse(eventType, deliveryID, payload)
	if err != nil {
		return nil, err
	}

	if !b.policy.IsAuthorized(ev.Actor, ev.Owner) {
		return nil, fmt.Errorf("%w: actor %q, owner %q", ErrUnauthorized, ev.Actor, ev.Owner)
	}
	if !ev.ShouldTrigger(b.mentionedUser) {
		return nil, fmt.Errorf("%w: action %q", ErrNotTriggered, ev.Action)
	}

	t := task.New(sourceName, ev, payload)
	t.SingleQueue = b.policy.SingleQueue(ev.Repo)
	return t, nil
}

// dropped reports whether the build error is an expected drop rather than a
// malformed payload.
func dropped(err error) bool {
	return errors.Is(err, event.ErrUnsupported) ||
		errors.Is(err, ErrNotTriggered) ||
		errors.Is(err, ErrUnauthorized)
}
