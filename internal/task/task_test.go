package task

import (
	"context"
	"errors"
	"testing"

	"dispatchd/internal/event"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("webhook", "issues", "acme/widgets", 42, 0)
	b := Fingerprint("webhook", "issues", "acme/widgets", 42, 0)
	if a != b {
		t.Errorf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := Fingerprint("webhook", "issues", "acme/widgets", 42, 0)

	variants := map[string]string{
		"source":     Fingerprint("sqs", "issues", "acme/widgets", 42, 0),
		"event type": Fingerprint("webhook", "issue_comment", "acme/widgets", 42, 0),
		"repo":       Fingerprint("webhook", "issues", "acme/other", 42, 0),
		"number":     Fingerprint("webhook", "issues", "acme/widgets", 43, 0),
		"comment id": Fingerprint("webhook", "issues", "acme/widgets", 42, 7),
	}
	for field, fp := range variants {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestFingerprintNoFieldBleed(t *testing.T) {
	// The separator must keep adjacent fields from running together.
	a := Fingerprint("webhook", "issuesx", "y/repo", 1, 0)
	b := Fingerprint("webhookx", "issues", "y/repo", 1, 0)
	if a == b {
		t.Error("fields bled across the separator")
	}
}

func TestNewTask(t *testing.T) {
	ev := &event.Event{Type: "issues", Repo: "acme/widgets", Number: 42}
	tk := New("webhook", ev, []byte(`{"x":1}`))

	if tk.ID != Fingerprint("webhook", "issues", "acme/widgets", 42, 0) {
		t.Error("task ID does not match the event fingerprint")
	}
	if tk.RoutingKey != "acme/widgets" {
		t.Errorf("expected routing key acme/widgets, got %s", tk.RoutingKey)
	}
	if tk.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be set")
	}
}

func TestAcknowledge(t *testing.T) {
	tk := &Task{}
	if err := tk.Acknowledge(context.Background()); err != nil {
		t.Errorf("nil ack should be a no-op, got %v", err)
	}

	wantErr := errors.New("delete failed")
	called := false
	tk.Ack = func(ctx context.Context) error {
		called = true
		return wantErr
	}
	if err := tk.Acknowledge(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected ack error to propagate, got %v", err)
	}
	if !called {
		t.Error("ack function was not invoked")
	}
}

func TestOutcomeFailed(t *testing.T) {
	if (Outcome{Status: StatusSucceeded}).Failed() {
		t.Error("succeeded outcome reported as failed")
	}
	if !(Outcome{Status: StatusFailed, Reason: ReasonTimeout}).Failed() {
		t.Error("failed outcome not reported as failed")
	}
}
