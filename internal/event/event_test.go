package event

import (
	"errors"
	"strings"
	"testing"
)

const issuesPayload = `{
	"action": "opened",
	"issue": {
		"number": 42,
		"title": "Fix the flaky test",
		"body": "@devbot please take a look",
		"html_url": "https://github.com/acme/widgets/issues/42"
	},
	"repository": {
		"full_name": "acme/widgets",
		"clone_url": "https://github.com/acme/widgets.git",
		"owner": {"login": "acme"}
	},
	"sender": {"login": "alice"}
}`

const issueCommentPayload = `{
	"action": "created",
	"issue": {
		"number": 42,
		"title": "Fix the flaky test",
		"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/42"}
	},
	"comment": {
		"id": 9001,
		"body": "@devbot what do you think?",
		"html_url": "https://github.com/acme/widgets/issues/42#issuecomment-9001"
	},
	"repository": {
		"full_name": "acme/widgets",
		"owner": {"login": "acme"}
	},
	"sender": {"login": "bob"}
}`

func TestParseIssuesEvent(t *testing.T) {
	ev, err := Parse("issues", "delivery-1", []byte(issuesPayload))
	if err != nil {
		t.Fatalf("failed to parse issues event: %v", err)
	}

	if ev.Action != "opened" {
		t.Errorf("expected action opened, got %s", ev.Action)
	}
	if ev.Repo != "acme/widgets" {
		t.Errorf("expected repo acme/widgets, got %s", ev.Repo)
	}
	if ev.Owner != "acme" {
		t.Errorf("expected owner acme, got %s", ev.Owner)
	}
	if ev.Actor != "alice" {
		t.Errorf("expected actor alice, got %s", ev.Actor)
	}
	if ev.Number != 42 {
		t.Errorf("expected number 42, got %d", ev.Number)
	}
	if ev.IsPullRequest {
		t.Error("issue event should not be flagged as a pull request")
	}
	if ev.DeliveryID != "delivery-1" {
		t.Errorf("expected delivery ID delivery-1, got %s", ev.DeliveryID)
	}
}

func TestParseIssueCommentOnPullRequest(t *testing.T) {
	ev, err := Parse("issue_comment", "delivery-2", []byte(issueCommentPayload))
	if err != nil {
		t.Fatalf("failed to parse issue_comment event: %v", err)
	}

	if ev.CommentID != 9001 {
		t.Errorf("expected comment ID 9001, got %d", ev.CommentID)
	}
	if !ev.IsPullRequest {
		t.Error("comment on a PR should be flagged as a pull request")
	}
	if ev.Body != "@devbot what do you think?" {
		t.Errorf("expected comment body, got %q", ev.Body)
	}
}

func TestParseUnsupportedType(t *testing.T) {
	_, err := Parse("watch", "delivery-3", []byte(`{"action":"started"}`))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseMalformedPayload(t *testing.T) {
	_, err := Parse("issues", "delivery-4", []byte(`{not json`))
	if err == nil {
		t.Fatal("expected a parse error for malformed payload")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Error("malformed payload must not be classified as unsupported")
	}
}

func TestShouldTrigger(t *testing.T) {
	tests := []struct {
		name   string
		action string
		body   string
		want   bool
	}{
		{"opened with mention", "opened", "hey @devbot do this", true},
		{"opened without mention", "opened", "nothing to see", false},
		{"closed with mention", "closed", "thanks @devbot", false},
		{"mention case insensitive", "created", "ping @DevBot", true},
		{"mention as prefix of longer handle", "created", "cc @devbotnik", false},
		{"at-sign glued to a word", "created", "mail me at foo@devbot.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &Event{Action: tt.action, Body: tt.body}
			if got := ev.ShouldTrigger("devbot"); got != tt.want {
				t.Errorf("ShouldTrigger() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMentionsEmptyHandle(t *testing.T) {
	ev := &Event{Body: "@devbot hi"}
	if ev.Mentions("") {
		t.Error("empty handle must never match")
	}
}

func TestTaskContext(t *testing.T) {
	ev := &Event{
		Type:   "issues",
		Action: "opened",
		Repo:   "acme/widgets",
		Number: 42,
		Title:  "Fix the flaky test",
		Body:   "please fix",
		URL:    "https://github.com/acme/widgets/issues/42",
	}

	got := ev.TaskContext()
	for _, want := range []string{"Issue #42", "acme/widgets", "please fix", ev.URL} {
		if !strings.Contains(got, want) {
			t.Errorf("task context missing %q:\n%s", want, got)
		}
	}

	ev.CommentID = 9001
	ev.IsPullRequest = true
	got = ev.TaskContext()
	if !strings.Contains(got, "comment was posted on pull request #42") {
		t.Errorf("expected PR comment framing, got:\n%s", got)
	}
}
