package event

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v60/github"
)

// Actions that can trigger work. Everything else (closed, labeled, ...) is
// ignored at the source.
var triggerActions = map[string]bool{
	"opened":  true,
	"created": true,
	"edited":  true,
}

// ErrUnsupported marks webhook event types the engine does not handle.
var ErrUnsupported = errors.New("unsupported event type")

// Event is the normalized view of a GitHub webhook event. Sources build it
// once; everything downstream (fingerprinting, routing, the worker prompt,
// result reporting) reads from it.
type Event struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	DeliveryID string `json:"delivery_id"`

	Repo      string `json:"repo"`  // owner/name
	Owner     string `json:"owner"` // repository owner login
	CloneURL  string `json:"clone_url"`
	Actor     string `json:"actor"` // sender login

	// Number is the issue or pull request number the event is about.
	Number    int64 `json:"number"`
	CommentID int64 `json:"comment_id,omitempty"`

	// IsPullRequest distinguishes PR-flavored events so the result sink
	// comments on the right object.
	IsPullRequest bool `json:"is_pull_request"`

	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Parse decodes a raw GitHub webhook payload of the given type into a
// normalized Event. Returns ErrUnsupported for event types the engine does
// not act on.
func Parse(eventType, deliveryID string, payload []byte) (*Event, error) {
	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
	}

	ev := &Event{Type: eventType, DeliveryID: deliveryID}

	switch e := raw.(type) {
	case *github.IssuesEvent:
		ev.Action = e.GetAction()
		fillRepo(ev, e.GetRepo())
		ev.Actor = e.GetSender().GetLogin()
		ev.Number = int64(e.GetIssue().GetNumber())
		ev.Title = e.GetIssue().GetTitle()
		ev.Body = e.GetIssue().GetBody()
		ev.URL = e.GetIssue().GetHTMLURL()
	case *github.PullRequestEvent:
		ev.Action = e.GetAction()
		fillRepo(ev, e.GetRepo())
		ev.Actor = e.GetSender().GetLogin()
		ev.Number = int64(e.GetPullRequest().GetNumber())
		ev.IsPullRequest = true
		ev.Title = e.GetPullRequest().GetTitle()
		ev.Body = e.GetPullRequest().GetBody()
		ev.URL = e.GetPullRequest().GetHTMLURL()
	case *github.IssueCommentEvent:
		ev.Action = e.GetAction()
		fillRepo(ev, e.GetRepo())
		ev.Actor = e.GetSender().GetLogin()
		ev.Number = int64(e.GetIssue().GetNumber())
		ev.CommentID = e.GetComment().GetID()
		ev.IsPullRequest = e.GetIssue().IsPullRequest()
		ev.Title = e.GetIssue().GetTitle()
		ev.Body = e.GetComment().GetBody()
		ev.URL = e.GetComment().GetHTMLURL()
	case *github.PullRequestReviewCommentEvent:
		ev.Action = e.GetAction()
		fillRepo(ev, e.GetRepo())
		ev.Actor = e.GetSender().GetLogin()
		ev.Number = int64(e.GetPullRequest().GetNumber())
		ev.CommentID = e.GetComment().GetID()
		ev.IsPullRequest = true
		ev.Title = e.GetPullRequest().GetTitle()
		ev.Body = e.GetComment().GetBody()
		ev.URL = e.GetComment().GetHTMLURL()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, eventType)
	}

	if ev.Repo == "" {
		return nil, fmt.Errorf("parse %s payload: missing repository", eventType)
	}
	return ev, nil
}

func fillRepo(ev *Event, repo *github.Repository) {
	ev.Repo = repo.GetFullName()
	ev.Owner = repo.GetOwner().GetLogin()
	ev.CloneURL = repo.GetCloneURL()
}

// ShouldTrigger reports whether the event both has a trigger action and
// mentions the configured handle.
func (e *Event) ShouldTrigger(handle string) bool {
	if !triggerActions[e.Action] {
		return false
	}
	return e.Mentions(handle)
}

// Mentions reports whether the event body @-mentions the given handle.
func (e *Event) Mentions(handle string) bool {
	if handle == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|\W)@` + regexp.QuoteMeta(handle) + `\b`)
	return re.MatchString(e.Body)
}

// TaskContext renders the event into the task description handed to the
// worker.
func (e *Event) TaskContext() string {
	var b strings.Builder
	switch {
	case e.CommentID != 0 && e.IsPullRequest:
		fmt.Fprintf(&b, "A comment was posted on pull request #%d (%s) in %s.\n\n", e.Number, e.Title, e.Repo)
	case e.CommentID != 0:
		fmt.Fprintf(&b, "A comment was posted on issue #%d (%s) in %s.\n\n", e.Number, e.Title, e.Repo)
	case e.IsPullRequest:
		fmt.Fprintf(&b, "Pull request #%d was %s in %s: %s\n\n", e.Number, e.Action, e.Repo, e.Title)
	default:
		fmt.Fprintf(&b, "Issue #%d was %s in %s: %s\n\n", e.Number, e.Action, e.Repo, e.Title)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, "%s\n\n", e.Body)
	}
	fmt.Fprintf(&b, "Link: %s\n", e.URL)
	return b.String()
}
