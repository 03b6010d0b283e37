// Package report delivers task outcomes upstream: a comment on the
// originating issue or pull request, plus an operator notification for
// contract violations.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"dispatchd/internal/notify"
	"dispatchd/internal/task"
)

// issuesService is the slice of the GitHub API the sink needs.
type issuesService interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

// GitHubSink reports outcomes as GitHub comments. Report never lets an
// upstream failure escape in a way that could block slot release; delivery
// errors are retried, then logged and dropped.
type GitHubSink struct {
	issues   issuesService
	notifier notify.Notifier
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewGitHubSink builds a sink around an authenticated GitHub client.
func NewGitHubSink(token string, notifier notify.Notifier, logger *slog.Logger) *GitHubSink {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return newGitHubSink(github.NewClient(tc), notifier, logger)
}

func newGitHubSink(client *github.Client, notifier notify.Notifier, logger *slog.Logger) *GitHubSink {
	return &GitHubSink{
		issues:   client.Issues,
		notifier: notifier,
		policy:   DefaultRetryPolicy(),
		logger:   logger.With("component", "report"),
	}
}

// Report posts the outcome back on the task's issue or pull request and
// returns the final delivery error, if any. Callers treat the error as
// advisory; the task is considered reported either way.
func (s *GitHubSink) Report(ctx context.Context, t *task.Task, o task.Outcome) error {
	owner, repo, ok := splitRepo(t.RoutingKey)
	if !ok {
		return fmt.Errorf("report: malformed repository %q", t.RoutingKey)
	}

	body := formatComment(o)
	err := s.policy.retry(ctx, func(ctx context.Context) error {
		_, resp, err := s.issues.CreateComment(ctx, owner, repo, int(t.Event.Number), &github.IssueComment{Body: &body})
		if err != nil {
			return err
		}
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("comment rejected: status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to deliver outcome comment",
			"task_id", t.ID, "repo", t.RoutingKey, "err", err)
	}

	s.notifyOperator(ctx, t, o)
	return err
}

// notifyOperator pings ntfy for failures that indicate something is wrong
// with the system rather than the task.
func (s *GitHubSink) notifyOperator(ctx context.Context, t *task.Task, o task.Outcome) {
	if s.notifier == nil {
		return
	}
	if o.Reason != task.ReasonTimeout && o.Reason != task.ReasonProtocolError {
		return
	}
	title := fmt.Sprintf("Task %s: %s", o.Reason, t.RoutingKey)
	message := fmt.Sprintf("Task %s on %s #%d failed: %s", shortID(t.ID), t.RoutingKey, t.Event.Number, o.Summary)
	if err := s.notifier.Send(ctx, title, message, notify.PriorityUrgent); err != nil {
		s.logger.Warn("operator notification failed", "err", err)
	}
}

func formatComment(o task.Outcome) string {
	if o.Status == task.StatusSucceeded {
		var b strings.Builder
		b.WriteString("🤖 **Assistant update**\n\n")
		if o.Summary != "" {
			b.WriteString(o.Summary + "\n\n")
		}
		if o.Output != "" {
			fmt.Fprintf(&b, "<details>\n<summary>Full execution log</summary>\n\n```\n%s\n```\n\n</details>\n", tail(o.Output, 2000))
		}
		return b.String()
	}

	reason := o.Summary
	if reason == "" {
		reason = o.Reason
	}
	return fmt.Sprintf("🤖 **Assistant error**\n\nI encountered an error while processing your request:\n\n```\n%s\n```\n\nPlease check the dispatcher logs for details, or mention me again with a more specific request.\n", reason)
}

func splitRepo(fullName string) (owner, repo string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
