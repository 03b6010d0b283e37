// Package worker is the subprocess side of the execution protocol. One
// worker process handles exactly one task: it reads the request from stdin,
// drives the coding agent inside the slot's dev container, and emits a
// single outcome record on stdout. Logs go to stderr so stdout stays a
// clean protocol channel.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"strings"
	"time"

	"dispatchd/internal/executor"
	"dispatchd/internal/task"
)

const promptPreamble = `You are an AI developer helping build a software project in a GitHub repository. You have been mentioned in a GitHub issue/PR and need to take action.

You should ensure you're on the latest main branch if starting a fresh task (git pull origin main), and generally work on feature branches for changes. Submit your changes as a draft pull request when done (mention that it closes an issue number if it does).

If you need to ask for clarification, or if only asked for your thoughts, please respond with a comment on the issue/PR.

You should always comment back in any case. The ` + "`gh`" + ` CLI is available for GitHub operations, and you can use ` + "`git`" + ` too.
`

// Options configures a worker run.
type Options struct {
	// AgentCommand is executed inside the container; the prompt is appended
	// as the final argument.
	AgentCommand []string
	// WorkspaceDir is the base directory inside the container that holds
	// per-slot workspace checkouts. Defaults to /workspaces.
	WorkspaceDir string

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// Run processes one task request from in and writes the outcome record to
// out. The returned code is the process exit status.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options, logger *slog.Logger) int {
	var req executor.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		logger.Error("failed to decode request from stdin", "err", err)
		emit(out, executor.Record{Success: false, Error: fmt.Sprintf("decode request: %v", err)})
		return 1
	}

	logger = logger.With("task_id", req.TaskID, "slot", req.Slot, "repo", req.Event.Repo)
	logger.Info("worker started", "attempt", req.Attempt)

	rec := execute(ctx, req, opts, logger)
	rec.TaskID = req.TaskID
	emit(out, rec)

	if rec.Success {
		return 0
	}
	return 1
}

func execute(ctx context.Context, req executor.Request, opts Options, logger *slog.Logger) executor.Record {
	if len(opts.AgentCommand) == 0 {
		return executor.Record{Success: false, Error: "no agent command configured"}
	}

	// Leave the coordinator a margin to collect our record before it kills
	// the process group.
	if req.TimeoutSeconds > 0 {
		budget := time.Duration(req.TimeoutSeconds)*time.Second - time.Minute
		if budget < time.Minute {
			budget = time.Duration(req.TimeoutSeconds) * time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	prompt := buildPrompt(req)
	workspace := workspaceName(req)
	base := opts.WorkspaceDir
	if base == "" {
		base = "/workspaces"
	}

	args := []string{"exec", "-i", "-w", path.Join(base, workspace), req.Slot}
	args = append(args, opts.AgentCommand...)
	args = append(args, prompt)

	logger.Info("running agent", "container", req.Slot, "workspace", workspace)

	run := opts.runCommand
	if run == nil {
		run = runCommand
	}
	stdout, stderr, err := run(ctx, "docker", args...)
	output := string(stdout)

	if err != nil {
		logger.Error("agent run failed", "err", err, "stderr_tail", tail(string(stderr), 500))
		return executor.Record{
			Success: false,
			Error:   fmt.Sprintf("agent execution failed: %v", err),
			Output:  output,
		}
	}

	logger.Info("agent run completed", "output_length", len(output))
	return executor.Record{
		Success: true,
		Summary: summarize(output),
		Action:  detectAction(output),
		Output:  output,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func buildPrompt(req executor.Request) string {
	return promptPreamble + "\n" + req.Event.TaskContext()
}

// workspaceName derives the per-task workspace directory inside the
// container.
func workspaceName(req executor.Request) string {
	slug := strings.ReplaceAll(req.Event.Repo, "/", "-")
	return slug + "-" + req.Slot
}

// summarize extracts the lines describing concrete actions from the agent
// output.
func summarize(output string) string {
	keywords := []string{
		"created", "fixed", "implemented", "updated", "added",
		"pull request", "branch", "commit", "merged",
	}

	var picked []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				picked = append(picked, "- "+line)
				break
			}
		}
		if len(picked) == 10 {
			break
		}
	}

	if len(picked) == 0 {
		return "Analyzed the request and provided feedback (see full log for details)."
	}
	return strings.Join(picked, "\n")
}

// detectAction decides whether the agent opened a pull request or only
// commented.
func detectAction(output string) task.FollowUpAction {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "pull request") || strings.Contains(lower, "draft pr") {
		return task.ActionPullRequest
	}
	return task.ActionComment
}

func emit(out io.Writer, rec executor.Record) {
	enc := json.NewEncoder(out)
	_ = enc.Encode(rec)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
