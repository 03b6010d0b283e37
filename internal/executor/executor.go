// Package executor runs each task in a fresh, isolated worker process. A
// crash, leak, or hang inside the work can kill the child but never the
// coordinator.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"dispatchd/internal/logging"
	"dispatchd/internal/metrics"
	"dispatchd/internal/pool"
	"dispatchd/internal/task"
	"dispatchd/internal/tracing"
)

// Runner executes a task against a slot and returns its outcome. The
// dispatcher depends on this interface; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, slot *pool.Slot, t *task.Task) task.Outcome
}

// Subprocess is the production Runner. It spawns the worker binary once per
// task, never reusing a process.
type Subprocess struct {
	// Command is the worker binary. Args are fixed; the request rides on
	// stdin.
	Command string
	Args    []string

	// Timeout is the hard wall-clock limit per task.
	Timeout time.Duration
}

// NewSubprocess creates a Subprocess runner.
func NewSubprocess(command string, timeout time.Duration) *Subprocess {
	return &Subprocess{Command: command, Timeout: timeout}
}

// Run launches the worker, feeds it the request over stdin, enforces the
// timeout, and decodes the outcome record from stdout. All failure modes
// come back as a failed Outcome; Run itself never panics the coordinator.
func (e *Subprocess) Run(ctx context.Context, slot *pool.Slot, t *task.Task) task.Outcome {
	logger := logging.FromContext(ctx).With("component", "executor", "task_id", t.ID, "slot", slot.Name)

	ctx, span := tracing.ExecutorSpan(ctx, t.ID, slot.Name)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	req := Request{
		TaskID:         t.ID,
		Slot:           slot.Name,
		Attempt:        t.Attempt,
		Event:          t.Event,
		Payload:        t.Payload,
		TimeoutSeconds: int(e.Timeout.Seconds()),
	}
	input, err := json.Marshal(req)
	if err != nil {
		return task.Outcome{Status: task.StatusFailed, Reason: task.ReasonWorkerError, Summary: fmt.Sprintf("encode request: %v", err)}
	}

	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The worker spawns docker/git/agent children; kill the whole group on
	// timeout so nothing outlives the task.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	logger.Info("starting worker process")
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		metrics.ExecutorTimeoutsTotal.Inc()
		logger.Error("worker exceeded timeout, process tree killed",
			"timeout", e.Timeout, "elapsed", elapsed)
		return task.Outcome{
			Status:  task.StatusFailed,
			Reason:  task.ReasonTimeout,
			Summary: fmt.Sprintf("task exceeded the %s execution timeout", e.Timeout),
		}
	}
	if errors.Is(runCtx.Err(), context.Canceled) {
		// Coordinator shutdown, not a worker contract violation.
		logger.Warn("worker aborted by coordinator shutdown", "elapsed", elapsed)
		return task.Outcome{
			Status:  task.StatusFailed,
			Reason:  task.ReasonShutdown,
			Summary: "task aborted by coordinator shutdown",
		}
	}

	rec, decodeErr := decodeRecord(stdout.Bytes())
	if decodeErr != nil {
		// A worker that exits without a usable record broke the contract;
		// this is logged louder than an ordinary task failure.
		metrics.ProtocolErrorsTotal.Inc()
		logger.Error("worker produced no usable outcome record",
			"err", decodeErr, "run_err", runErr, "stderr_tail", tail(stderr.String(), 500))
		return task.Outcome{
			Status:  task.StatusFailed,
			Reason:  task.ReasonProtocolError,
			Summary: "worker produced no structured outcome",
			Output:  tail(stderr.String(), 2000),
		}
	}

	outcome := task.Outcome{
		Summary: rec.Summary,
		Action:  rec.Action,
		Output:  rec.Output,
	}
	if rec.Success && runErr == nil {
		outcome.Status = task.StatusSucceeded
		logger.Info("worker completed", "elapsed", elapsed)
		return outcome
	}

	outcome.Status = task.StatusFailed
	outcome.Reason = task.ReasonAgentError
	if rec.Error != "" {
		outcome.Summary = rec.Error
	}
	if runErr != nil && rec.Error == "" {
		outcome.Reason = task.ReasonWorkerError
		outcome.Summary = fmt.Sprintf("worker exited: %v", runErr)
	}
	logger.Warn("worker reported failure", "reason", outcome.Reason, "elapsed", elapsed)
	return outcome
}

// decodeRecord parses the last non-empty stdout line as the outcome record.
func decodeRecord(out []byte) (*Record, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("malformed outcome record: %w", err)
		}
		return &rec, nil
	}
	return nil, errors.New("empty worker output")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
