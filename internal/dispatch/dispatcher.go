// Package dispatch coordinates the task pipeline: dedup, per-key ordering,
// slot acquisition, subprocess execution, and outcome reporting.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dispatchd/internal/dedup"
	"dispatchd/internal/executor"
	"dispatchd/internal/logging"
	"dispatchd/internal/metrics"
	"dispatchd/internal/ordering"
	"dispatchd/internal/pool"
	"dispatchd/internal/task"
	"dispatchd/internal/tracing"
)

// Sink reports a task's outcome upstream. Its error is advisory: the task
// counts as reported either way, so a broken sink can never leak a slot or
// stall a routing key.
type Sink interface {
	Report(ctx context.Context, t *task.Task, o task.Outcome) error
}

// Status is the read-only view served by status endpoints.
type Status struct {
	Slots  []pool.SlotStatus `json:"slots"`
	Queues map[string]int    `json:"queues"`
}

// Dispatcher receives tasks from every source and walks each one through
// Received, Queued, Eligible, Executing, and Reported.
type Dispatcher struct {
	logger   *slog.Logger
	admitter dedup.Admitter
	order    *ordering.Queue
	pool     *pool.Pool
	runner   executor.Runner
	sink     Sink

	inbound chan *task.Task
	wg      sync.WaitGroup
}

// New creates a Dispatcher.
func New(logger *slog.Logger, admitter dedup.Admitter, p *pool.Pool, runner executor.Runner, sink Sink) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With("component", "dispatcher"),
		admitter: admitter,
		order:    ordering.NewQueue(),
		pool:     p,
		runner:   runner,
		sink:     sink,
		inbound:  make(chan *task.Task),
	}
}

// Submit is the entry point for every TaskSource. Duplicates are dropped
// here, before they can occupy a slot; accepted tasks are handed to the run
// loop and executed asynchronously.
func (d *Dispatcher) Submit(ctx context.Context, t *task.Task) (task.Decision, error) {
	admitted, err := d.admitter.Admit(ctx, t.ID)
	if err != nil {
		// Dedup store trouble must not stop ingestion; admit and move on.
		d.logger.Warn("dedup admit failed, accepting task", "task_id", t.ID, "err", err)
		admitted = true
	}
	if !admitted {
		metrics.DedupDroppedTotal.Inc()
		metrics.TasksTotal.WithLabelValues("deduped", t.Source).Inc()
		d.logger.Info("duplicate task dropped", "task_id", t.ID, "routing_key", t.RoutingKey)
		d.acknowledge(t)
		return task.Deduped, nil
	}

	select {
	case d.inbound <- t:
		return task.Accepted, nil
	case <-ctx.Done():
		return task.Rejected, ctx.Err()
	}
}

// Run consumes submitted tasks until ctx ends, then waits for in-flight
// tasks to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "slots", d.pool.Size())
	for {
		select {
		case t := <-d.inbound:
			// Register with the ordering queue here, while tasks are still
			// serialized, so per-key FIFO reflects submission order. The
			// per-task goroutine only waits on the grant.
			grant := d.order.Enter(t.RoutingKey, t.SingleQueue)
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.process(ctx, t, grant)
			}()
		case <-ctx.Done():
			d.logger.Info("dispatcher draining")
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		}
	}
}

// process walks one task from Queued to Reported. Slot release and ordering
// advance are deferred so no failure mode can leak a slot or block a key.
func (d *Dispatcher) process(ctx context.Context, t *task.Task, grant <-chan struct{}) {
	ctx = logging.WithTaskID(ctx, t.ID)
	logger := d.logger.With("task_id", t.ID, "routing_key", t.RoutingKey, "source", t.Source)

	ctx, span := tracing.TaskSpan(ctx, "process", t.ID, t.RoutingKey)
	defer span.End()

	select {
	case <-grant:
	case <-ctx.Done():
		logger.Warn("task abandoned before becoming eligible", "err", ctx.Err())
		// The turn still arrives eventually; pass it on so the key is not
		// blocked for whoever queued behind us.
		go func() {
			<-grant
			d.order.Leave(t.RoutingKey, t.SingleQueue)
		}()
		return
	}

	waitStart := time.Now()
	slot, err := d.pool.Acquire(ctx, t.ID)
	if err != nil {
		d.order.Leave(t.RoutingKey, t.SingleQueue)
		logger.Warn("task abandoned waiting for a slot", "err", err)
		return
	}
	metrics.SlotWaitSeconds.Observe(time.Since(waitStart).Seconds())

	defer func() {
		d.pool.Release(slot)
		d.order.Leave(t.RoutingKey, t.SingleQueue)
	}()

	logger.Info("task executing", "slot", slot.Name, "attempt", t.Attempt)
	outcome := d.runner.Run(ctx, slot, t)

	if err := d.sink.Report(ctx, t, outcome); err != nil {
		logger.Error("result reporting failed", "err", err)
	}
	d.acknowledge(t)

	disposition := string(outcome.Status)
	metrics.TasksTotal.WithLabelValues(disposition, t.Source).Inc()
	metrics.TaskDurationSeconds.Observe(time.Since(t.ReceivedAt).Seconds())
	logger.Info("task reported", "status", outcome.Status, "reason", outcome.Reason, "slot", slot.Name)
}

// acknowledge removes the task from its source queue. It runs under its own
// deadline because the pipeline context may already be shutting down.
func (d *Dispatcher) acknowledge(t *task.Task) {
	if t.Ack == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.Acknowledge(ctx); err != nil {
		d.logger.Error("task acknowledgment failed", "task_id", t.ID, "err", err)
	}
}

// Status returns a snapshot of slots and per-key queue depths.
func (d *Dispatcher) Status() Status {
	return Status{
		Slots:  d.pool.Status(),
		Queues: d.order.Depths(),
	}
}
