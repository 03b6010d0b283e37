package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts tasks by final disposition.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_total",
			Help: "Total number of tasks by disposition.",
		},
		[]string{"disposition", "source"},
	)

	// TaskDurationSeconds observes end-to-end task duration, from receipt
	// to reported.
	TaskDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_task_duration_seconds",
			Help:    "Duration of tasks from receipt to reported, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// DedupDroppedTotal counts tasks dropped by the deduplicator.
	DedupDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_dedup_dropped_total",
			Help: "Total number of tasks dropped as duplicates.",
		},
	)

	// BusySlots tracks the number of slots currently executing a task.
	BusySlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_busy_slots",
			Help: "Number of execution slots currently busy.",
		},
	)

	// SlotWaitSeconds observes how long eligible tasks waited for a slot.
	SlotWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_slot_wait_seconds",
			Help:    "Time eligible tasks spent waiting for a free slot.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// OrderedWaiting tracks tasks queued behind their routing key.
	OrderedWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_ordered_waiting",
			Help: "Tasks waiting for their turn on a single-queue routing key.",
		},
	)

	// ExecutorTimeoutsTotal counts forced kills of timed-out workers.
	ExecutorTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_executor_timeouts_total",
			Help: "Total number of worker processes killed on timeout.",
		},
	)

	// ProtocolErrorsTotal counts workers that produced no usable outcome
	// record.
	ProtocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_protocol_errors_total",
			Help: "Total number of worker outcome protocol violations.",
		},
	)

	// WebhookRequestsTotal counts webhook deliveries by result.
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_webhook_requests_total",
			Help: "Total number of webhook requests by result.",
		},
		[]string{"result"},
	)

	// DeadLetteredTotal counts messages forwarded to a dead-letter
	// destination.
	DeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_dead_lettered_total",
			Help: "Total number of messages sent to a dead-letter destination.",
		},
		[]string{"source"},
	)
)
