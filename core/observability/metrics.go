// Package observability exposes Prometheus metrics for the scheduler and
// event dispatcher, grounded on control_plane/observability/metrics.go:
// same promauto + client_golang construction style, renamed from the
// reconciliation-job domain to the tick-scheduler/event-dispatch domain.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTick tracks the current logical tick counter.
	SchedulerTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "core_scheduler_tick",
		Help: "Current logical tick counter of the scheduler main loop",
	})

	// SchedulerQueueDepth tracks the number of pending tasks in the heap.
	SchedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "core_scheduler_queue_depth",
		Help: "Current number of tasks pending in the scheduler heap",
	})

	// SchedulerOverloaded tracks whether the scheduler is currently overloaded.
	SchedulerOverloaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "core_scheduler_overloaded",
		Help: "1 if the last tick-rate measurement window exceeded its logical budget",
	})

	// SchedulerActiveParallel tracks parallel tasks currently in flight.
	SchedulerActiveParallel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "core_scheduler_active_parallel_tasks",
		Help: "Number of parallel-mode tasks currently submitted to the worker pool but not yet drained",
	})

	// SchedulerWorkerSaturation tracks worker pool queue backlog.
	SchedulerWorkerSaturation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "core_scheduler_worker_queue_depth",
		Help: "Number of closures waiting in the worker pool queue",
	})

	// SchedulerAdmissions tracks accepted task submissions by mode.
	SchedulerAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_scheduler_admissions_total",
		Help: "Total number of tasks admitted to the scheduler",
	}, []string{"mode"}) // sync_repeating, async_delayed, async_anonymous

	// SchedulerRejections tracks rejected task submissions by reason.
	SchedulerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_scheduler_rejections_total",
		Help: "Total number of tasks rejected by scheduler admission control",
	}, []string{"reason"}) // not_active, frozen, draining, rate_limited

	// SchedulerCancellations counts cancel calls, individual vs bulk (one
	// increment per call, however many tasks it marks).
	SchedulerCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_scheduler_cancellations_total",
		Help: "Total number of cancel calls, by scope",
	}, []string{"scope"}) // single, owner, all

	// SchedulerLoopDuration tracks the wall time of one main-loop iteration.
	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "core_scheduler_loop_duration_seconds",
		Help:    "Duration of one scheduler main-loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// EventsDispatched tracks successful delegate invocations by band.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_events_dispatched_total",
		Help: "Total number of delegate invocations",
	}, []string{"band"})

	// EventsFailed tracks delegate invocations that panicked.
	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_events_delegate_failures_total",
		Help: "Total number of delegate invocations that panicked and were recovered",
	}, []string{"band"})

	// EventChainsEmitted tracks emit_sync/emit_async calls.
	EventChainsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_events_chains_emitted_total",
		Help: "Total number of emit_sync/emit_async calls",
	}, []string{"mode"}) // sync, async

	// EventPublishFailures tracks failed best-effort audit publishes. Named
	// after the identical metric in the teacher's observability package,
	// which anticipated exactly this "non-blocking, best-effort" shape.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_event_publish_failures_total",
		Help: "Failed best-effort event audit publish attempts",
	}, []string{"reason"})

	// RegistrySize tracks live delegate registrations per owner.
	RegistrySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "core_events_registry_size",
		Help: "Current number of live delegate registrations for an owner",
	}, []string{"owner"})
)
