package scheduler

import (
	"errors"
	"time"
)

// TaskHandle is the stable, process-unique identity returned by every
// schedule_* call. Per spec.md §9's design note, this is a single-owner
// arena index (the task's task.ID), not a refcounted or shared pointer:
// stable for the life of the task and cheap to copy.
type TaskHandle uint64

// AdmissionMode lets an operator override task admission independently of
// overload, adapted from the teacher's Pilot Kill Switch
// (control_plane/scheduler/types.go's AdmissionMode).
type AdmissionMode int

const (
	// AdmissionNormal admits tasks subject only to the not-active and
	// per-owner rate-limit checks; overload never rejects a task.
	AdmissionNormal AdmissionMode = iota
	// AdmissionDrain rejects new tasks; tasks already pending still run.
	AdmissionDrain
	// AdmissionFreeze rejects new tasks and additionally halts the main
	// loop's drain step, so no further tasks fire until lifted.
	AdmissionFreeze
)

func (m AdmissionMode) String() string {
	switch m {
	case AdmissionNormal:
		return "normal"
	case AdmissionDrain:
		return "drain"
	case AdmissionFreeze:
		return "freeze"
	default:
		return "unknown"
	}
}

// Config holds the scheduler's externally tunable knobs, matching
// spec.md §6's recognized configuration options plus the supplemental
// per-owner admission limiter. Grounded on the teacher's SchedulerConfig /
// DefaultSchedulerConfig (control_plane/scheduler/types.go).
type Config struct {
	// TicksPerSecond is the target logical tick rate. Default 60.
	TicksPerSecond uint64
	// WorkerThreads is the worker pool size. Default: NumCPU * 3, capped.
	WorkerThreads int
	// OwnerRateLimit, if > 0, caps task admissions per second per owner via
	// a token bucket (golang.org/x/time/rate). Zero disables the limiter
	// entirely, which is the default — no host is forced to opt in.
	OwnerRateLimit float64
	// OwnerRateBurst is the token bucket burst size when OwnerRateLimit > 0.
	OwnerRateBurst int
}

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		TicksPerSecond: 60,
		WorkerThreads:  0, // 0 == workerpool.DefaultSize()
		OwnerRateLimit: 0,
		OwnerRateBurst: 0,
	}
}

// Metrics is a point-in-time snapshot for dashboards and tests, modeled on
// the teacher's SchedulerMetrics (control_plane/scheduler/types.go).
type Metrics struct {
	Tick             uint64        `json:"tick"`
	QueueDepth       int           `json:"queue_depth"`
	ActiveParallel   int           `json:"active_parallel_tasks"`
	WorkerQueueDepth int           `json:"worker_queue_depth"`
	TicksPerSecond   uint64        `json:"ticks_per_second"`
	Overloaded       bool          `json:"overloaded"`
	Active           bool          `json:"active"`
	AdmissionMode    string        `json:"admission_mode"`
	ThreadCount      int           `json:"thread_count"`
	Uptime           time.Duration `json:"-"`
}

var (
	// ErrNotActive is returned when schedule_* is called after Run's main
	// loop has already stopped (ctx cancelled or Stop called). Scheduling
	// ahead of the first Run call is still allowed, since hosts routinely
	// pre-populate tasks before starting the loop.
	ErrNotActive = errors.New("scheduler: not active")
	// ErrAdmissionFrozen is returned in AdmissionFreeze mode.
	ErrAdmissionFrozen = errors.New("scheduler: admission frozen")
	// ErrAdmissionDraining is returned in AdmissionDrain mode.
	ErrAdmissionDraining = errors.New("scheduler: admission draining")
	// ErrAdmissionLimited is returned when an owner's token bucket is empty.
	ErrAdmissionLimited = errors.New("scheduler: owner admission rate limited")
)
