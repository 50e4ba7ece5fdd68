// Package task defines the unit of work shared by the scheduler's pending
// heap, the worker pool queue, and a tick's synchronous batch. It is
// grounded on the teacher's ReconciliationTask value object
// (control_plane/scheduler/types.go), generalized from a reconciliation job
// to an arbitrary, owner-tagged, repeatable callback.
package task

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/pluginforge/core/pluginapi"
)

// Priority orders tasks for overload deferral, not primary scheduling
// order (spec: ordering is strictly by NextFireTick, FIFO on ties).
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	Idle
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// overloadDeferral maps a priority to the number of extra ticks a repeating
// task's next fire is pushed back when the scheduler is overloaded. Lower
// priority defers more.
var overloadDeferral = map[Priority]uint64{
	Critical: 0,
	High:     1,
	Normal:   2,
	Low:      4,
	Idle:     8,
}

// ID is a process-unique, stable handle to a Task. It never aliases memory,
// so cancellation remains valid even after the Task has been popped from
// every queue that ever held it.
type ID uint64

// Callback is the zero-argument, no-return unit of work a Task wraps.
type Callback func()

// Task is a value object: owner, callback, scheduling mode, priority,
// next-fire tick, period, liveness. Liveness is an atomic flag, so Cancel
// is safe from any goroutine; the other mutable fields are written only by
// whoever currently holds the task (the scheduler under its lock, or the
// executor between pop and re-insert). Task itself carries no mutex.
type Task struct {
	ID       ID
	Owner    pluginapi.OwnerID
	HasOwner bool
	name     string
	callback Callback
	priority Priority
	period   uint64 // 0 == one-shot
	nextFire uint64
	parallel bool
	alive    atomic.Bool
}

// New constructs a Task ready for admission. nextFire and priority are set
// by the caller (the scheduler) as part of admission, not here, since they
// depend on the scheduler's current tick.
func New(id ID, owner pluginapi.OwnerID, hasOwner bool, cb Callback, parallel bool, period uint64) *Task {
	t := &Task{
		ID:       id,
		Owner:    owner,
		HasOwner: hasOwner,
		callback: cb,
		parallel: parallel,
		period:   period,
	}
	t.alive.Store(true)
	return t
}

// SetPriority assigns the task's deferral priority.
func (t *Task) SetPriority(p Priority) { t.priority = p }

// Priority returns the task's current priority.
func (t *Task) Priority() Priority { return t.priority }

// SetName assigns a human-readable label, used only for logging and the
// dashboard snapshot.
func (t *Task) SetName(name string) { t.name = name }

// Name returns the task's label, or a synthetic "task-<id>" label if none
// was set.
func (t *Task) Name() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("task-%d", t.ID)
}

// Cancel marks the task as not-alive. It is idempotent and safe to call
// more than once; only the first call has any effect.
func (t *Task) Cancel() { t.alive.Store(false) }

// Alive reports whether the task may still be executed.
func (t *Task) Alive() bool { return t.alive.Load() }

// Parallel reports whether the task executes on the worker pool rather
// than the main thread.
func (t *Task) Parallel() bool { return t.parallel }

// Repeating reports whether the task re-fires after execution.
func (t *Task) Repeating() bool { return t.period > 0 }

// Period returns the task's repeat interval in ticks (0 for one-shot).
func (t *Task) Period() uint64 { return t.period }

// NextFire returns the tick at which the task next becomes eligible.
func (t *Task) NextFire() uint64 { return t.nextFire }

// SetNextFire sets the tick at which the task first becomes eligible. Used
// only during admission.
func (t *Task) SetNextFire(tick uint64) { t.nextFire = tick }

// Invoke runs the callback exactly once, recovering and logging any panic
// without propagating it and without changing the task's liveness. This is
// the executor boundary spec.md §7 calls out: user-callback failures are
// captured here, whether Invoke is called from the scheduler's main thread
// (sync tasks) or from a worker pool goroutine (parallel tasks).
func (t *Task) Invoke() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("task %s (owner=%d) panicked: %v", t.Name(), t.Owner, r)
		}
	}()
	t.callback()
}

// Advance updates NextFire after one execution. If the task is not
// repeating it is marked dead. Otherwise NextFire is set to
// currentTick + period, plus an overload deferral term derived from the
// task's priority — this runs strictly post-execution, resolving the
// ambiguity noted in the source revisions the spec was distilled from.
func (t *Task) Advance(currentTick uint64, overloaded bool) {
	if !t.Repeating() {
		t.alive.Store(false)
		return
	}
	next := currentTick + t.period
	if overloaded {
		next += overloadDeferral[t.priority]
	}
	t.nextFire = next
}
