// Package scheduler implements the tick-driven main loop described in
// spec.md §4.3: a fixed-rate cooperative loop that drains a priority
// (by next-fire-tick) queue of tasks each tick, handing parallel tasks to
// a worker pool and running synchronous tasks inline in FIFO order. It is
// grounded on control_plane/scheduler/scheduler.go's admission/lock
// discipline (RWMutex-guarded state, detached dispatch goroutines with
// recover, Prometheus instrumentation at every decision point), adapted
// from sharded-reconciliation-job admission to tick-keyed task admission.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pluginforge/core/observability"
	"github.com/pluginforge/core/pluginapi"
	"github.com/pluginforge/core/task"
	"github.com/pluginforge/core/workerpool"
)

// Scheduler owns the tick clock, the pending-task heap, admission, bulk
// cancellation, and the main-thread dispatch loop (spec.md §3).
type Scheduler struct {
	// schedulerLock guards pending, tick, overloaded and admissionMode
	// writes, per spec.md §5. It is held across single-task pushes/pops
	// but released before user callbacks run.
	schedulerLock sync.Mutex

	pending *pendingQueue
	byID    map[task.ID]*task.Task

	tick          uint64
	targetTPS     uint64
	overloaded    bool
	active        bool
	stopped       bool // true once Run's main loop has exited at least once
	admissionMode AdmissionMode

	nextID         uint64
	nextSeq        uint64 // reserved for future FIFO needs outside pending
	clock          pluginapi.Clock
	pool           *workerpool.Pool
	limiter        *ownerLimiter
	stopOnce       sync.Once
	stopCh         chan struct{}
	activeParallel int64 // atomic: parallel tasks submitted but not yet drained

	startedAt time.Time
}

// New constructs a Scheduler. The worker pool is created but not started
// until Run is called.
func New(cfg Config, clock pluginapi.Clock) *Scheduler {
	if cfg.TicksPerSecond == 0 {
		cfg.TicksPerSecond = 60
	}
	workers := cfg.WorkerThreads
	if workers <= 0 {
		workers = workerpool.DefaultSize()
	}
	if clock == nil {
		clock = pluginapi.SystemClock{}
	}
	return &Scheduler{
		pending:   newPendingQueue(),
		byID:      make(map[task.ID]*task.Task),
		targetTPS: cfg.TicksPerSecond,
		clock:     clock,
		pool:      workerpool.New(workers),
		limiter:   newOwnerLimiter(cfg.OwnerRateLimit, cfg.OwnerRateBurst),
		stopCh:    make(chan struct{}),
	}
}

// --- Introspection -------------------------------------------------------

func (s *Scheduler) IsActive() bool {
	s.schedulerLock.Lock()
	defer s.schedulerLock.Unlock()
	return s.active
}

func (s *Scheduler) IsOverloaded() bool {
	s.schedulerLock.Lock()
	defer s.schedulerLock.Unlock()
	return s.overloaded
}

func (s *Scheduler) UptimeTicks() uint64 {
	s.schedulerLock.Lock()
	defer s.schedulerLock.Unlock()
	return s.tick
}

func (s *Scheduler) ThreadCount() int { return s.pool.Size() }

func (s *Scheduler) TicksPerSecond() uint64 {
	s.schedulerLock.Lock()
	defer s.schedulerLock.Unlock()
	return s.targetTPS
}

// SetTicksPerSecond updates the target rate. It takes effect at the next
// measurement window, per spec.md §6.
func (s *Scheduler) SetTicksPerSecond(tps uint64) {
	if tps == 0 {
		tps = 1
	}
	s.schedulerLock.Lock()
	s.targetTPS = tps
	s.schedulerLock.Unlock()
}

// SetAdmissionMode updates the operator admission override (§3 SPEC_FULL).
func (s *Scheduler) SetAdmissionMode(mode AdmissionMode) {
	s.schedulerLock.Lock()
	s.admissionMode = mode
	s.schedulerLock.Unlock()
}

// GetMetrics returns a point-in-time snapshot for dashboards and tests.
func (s *Scheduler) GetMetrics() Metrics {
	s.schedulerLock.Lock()
	defer s.schedulerLock.Unlock()
	var uptime time.Duration
	if !s.startedAt.IsZero() {
		uptime = s.clock.Now().Sub(s.startedAt)
	}
	return Metrics{
		Tick:             s.tick,
		QueueDepth:       s.pending.len(),
		ActiveParallel:   int(atomic.LoadInt64(&s.activeParallel)),
		WorkerQueueDepth: s.pool.QueueLen(),
		TicksPerSecond:   s.targetTPS,
		Overloaded:       s.overloaded,
		Active:           s.active,
		AdmissionMode:    s.admissionMode.String(),
		ThreadCount:      s.pool.Size(),
		Uptime:           uptime,
	}
}

// --- Admission -------------------------------------------------------

// admissionCheck applies the AdmissionMode + per-owner rate limit gates
// that run ahead of ordinary queue admission, mirroring the ordering of
// checks in the teacher's Scheduler.Submit (kill-switch before queue
// logic).
func (s *Scheduler) admissionCheck(owner pluginapi.OwnerID, hasOwner bool) error {
	s.schedulerLock.Lock()
	stopped := s.stopped
	mode := s.admissionMode
	s.schedulerLock.Unlock()

	if stopped {
		observability.SchedulerRejections.WithLabelValues("not_active").Inc()
		return ErrNotActive
	}

	switch mode {
	case AdmissionFreeze:
		observability.SchedulerRejections.WithLabelValues("frozen").Inc()
		return ErrAdmissionFrozen
	case AdmissionDrain:
		observability.SchedulerRejections.WithLabelValues("draining").Inc()
		return ErrAdmissionDraining
	}

	if !s.limiter.Allow(owner, hasOwner) {
		observability.SchedulerRejections.WithLabelValues("rate_limited").Inc()
		return ErrAdmissionLimited
	}
	return nil
}

func (s *Scheduler) allocID() task.ID {
	s.schedulerLock.Lock()
	s.nextID++
	id := s.nextID
	s.schedulerLock.Unlock()
	return task.ID(id)
}

func (s *Scheduler) admit(t *task.Task, delay uint64) TaskHandle {
	s.schedulerLock.Lock()
	t.SetNextFire(s.tick + delay)
	s.pending.push(t)
	s.byID[t.ID] = t
	s.schedulerLock.Unlock()
	return TaskHandle(t.ID)
}

// ScheduleSyncRepeating admits a main-thread task that fires every period
// ticks, first firing at tick+delay. period == 0 makes it one-shot.
func (s *Scheduler) ScheduleSyncRepeating(owner pluginapi.OwnerID, hasOwner bool, cb task.Callback, priority task.Priority, delay, period uint64) (TaskHandle, error) {
	if err := s.admissionCheck(owner, hasOwner); err != nil {
		return 0, err
	}
	t := task.New(s.allocID(), owner, hasOwner, cb, false, period)
	t.SetPriority(priority)
	h := s.admit(t, delay)
	observability.SchedulerAdmissions.WithLabelValues("sync_repeating").Inc()
	return h, nil
}

// ScheduleAsyncDelayed admits a one-shot parallel task firing at tick+delay.
func (s *Scheduler) ScheduleAsyncDelayed(owner pluginapi.OwnerID, hasOwner bool, cb task.Callback, priority task.Priority, delay uint64) (TaskHandle, error) {
	if err := s.admissionCheck(owner, hasOwner); err != nil {
		return 0, err
	}
	t := task.New(s.allocID(), owner, hasOwner, cb, true, 0)
	t.SetPriority(priority)
	h := s.admit(t, delay)
	observability.SchedulerAdmissions.WithLabelValues("async_delayed").Inc()
	return h, nil
}

// ScheduleAsyncAnonymous admits a one-shot, ownerless parallel task that
// fires at the current tick. It is unaffected by Cancel(owner) since it
// carries no owner (spec.md §8 boundary behavior).
func (s *Scheduler) ScheduleAsyncAnonymous(cb task.Callback, priority task.Priority) (TaskHandle, error) {
	if err := s.admissionCheck(pluginapi.Anonymous, false); err != nil {
		return 0, err
	}
	t := task.New(s.allocID(), pluginapi.Anonymous, false, cb, true, 0)
	t.SetPriority(priority)
	h := s.admit(t, 0)
	observability.SchedulerAdmissions.WithLabelValues("async_anonymous").Inc()
	return h, nil
}

// --- Cancellation -------------------------------------------------------

// Cancel marks every alive task owned by owner as not-alive. Already
// in-flight invocations may complete; no further invocation begins.
func (s *Scheduler) Cancel(owner pluginapi.OwnerID) {
	s.schedulerLock.Lock()
	// byID holds every admitted task that is still pending or in flight,
	// so tasks already popped for the current tick are covered too.
	for _, t := range s.byID {
		if t.HasOwner && t.Owner == owner {
			t.Cancel()
		}
	}
	s.schedulerLock.Unlock()
	observability.SchedulerCancellations.WithLabelValues("owner").Inc()
}

// CancelTask marks a single task (by its returned handle) as not-alive.
// A stale or already-dead handle is a harmless no-op.
func (s *Scheduler) CancelTask(h TaskHandle) {
	s.schedulerLock.Lock()
	if t, ok := s.byID[task.ID(h)]; ok {
		t.Cancel()
	}
	s.schedulerLock.Unlock()
	observability.SchedulerCancellations.WithLabelValues("single").Inc()
}

// CancelAll marks every alive task as not-alive. Calling it again is a
// no-op (spec.md §8 idempotence property).
func (s *Scheduler) CancelAll() {
	s.schedulerLock.Lock()
	for _, t := range s.byID {
		t.Cancel()
	}
	s.schedulerLock.Unlock()
	observability.SchedulerCancellations.WithLabelValues("all").Inc()
}

// --- Main loop -------------------------------------------------------

// Run occupies the calling goroutine as the main loop until ctx is
// cancelled or Stop is called. On return, the worker pool has been fully
// drained and joined.
func (s *Scheduler) Run(ctx context.Context) {
	s.schedulerLock.Lock()
	s.active = true
	s.startedAt = s.clock.Now()
	s.schedulerLock.Unlock()

	s.pool.Start()
	defer s.pool.JoinAll()

	windowStart := s.clock.Now()
	ticksThisWindow := uint64(0)

	for {
		select {
		case <-ctx.Done():
			s.deactivate()
			return
		case <-s.stopCh:
			s.deactivate()
			return
		default:
		}

		loopStart := s.clock.Now()
		s.runOneTick()
		observability.SchedulerLoopDuration.Observe(s.clock.Now().Sub(loopStart).Seconds())

		s.schedulerLock.Lock()
		s.tick++
		observability.SchedulerTick.Set(float64(s.tick))
		observability.SchedulerQueueDepth.Set(float64(s.pending.len()))
		observability.SchedulerWorkerSaturation.Set(float64(s.pool.QueueLen()))
		targetTPS := s.targetTPS
		s.schedulerLock.Unlock()

		ticksThisWindow++
		if ticksThisWindow >= targetTPS {
			elapsed := s.clock.Now().Sub(windowStart)
			budget := time.Second

			s.schedulerLock.Lock()
			if elapsed >= budget {
				s.overloaded = true
			} else {
				s.overloaded = false
			}
			overloaded := s.overloaded
			s.schedulerLock.Unlock()
			observability.SchedulerOverloaded.Set(boolToFloat(overloaded))

			if !overloaded {
				s.clock.Sleep(budget - elapsed)
			}
			windowStart = s.clock.Now()
			ticksThisWindow = 0
		}
	}
}

// runOneTick implements spec.md §4.3's single iteration: drain eligible
// tasks under the lock, dispatch parallel tasks to the pool, execute sync
// tasks inline in pop order, then advance/re-insert repeating survivors.
func (s *Scheduler) runOneTick() {
	s.schedulerLock.Lock()
	if s.admissionMode == AdmissionFreeze {
		s.schedulerLock.Unlock()
		return
	}
	tick := s.tick
	overloaded := s.overloaded

	var syncBatch []*task.Task
	for {
		if s.pending.isEmpty() {
			break
		}
		top := s.pending.peek()
		if top.NextFire() > tick {
			break
		}
		t := s.pending.pop()
		if !t.Alive() {
			delete(s.byID, t.ID)
			continue
		}
		if t.Parallel() {
			s.dispatchParallel(t, tick, overloaded)
		} else {
			syncBatch = append(syncBatch, t)
		}
	}
	s.schedulerLock.Unlock()

	for _, t := range syncBatch {
		if t.Alive() { // skip tasks cancelled since they were popped
			t.Invoke()
			t.Advance(tick, overloaded)
		}
		if t.Alive() && t.Repeating() {
			s.schedulerLock.Lock()
			s.pending.push(t)
			s.schedulerLock.Unlock()
		} else {
			s.schedulerLock.Lock()
			delete(s.byID, t.ID)
			s.schedulerLock.Unlock()
		}
	}
}

// dispatchParallel hands a task to the worker pool. It must be called
// while schedulerLock is held (to keep FIFO submission order matching pop
// order, per spec.md §4.3's eligibility/ordering rules) but the task's
// Invoke/Advance run on the worker, outside any scheduler lock.
func (s *Scheduler) dispatchParallel(t *task.Task, tick uint64, overloaded bool) {
	n := atomic.AddInt64(&s.activeParallel, 1)
	observability.SchedulerActiveParallel.Set(float64(n))
	s.pool.Submit(func() {
		defer func() {
			n := atomic.AddInt64(&s.activeParallel, -1)
			observability.SchedulerActiveParallel.Set(float64(n))
			if r := recover(); r != nil {
				log.Printf("scheduler: worker dispatch for %s panicked: %v", t.Name(), r)
			}
		}()
		if t.Alive() { // skip tasks cancelled while queued on the pool
			t.Invoke()
			t.Advance(tick, overloaded)
		}
		if t.Alive() && t.Repeating() {
			s.schedulerLock.Lock()
			s.pending.push(t)
			s.schedulerLock.Unlock()
		} else {
			s.schedulerLock.Lock()
			delete(s.byID, t.ID)
			s.schedulerLock.Unlock()
		}
	})
}

func (s *Scheduler) deactivate() {
	s.schedulerLock.Lock()
	s.active = false
	s.stopped = true
	s.schedulerLock.Unlock()
}

// Stop signals Run to exit after completing its current tick. It is
// idempotent and may be called from any goroutine, including before Run
// has started (in which case Run exits immediately on its first check).
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
