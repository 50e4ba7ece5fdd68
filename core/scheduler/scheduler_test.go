package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pluginforge/core/pluginapi"
	"github.com/pluginforge/core/task"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestOneShotSyncOrder is spec.md §8 scenario 1: three sync one-shot tasks
// submitted at tick 0 with delays 5, 5, 3 (in that order) must fire in
// NextFire order with FIFO tie-breaking: 3rd, 1st, 2nd.
func TestOneShotSyncOrder(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, record("1st"), task.Normal, 5, 0)
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, record("2nd"), task.Normal, 5, 0)
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, record("3rd"), task.Normal, 3, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, 2*time.Second, func() bool { return s.UptimeTicks() >= 6 })
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"3rd", "1st", "2nd"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// TestDelayZeroFiresAtSubmissionTick is a spec.md §8 boundary case.
func TestDelayZeroFiresAtSubmissionTick(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	fired := make(chan struct{}, 1)
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() { fired <- struct{}{} }, task.Normal, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("delay=0 task did not fire at submission tick")
	}
}

// TestPeriodZeroFiresOnce is a spec.md §8 boundary case.
func TestPeriodZeroFiresOnce(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	var mu sync.Mutex
	count := 0
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {
		mu.Lock()
		count++
		mu.Unlock()
	}, task.Normal, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, time.Second, func() bool { return s.UptimeTicks() >= 10 })
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

// TestBulkCancelByOwner is spec.md §8 scenario 3.
func TestBulkCancelByOwner(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	const ownerA pluginapi.OwnerID = 1
	const ownerB pluginapi.OwnerID = 2

	var mu sync.Mutex
	ranA, ranB := 0, 0

	for i := 0; i < 5; i++ {
		s.ScheduleSyncRepeating(ownerA, true, func() {
			mu.Lock()
			ranA++
			mu.Unlock()
		}, task.Normal, 2, 0)
		s.ScheduleSyncRepeating(ownerB, true, func() {
			mu.Lock()
			ranB++
			mu.Unlock()
		}, task.Normal, 2, 0)
	}

	s.Cancel(ownerA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, time.Second, func() bool { return s.UptimeTicks() >= 5 })
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if ranA != 0 {
		t.Fatalf("ranA = %d, want 0 (cancelled before fire)", ranA)
	}
	if ranB != 5 {
		t.Fatalf("ranB = %d, want 5", ranB)
	}
}

// TestAnonymousTaskUnaffectedByCancel is a spec.md §8 boundary case.
func TestAnonymousTaskUnaffectedByCancel(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	const owner pluginapi.OwnerID = 7
	fired := make(chan struct{}, 1)
	s.ScheduleAsyncAnonymous(func() { fired <- struct{}{} }, task.Normal)
	s.Cancel(owner) // must not affect the anonymous task

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("anonymous task should have fired despite unrelated cancel")
	}
}

// TestCancelAllIsIdempotent is a spec.md §8 round-trip property.
func TestCancelAllIsIdempotent(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {}, task.Normal, 100, 0)
	s.CancelAll()
	s.CancelAll() // must not panic or change observable state
	if s.GetMetrics().QueueDepth != 1 {
		t.Fatalf("CancelAll must not remove the task from the heap, only mark it dead")
	}
}

// TestDelayHonoredAcrossTicks is a spec.md §8 invariant: a task submitted
// at tick N with delay D fires no earlier than tick N+D.
func TestDelayHonoredAcrossTicks(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	var fireTick uint64
	var mu sync.Mutex
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {
		mu.Lock()
		fireTick = s.UptimeTicks()
		mu.Unlock()
	}, task.Normal, 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fireTick != 0
	})
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if fireTick < 10 {
		t.Fatalf("fireTick = %d, want >= 10", fireTick)
	}
}

// TestRepeatingDefersUnderOverload is spec.md §8 scenario 2: a sync
// repeating task (period=2, priority=Low) whose callback blocks long
// enough to force overload must observe a gap >= period + deferral(Low).
func TestRepeatingDefersUnderOverload(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps >1s to force overload; skipped in -short")
	}

	s := New(Config{TicksPerSecond: 1}, pluginapi.SystemClock{})

	var mu sync.Mutex
	var fires []uint64
	first := true
	s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {
		mu.Lock()
		fires = append(fires, s.UptimeTicks())
		shouldBlock := first
		first = false
		mu.Unlock()
		if shouldBlock {
			time.Sleep(1100 * time.Millisecond)
		}
	}, task.Low, 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, 6*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) >= 2
	})
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(fires) < 2 {
		t.Fatalf("fires = %v, want at least 2", fires)
	}
	gap := fires[1] - fires[0]
	if gap < 6 { // period(2) + overloadDeferral(Low)=4
		t.Fatalf("gap = %d ticks, want >= 6 (period 2 + Low deferral 4)", gap)
	}
}

// TestCancelTaskIndividualHandle exercises per-task cancellation by handle.
func TestCancelTaskIndividualHandle(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	var ran bool
	h, err := s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() { ran = true }, task.Normal, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.CancelTask(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, time.Second, func() bool { return s.UptimeTicks() >= 10 })
	s.Stop()

	if ran {
		t.Fatal("cancelled task must not run")
	}
}

// TestAdmissionFreezeRejectsNewTasks exercises the AdmissionMode override.
func TestAdmissionFreezeRejectsNewTasks(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())
	s.SetAdmissionMode(AdmissionFreeze)

	_, err := s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {}, task.Normal, 0, 0)
	if err != ErrAdmissionFrozen {
		t.Fatalf("err = %v, want ErrAdmissionFrozen", err)
	}
}

// TestScheduleAfterStopIsRejected is spec.md §7's shutdown race: once Run
// has actually stopped, schedule_* must reject cleanly rather than silently
// admitting a task the main loop will never drain.
func TestScheduleAfterStopIsRejected(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitUntil(t, time.Second, func() bool { return s.IsActive() })
	cancel()
	waitUntil(t, time.Second, func() bool { return !s.IsActive() })

	if _, err := s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {}, task.Normal, 0, 0); err != ErrNotActive {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

// TestScheduleBeforeRunStartsIsAllowed confirms pre-populating tasks ahead
// of the first Run call still works: ErrNotActive only fires after a stop,
// not before a start.
func TestScheduleBeforeRunStartsIsAllowed(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000}, newFakeClock())

	if _, err := s.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {}, task.Normal, 0, 0); err != nil {
		t.Fatalf("scheduling before Run starts should succeed, got %v", err)
	}
}

// TestOwnerRateLimiting exercises the supplemental per-owner admission
// limiter, grounded on the teacher's TokenBucketLimiter.
func TestOwnerRateLimiting(t *testing.T) {
	s := New(Config{TicksPerSecond: 1000, OwnerRateLimit: 1, OwnerRateBurst: 1}, newFakeClock())
	const owner pluginapi.OwnerID = 1

	if _, err := s.ScheduleAsyncDelayed(owner, true, func() {}, task.Normal, 0); err != nil {
		t.Fatalf("first admission should succeed: %v", err)
	}
	if _, err := s.ScheduleAsyncDelayed(owner, true, func() {}, task.Normal, 0); err != ErrAdmissionLimited {
		t.Fatalf("second immediate admission should be rate limited, got %v", err)
	}
}
