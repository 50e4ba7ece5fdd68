package scheduler

import (
	"container/heap"

	"github.com/pluginforge/core/task"
)

// entry wraps a pending task with an insertion sequence, used to break
// next-fire-tick ties in FIFO order (spec.md §3: "ties break by insertion
// order"). Grounded structurally on the teacher's TaskQueue
// (control_plane/scheduler/queue.go), replacing its aging/effective-priority
// comparator with the strict next-fire-tick + FIFO ordering spec.md
// mandates for this core.
type entry struct {
	task *task.Task
	seq  uint64
}

// taskHeap implements container/heap.Interface over pending entries,
// ordered by (task.NextFire(), seq) ascending — earliest fire wins, ties
// broken by submission order.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	fi, fj := h[i].task.NextFire(), h[j].task.NextFire()
	if fi != fj {
		return fi < fj
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// pendingQueue is the scheduler's min-heap of pending tasks. It carries no
// mutex of its own — callers (the Scheduler) hold schedulerLock across
// every operation, per spec.md §5.
type pendingQueue struct {
	h       taskHeap
	nextSeq uint64
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{h: make(taskHeap, 0)}
}

// push admits a task into the heap, assigning it the next insertion
// sequence for FIFO tie-breaking.
func (q *pendingQueue) push(t *task.Task) {
	heap.Push(&q.h, &entry{task: t, seq: q.nextSeq})
	q.nextSeq++
}

// peek returns the task that would be popped next, or nil if empty.
func (q *pendingQueue) peek() *task.Task {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0].task
}

// pop removes and returns the task with the earliest NextFire (FIFO on
// ties), or nil if empty.
func (q *pendingQueue) pop() *task.Task {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*entry).task
}

// len reports how many tasks are pending, including ones already marked
// not-alive but not yet lazily discarded.
func (q *pendingQueue) len() int { return len(q.h) }

// isEmpty returns true exactly when the heap holds no tasks. spec.md §9
// notes that some source revisions inverted this; this core follows the
// semantically obvious contract.
func (q *pendingQueue) isEmpty() bool { return len(q.h) == 0 }

// forEachAlive calls fn for every alive task currently in the heap, in
// heap-array order (not fire order), without popping anything. Tasks that
// have been popped and are executing are not visited.
func (q *pendingQueue) forEachAlive(fn func(*task.Task)) {
	for _, e := range q.h {
		if e.task.Alive() {
			fn(e.task)
		}
	}
}
