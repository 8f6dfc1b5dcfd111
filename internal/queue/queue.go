// Package queue implements GlobalFileQueue: a single, process-wide
// two-lane FIFO shared by every job in a run. Each job's FileWorkItems
// are enqueued once its Strategy has analyzed and prepared; workers drain priority work
// ahead of normal work. A fast lane is always checked before a slow
// lane, with atomic counters for observability. Enqueue never blocks:
// analyzers don't know in advance how many files a job contains and
// must never wait on a worker to catch up. A producer reference count
// and IsCompleted predicate let workers detect that the queue will never
// yield another item.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/theweak1/backupsvc/internal/types"
)

// GlobalFileQueue is a thread-safe two-lane FIFO: priority items always
// drain ahead of normal items. It never blocks on Enqueue and never
// blocks on TryDequeue; callers poll or select against a side channel for
// backpressure.
type GlobalFileQueue struct {
	mu       sync.Mutex
	priority []types.FileWorkItem
	normal   []types.FileWorkItem

	// producers counts analyzers that have registered but not yet
	// finished enqueuing. The queue is "completed" only once this drops
	// to zero and both lanes are empty.
	producers int64

	priorityProcessed atomic.Int64
	normalProcessed   atomic.Int64

	notify chan struct{}
}

// New returns an empty GlobalFileQueue.
func New() *GlobalFileQueue {
	return &GlobalFileQueue{notify: make(chan struct{}, 1)}
}

// RegisterProducer must be called once per job before that job's items
// are enqueued, and balanced by exactly one ProducerDone once enqueuing
// stops (including on error).
func (q *GlobalFileQueue) RegisterProducer() {
	atomic.AddInt64(&q.producers, 1)
}

// ProducerDone signals that one Phase 1 analyzer has finished enqueuing
// every item it will ever enqueue.
func (q *GlobalFileQueue) ProducerDone() {
	atomic.AddInt64(&q.producers, -1)
	q.wake()
}

// Enqueue adds item to the priority lane if item.IsPriority, else the
// normal lane. Never blocks.
func (q *GlobalFileQueue) Enqueue(item types.FileWorkItem) {
	q.mu.Lock()
	if item.IsPriority {
		q.priority = append(q.priority, item)
	} else {
		q.normal = append(q.normal, item)
	}
	q.mu.Unlock()
	q.wake()
}

// TryDequeue removes and returns the next item, priority lane first. ok
// is false if both lanes are currently empty (the caller must then check
// IsCompleted to decide whether to keep polling or exit).
func (q *GlobalFileQueue) TryDequeue() (item types.FileWorkItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.priority) > 0 {
		item = q.priority[0]
		q.priority = q.priority[1:]
		q.priorityProcessed.Add(1)
		return item, true
	}
	if len(q.normal) > 0 {
		item = q.normal[0]
		q.normal = q.normal[1:]
		q.normalProcessed.Add(1)
		return item, true
	}
	return types.FileWorkItem{}, false
}

// Wait blocks until an item is enqueued, a producer finishes, or done is
// closed, whichever comes first. The scheduler's workers do not use it;
// they poll TryDequeue at a fixed short interval instead.
func (q *GlobalFileQueue) Wait(done <-chan struct{}) {
	select {
	case <-q.notify:
	case <-done:
	}
}

func (q *GlobalFileQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// IsCompleted reports whether every producer has finished and both lanes
// are drained: the queue will never yield another item.
func (q *GlobalFileQueue) IsCompleted() bool {
	if atomic.LoadInt64(&q.producers) > 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) == 0 && len(q.normal) == 0
}

// PendingCount returns the total number of items currently sitting in
// both lanes, for progress reporting.
func (q *GlobalFileQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.normal)
}

// Stats is a point-in-time snapshot of queue throughput.
type Stats struct {
	PriorityPending   int
	NormalPending     int
	PriorityProcessed int64
	NormalProcessed   int64
}

func (q *GlobalFileQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		PriorityPending:   len(q.priority),
		NormalPending:     len(q.normal),
		PriorityProcessed: q.priorityProcessed.Load(),
		NormalProcessed:   q.normalProcessed.Load(),
	}
}

// Reset clears both lanes and counters, used by Scheduler.Execute's reset
// step at the start of a new run.
func (q *GlobalFileQueue) Reset() {
	q.mu.Lock()
	q.priority = nil
	q.normal = nil
	q.mu.Unlock()
	atomic.StoreInt64(&q.producers, 0)
	q.priorityProcessed.Store(0)
	q.normalProcessed.Store(0)
}
