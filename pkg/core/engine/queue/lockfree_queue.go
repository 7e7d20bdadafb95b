package queue

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

// msNode is a Michael-Scott queue node. value and tombstone are written
// once before the node is ever linked in and read only by dequeuers that
// reached the node through that link, so they need no synchronization of
// their own; next is mutated concurrently and must be atomic.
type msNode struct {
	value     job.Job
	tombstone bool
	next      atomic.Pointer[msNode]
}

type dequeueState int

const (
	dequeueEmpty dequeueState = iota
	dequeueGot
	dequeueClosedDrained
)

// lockFreeQueue is a Michael-Scott MPMC queue: a singly-linked list with
// a sentinel dummy node always at the head, CAS-based enqueue/dequeue,
// and hazard pointers protecting the head/next nodes an operation is
// mid-dereference of from concurrent reclamation.
//
// Close works by enqueuing a tombstone node through the normal splice
// path. A dequeuer that reaches the tombstone reports ErrClosed without
// ever removing it, so every concurrent dequeuer observes closure once
// all real jobs ahead of it have drained. An Enqueue racing concurrently
// with Close is not ordered relative to it — the same nondeterminism the
// mutex queue has when a Close and an Enqueue race for the same lock.
type lockFreeQueue struct {
	head atomic.Pointer[msNode]
	tail atomic.Pointer[msNode]

	closed atomic.Bool
	length atomic.Int64

	enqueueCount atomic.Int64
	casFailures  atomic.Int64

	pool    *nodePool
	hazards *hazardDomain
}

func newLockFreeQueue() *lockFreeQueue {
	pool := newNodePool()
	dummy := pool.get()
	q := &lockFreeQueue{pool: pool}
	q.hazards = newHazardDomain(pool)
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *lockFreeQueue) Enqueue(j job.Job) error {
	return q.EnqueueBatch([]job.Job{j})
}

// EnqueueBatch stages jobs as a private chain, invisible to every other
// goroutine, then splices the whole chain onto the tail with a single
// CAS. Dequeuers therefore never observe a partially-enqueued batch.
func (q *lockFreeQueue) EnqueueBatch(jobs []job.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if q.closed.Load() {
		return ErrClosed
	}

	first := q.pool.get()
	first.value = jobs[0]
	last := first
	for _, j := range jobs[1:] {
		n := q.pool.get()
		n.value = j
		last.next.Store(n)
		last = n
	}

	if !q.spliceChain(first, last, int64(len(jobs))) {
		for n := first; n != nil; {
			next := n.next.Load()
			q.pool.put(n)
			n = next
		}
		return ErrClosed
	}
	return nil
}

// spliceChain links the already-built first..last chain onto the
// queue's tail in one CAS, advancing q.tail to last on success. It
// refuses to attach once closed is observed true, so a Close that has
// already flipped the flag wins any enqueuer that checks after it.
func (q *lockFreeQueue) spliceChain(first, last *msNode, count int64) bool {
	rec := q.hazards.acquire()
	defer q.hazards.release(rec)

	for {
		tail := q.tail.Load()
		q.hazards.publish(rec, 0, tail)
		if tail != q.tail.Load() {
			continue
		}
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// tail lagged behind; help advance it and retry.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if q.closed.Load() && !first.tombstone {
			return false
		}
		if tail.next.CompareAndSwap(nil, first) {
			q.tail.CompareAndSwap(tail, last)
			q.length.Add(count)
			q.enqueueCount.Add(1)
			return true
		}
		q.casFailures.Add(1)
	}
}

// tryDequeue attempts one non-blocking pop. dequeueEmpty means no job is
// currently available; dequeueClosedDrained means the queue is closed
// and every real job has already been consumed.
func (q *lockFreeQueue) tryDequeue() (job.Job, dequeueState) {
	rec := q.hazards.acquire()
	defer q.hazards.release(rec)

	for {
		head := q.head.Load()
		q.hazards.publish(rec, 0, head)
		if head != q.head.Load() {
			continue
		}
		tail := q.tail.Load()
		next := head.next.Load()
		q.hazards.publish(rec, 1, next)
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return nil, dequeueEmpty
		}
		if head == tail {
			// tail lagged behind; help advance it and retry.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if next.tombstone {
			return nil, dequeueClosedDrained
		}
		value := next.value
		if q.head.CompareAndSwap(head, next) {
			q.hazards.retire(head)
			q.length.Add(-1)
			return value, dequeueGot
		}
		q.casFailures.Add(1)
	}
}

// Dequeue blocks with an adaptive back-off: a short busy-spin, then
// Gosched yields, then brief sleeps, bounded by ctx. Go has no futex
// primitive exposed to user code, so parking on a timer is the
// pragmatic stand-in for a wait-on-address block.
func (q *lockFreeQueue) Dequeue(ctx context.Context) (job.Job, error) {
	deadline, hasDeadline := ctx.Deadline()
	spins := 0
	for {
		v, state := q.tryDequeue()
		switch state {
		case dequeueGot:
			return v, nil
		case dequeueClosedDrained:
			return nil, ErrClosed
		}

		if hasDeadline && !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		spins++
		switch {
		case spins < 64:
			// busy spin, cheapest path for a job that arrives almost
			// immediately.
		case spins < 1024:
			runtime.Gosched()
		default:
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
			}
		}
	}
}

func (q *lockFreeQueue) TryDequeue() (job.Job, bool) {
	v, state := q.tryDequeue()
	return v, state == dequeueGot
}

// Close enqueues a tombstone node through the normal splice path after
// claiming the closed flag, so it composes with concurrent enqueues the
// same way a regular EnqueueBatch would.
func (q *lockFreeQueue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	tomb := q.pool.get()
	tomb.tombstone = true
	q.spliceChain(tomb, tomb, 0)
}

func (q *lockFreeQueue) Len() int {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// casFailureRatio is read by the adaptive switch heuristic.
func (q *lockFreeQueue) casFailureRatio() float64 {
	enq := q.enqueueCount.Load()
	fails := q.casFailures.Load()
	total := enq + fails
	if total == 0 {
		return 0
	}
	return float64(fails) / float64(total)
}

func (q *lockFreeQueue) resetStats() {
	q.enqueueCount.Store(0)
	q.casFailures.Store(0)
}

// drainAll pops every currently-available job in FIFO order, for
// migration to another strategy during an adaptive switch. It does not
// drain a tombstone; Close and migration never happen together.
func (q *lockFreeQueue) drainAll() []job.Job {
	var jobs []job.Job
	for {
		v, state := q.tryDequeue()
		if state != dequeueGot {
			break
		}
		jobs = append(jobs, v)
	}
	return jobs
}
