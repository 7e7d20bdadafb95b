package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

// mutexQueue is the classical monitor implementation: one mutex, one
// condition variable, an ordered sequence. Correctness is straightforward;
// contention rises with goroutine count, which is exactly the signal the
// AdaptiveQueue watches for.
type mutexQueue struct {
	mu     sync.Mutex
	notEmpty *sync.Cond
	items  *list.List
	closed bool

	// stats, read by the adaptive wrapper's contention sampler.
	dequeueCalls  int64
	blockedCalls  int64
}

func newMutexQueue() *mutexQueue {
	q := &mutexQueue{items: list.New()}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *mutexQueue) Enqueue(j job.Job) error {
	return q.EnqueueBatch([]job.Job{j})
}

func (q *mutexQueue) EnqueueBatch(jobs []job.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	for _, j := range jobs {
		q.items.PushBack(j)
	}
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	return nil
}

func (q *mutexQueue) Dequeue(ctx context.Context) (job.Job, error) {
	deadline, hasDeadline := ctx.Deadline()

	// sync.Cond has no native context/timeout support, so a side goroutine
	// turns ctx cancellation and the deadline into a Broadcast that wakes
	// the Wait loop below; the loop itself re-checks both conditions on
	// every wake.
	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(time.Until(deadline), func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-stopWatch:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.dequeueCalls++

	waited := false
	for q.items.Len() == 0 && !q.closed {
		if hasDeadline && !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !waited {
			q.blockedCalls++
			waited = true
		}
		q.notEmpty.Wait()
	}

	if q.items.Len() > 0 {
		front := q.items.Front()
		q.items.Remove(front)
		return front.Value.(job.Job), nil
	}
	return nil, ErrClosed
}

func (q *mutexQueue) TryDequeue() (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false
	}
	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(job.Job), true
}

func (q *mutexQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *mutexQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// blockedRatio returns the fraction of Dequeue calls that had to wait,
// since the last reset, used by the adaptive switch heuristic.
func (q *mutexQueue) blockedRatio() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueCalls == 0 {
		return 0
	}
	return float64(q.blockedCalls) / float64(q.dequeueCalls)
}

func (q *mutexQueue) resetStats() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dequeueCalls = 0
	q.blockedCalls = 0
}

// drainAll removes and returns every pending job, in FIFO order, for
// migration to another strategy during an adaptive switch.
func (q *mutexQueue) drainAll() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]job.Job, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		jobs = append(jobs, e.Value.(job.Job))
	}
	q.items.Init()
	return jobs
}
