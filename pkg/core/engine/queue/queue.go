// Package queue implements the job queue that sits between submitters
// and workers: a classic mutex-guarded FIFO, a Michael-Scott lock-free
// MPMC FIFO with hazard-pointer reclamation, and an AdaptiveQueue that
// transparently selects (and, in Adaptive mode, switches) between the
// two based on observed contention.
//
// All three implementations satisfy the same Queue interface, so a
// worker or pool never branches on which strategy backs the queue it is
// talking to.
package queue

import (
	"context"
	"errors"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

// ErrClosed is returned by Enqueue/EnqueueBatch once the queue is closed,
// and by Dequeue/TryDequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue: closed")

// ErrTimeout is returned by Dequeue when its deadline elapses before a
// job becomes available.
var ErrTimeout = errors.New("queue: dequeue timed out")

// Queue is the FIFO contract shared by every queue strategy.
type Queue interface {
	// Enqueue places j at the tail. Returns ErrClosed if the queue is
	// closed.
	Enqueue(j job.Job) error

	// EnqueueBatch makes every job in jobs visible to dequeuers as a
	// unit: either all of them become dequeuable, or (if the queue is
	// closed) none do. An empty slice is a no-op success.
	EnqueueBatch(jobs []job.Job) error

	// Dequeue returns the head job, blocking until one is available,
	// ctx is done, or the queue closes and drains. Returns ErrTimeout
	// once ctx's deadline has passed, ctx.Err() if ctx is cancelled
	// before then, and ErrClosed once the queue is closed and empty.
	Dequeue(ctx context.Context) (job.Job, error)

	// TryDequeue is the non-blocking variant: ok is false if no job was
	// immediately available (whether or not the queue is closed).
	TryDequeue() (j job.Job, ok bool)

	// Close marks the queue closed. Idempotent. Wakes all blocked
	// dequeuers; already-enqueued jobs continue to drain.
	Close()

	// Len is a best-effort, possibly-stale approximation of the number
	// of jobs currently queued.
	Len() int
}

// DequeueBatch pulls up to max jobs from q via repeated TryDequeue,
// stopping early if the queue runs dry. It never blocks. Used by
// workers when batch processing is enabled.
func DequeueBatch(q Queue, max int) []job.Job {
	if max <= 0 {
		max = 1
	}
	batch := make([]job.Job, 0, max)
	for len(batch) < max {
		j, ok := q.TryDequeue()
		if !ok {
			break
		}
		batch = append(batch, j)
	}
	return batch
}
