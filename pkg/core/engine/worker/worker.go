// Package worker implements the single-worker loop shared by the
// untyped and typed thread pools: dequeue, execute, repeat, with
// lifecycle hooks a pool can use to instrument or extend a worker
// without the worker itself knowing anything about pools, metrics, or
// logging.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/queue"
)

// Hooks are lifecycle callbacks a pool injects into a Worker. Each is
// optional; a nil hook is simply skipped. Keeping them here rather than
// on Worker itself keeps this package free of any pool-level
// collaborator (logger, metrics sink, registry).
type Hooks struct {
	// BeforeStart runs once before the worker's first dequeue attempt.
	// A non-nil error aborts the worker's Run loop before it processes
	// any job.
	BeforeStart func() error

	// OnTick runs once per loop iteration that does not stop the
	// worker: after a job (or batch) has run, and after WakeInterval has
	// elapsed with nothing to do. It does not tell the two cases apart.
	OnTick func()

	// AfterStop runs once after the worker's loop exits, for any reason.
	AfterStop func()

	// OnOutcome runs after each job finishes, with the outcome it
	// produced. Useful for metrics without coupling this package to a
	// metrics interface.
	OnOutcome func(j job.Job, outcome job.Outcome, duration time.Duration)
}

// Config tunes a single Worker's polling behavior.
type Config struct {
	// WakeInterval bounds how long Dequeue blocks before the worker
	// checks shutdown state again and re-runs OnTick. If zero, defaults
	// to 500ms.
	WakeInterval time.Duration

	// BatchProcessing, when true, pulls up to BatchCap jobs per dequeue
	// via queue.DequeueBatch and executes them in sequence before
	// blocking again. When false (the default) the worker dequeues and
	// executes one job at a time.
	BatchProcessing bool

	// BatchCap caps the batch size when BatchProcessing is enabled. If
	// zero, defaults to 32.
	BatchCap int
}

func (c Config) withDefaults() Config {
	if c.WakeInterval <= 0 {
		c.WakeInterval = 500 * time.Millisecond
	}
	if c.BatchCap <= 0 {
		c.BatchCap = 32
	}
	return c
}

// Worker pulls jobs from a queue.Queue and executes them until its
// context is cancelled or the queue closes and drains. It has no
// knowledge of sibling workers, a pool, or any service registry; a pool
// supplies everything it needs through Config and Hooks.
type Worker struct {
	id    int
	q     queue.Queue
	cfg   Config
	hooks Hooks
}

// loopResult tells Run's top-level loop what the last iteration did.
type loopResult int

const (
	loopContinue loopResult = iota // a job ran or the wait timed out; try again
	loopStop                       // the queue is closed and drained; exit Run
)

// New constructs a Worker with the given identifier, source queue,
// config, and hooks. id is opaque to Worker; it exists purely so a
// pool's hooks can tell workers apart.
func New(id int, q queue.Queue, cfg Config, hooks Hooks) *Worker {
	return &Worker{id: id, q: q, cfg: cfg.withDefaults(), hooks: hooks}
}

// ID returns the identifier this worker was constructed with.
func (w *Worker) ID() int { return w.id }

// Run blocks, processing jobs until ctx is cancelled or the queue
// closes and fully drains. It always calls AfterStop exactly once
// before returning, even if BeforeStart fails.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if w.hooks.AfterStop != nil {
			w.hooks.AfterStop()
		}
	}()

	if w.hooks.BeforeStart != nil {
		if err := w.hooks.BeforeStart(); err != nil {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		var result loopResult
		if w.cfg.BatchProcessing {
			result = w.runBatch(ctx)
		} else {
			result = w.runOne(ctx)
		}
		if result == loopStop {
			return
		}

		if w.hooks.OnTick != nil {
			w.hooks.OnTick()
		}
	}
}

// runOne dequeues and executes a single job, blocking up to
// WakeInterval. Returns loopStop once the queue reports closed and
// drained, so a graceful shutdown (which closes the queue but does not
// cancel ctx) still lets workers exit once the backlog is gone.
func (w *Worker) runOne(ctx context.Context) loopResult {
	dctx, cancel := context.WithTimeout(ctx, w.cfg.WakeInterval)
	defer cancel()

	j, err := w.q.Dequeue(dctx)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return loopStop
		}
		return loopContinue
	}
	w.execute(ctx, j)
	return loopContinue
}

// runBatch pulls a non-blocking batch and executes it in sequence.
func (w *Worker) runBatch(ctx context.Context) loopResult {
	batch := queue.DequeueBatch(w.q, w.cfg.BatchCap)
	if len(batch) == 0 {
		// Nothing immediately available; fall back to one blocking wait
		// so the worker doesn't spin hot when the queue is idle.
		return w.runOne(ctx)
	}
	for _, j := range batch {
		if ctx.Err() != nil {
			return loopContinue
		}
		w.execute(ctx, j)
	}
	return loopContinue
}

func (w *Worker) execute(ctx context.Context, j job.Job) {
	if c, ok := j.(job.Cancellable); ok {
		if tok := c.CancellationToken(); tok != nil && tok.IsCancelled() {
			outcome := job.Failuref(job.Cancelled, "job %q skipped: cancellation token already cancelled", j.Name())
			if w.hooks.OnOutcome != nil {
				w.hooks.OnOutcome(j, outcome, 0)
			}
			return
		}
	}
	start := time.Now()
	outcome := j.Execute(ctx)
	if w.hooks.OnOutcome != nil {
		w.hooks.OnOutcome(j, outcome, time.Since(start))
	}
}
