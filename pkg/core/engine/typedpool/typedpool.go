// Package typedpool implements the priority-routed variant of the
// thread pool: one AdaptiveQueue per job-type value, and workers that
// each declare a capability set of types they are willing to serve,
// dispatching by descending priority with a starvation guard and a
// round-robin tie-break among equally-prioritized types.
package typedpool

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheEntropyCollective/taskengine/pkg/common/registry"
	"github.com/TheEntropyCollective/taskengine/pkg/common/telemetry"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/queue"
)

// defaultStarvationThreshold is the number of consecutive dispatches
// from a worker's highest-priority non-empty type it may make; once the
// streak exceeds it, the worker serves one job from a lower-priority
// type.
const defaultStarvationThreshold = 32

// Config configures a Pool[T]. T is typically a small enum (three or
// four values: RealTime, Batch, Background, ...). Less supplies the
// total order: Less(a, b) reports whether a is strictly lower priority
// than b. Types for which neither Less(a, b) nor Less(b, a) holds are
// treated as equal priority and round-robin'd between.
type Config[T comparable] struct {
	// WorkerCapabilities has one entry per worker: the non-empty set of
	// types that worker is willing to serve.
	WorkerCapabilities [][]T

	// Less is the priority comparator described above. Required.
	Less func(a, b T) bool

	// StarvationThreshold overrides defaultStarvationThreshold if > 0.
	StarvationThreshold int

	// WakeInterval bounds how long a worker's blocking poll waits for
	// any of its queues to receive a job before re-checking shutdown
	// state. If zero, defaults to 500ms.
	WakeInterval time.Duration

	// QueueConfig is applied to every per-type AdaptiveQueue. If the
	// zero value, queue.DefaultAdaptiveQueueConfig is used.
	QueueConfig queue.AdaptiveQueueConfig

	// Registry supplies the Logger and MetricsSink this pool uses. If
	// nil, a fresh registry.New() is used.
	Registry *registry.Registry
}

func (c Config[T]) withDefaults() Config[T] {
	if c.StarvationThreshold <= 0 {
		c.StarvationThreshold = defaultStarvationThreshold
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = 500 * time.Millisecond
	}
	if c.QueueConfig == (queue.AdaptiveQueueConfig{}) {
		c.QueueConfig = queue.DefaultAdaptiveQueueConfig()
	}
	if c.Registry == nil {
		c.Registry = registry.New()
	}
	return c
}

// Stats is a point-in-time snapshot of a Pool's counters.
type Stats struct {
	WorkerCount int
	Submitted   int64
	Completed   int64
	Failed      int64
}

// Pool is the typed, priority-routed thread pool.
type Pool[T comparable] struct {
	id  string
	cfg Config[T]
	ctx registry.Context

	mu     sync.Mutex
	queues map[T]*queue.AdaptiveQueue

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	started  bool
	shutdown bool
	closing  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Pool. It must be started with Start before jobs can
// be submitted.
func New[T comparable](cfg Config[T]) (*Pool[T], error) {
	cfg = cfg.withDefaults()
	if cfg.Less == nil {
		return nil, job.Failuref(job.InvalidArgument, "typedpool: Less comparator is required")
	}
	if len(cfg.WorkerCapabilities) == 0 {
		return nil, job.Failuref(job.InvalidArgument, "typedpool: at least one worker capability set is required")
	}
	for i, caps := range cfg.WorkerCapabilities {
		if len(caps) == 0 {
			return nil, job.Failuref(job.InvalidArgument, "typedpool: worker %d has an empty capability set", i)
		}
	}
	return &Pool[T]{
		id:     uuid.NewString(),
		cfg:    cfg,
		ctx:    cfg.Registry.Snapshot(),
		queues: make(map[T]*queue.AdaptiveQueue),
	}, nil
}

// ID returns this pool's unique instance identifier.
func (p *Pool[T]) ID() string { return p.id }

// WorkerCount returns the configured number of workers.
func (p *Pool[T]) WorkerCount() int { return len(p.cfg.WorkerCapabilities) }

// queueFor returns (lazily creating, if necessary) the AdaptiveQueue
// backing type t.
func (p *Pool[T]) queueFor(t T) *queue.AdaptiveQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[t]
	if !ok {
		q = queue.NewAdaptiveQueue(p.cfg.QueueConfig)
		p.queues[t] = q
	}
	return q
}

// Submit enqueues j onto the queue for t, lazily creating that queue on
// first use for a never-seen type value.
func (p *Pool[T]) Submit(j job.Job, t T) error {
	if err := p.queueFor(t).Enqueue(j); err != nil {
		return job.Failuref(job.Unavailable, "typedpool %s: %v", p.id, err)
	}
	p.submitted.Add(1)
	return nil
}

// SubmitBatch enqueues every job in jobs onto the queue for t as one
// atomic batch.
func (p *Pool[T]) SubmitBatch(jobs []job.Job, t T) error {
	if err := p.queueFor(t).EnqueueBatch(jobs); err != nil {
		return job.Failuref(job.Unavailable, "typedpool %s: %v", p.id, err)
	}
	p.submitted.Add(int64(len(jobs)))
	return nil
}

// Start spawns one goroutine per configured worker capability set.
// Calling Start twice, or calling it after Shutdown, returns
// InvalidArgument.
func (p *Pool[T]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return job.Failuref(job.InvalidArgument, "typedpool %s already started", p.id)
	}
	if p.shutdown {
		return job.Failuref(job.InvalidArgument, "typedpool %s has been shut down", p.id)
	}
	p.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i, caps := range p.cfg.WorkerCapabilities {
		tw := newTypedWorker(i, caps, p)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			tw.run(runCtx)
		}()
	}

	p.ctx.Logger.Info("typed pool started", telemetry.F("pool_id", p.id), telemetry.F("workers", len(p.cfg.WorkerCapabilities)))
	return nil
}

// Stats returns a snapshot of this pool's counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		WorkerCount: len(p.cfg.WorkerCapabilities),
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
	}
}

// ShutdownGraceful closes every per-type queue and waits up to timeout
// for workers to drain their backlogs and exit.
func (p *Pool[T]) ShutdownGraceful(timeout time.Duration) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	queues := make([]*queue.AdaptiveQueue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	p.closing.Store(true)
	for _, q := range queues {
		q.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.finishShutdown()
		return nil
	case <-time.After(timeout):
		return job.Failuref(job.Timeout, "typedpool %s did not shut down within %s", p.id, timeout)
	}
}

// ShutdownImmediate cancels every worker's context and joins them.
func (p *Pool[T]) ShutdownImmediate() error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	queues := make([]*queue.AdaptiveQueue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	cancel := p.cancel
	p.mu.Unlock()

	p.closing.Store(true)
	for _, q := range queues {
		q.Close()
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.finishShutdown()
	return nil
}

func (p *Pool[T]) finishShutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.ctx.Logger.Info("typed pool shut down", telemetry.F("pool_id", p.id))
}

// priorityBand groups types of equal priority, used for round-robin
// tie-breaking within a band.
type priorityBand[T comparable] struct {
	types  []T
	cursor int
}

// typedWorker is one worker's view of the pool: its capability set
// split into priority bands (highest priority last, ascending) plus the
// starvation counter from spec.md 4.6.2.
type typedWorker[T comparable] struct {
	id    int
	pool  *Pool[T]
	bands []priorityBand[T] // ascending priority: bands[len-1] is highest

	consecutiveHighPriority int
	streakBand              int   // band index the current streak is served from
	processed               int64 // jobs this worker has handled
}

func newTypedWorker[T comparable](id int, capability []T, pool *Pool[T]) *typedWorker[T] {
	sorted := append([]T(nil), capability...)
	less := pool.cfg.Less
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var bands []priorityBand[T]
	for _, t := range sorted {
		if len(bands) > 0 {
			rep := bands[len(bands)-1].types[0]
			if !less(rep, t) && !less(t, rep) {
				bands[len(bands)-1].types = append(bands[len(bands)-1].types, t)
				continue
			}
		}
		bands = append(bands, priorityBand[T]{types: []T{t}})
	}

	return &typedWorker[T]{id: id, pool: pool, bands: bands}
}

func (w *typedWorker[T]) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.dispatchOnce(ctx) {
			continue
		}
		if w.pool.closing.Load() {
			// Nothing left in any capability queue and the pool is
			// shutting down: a graceful shutdown never cancels ctx, so
			// this is the only way the worker notices it should stop.
			return
		}
		w.block(ctx)
	}
}

// dispatchOnce tries, in order: the starvation-forced lower-priority
// dispatch (if the guard has tripped), then the normal descending
// priority scan. Returns true if a job was found and executed.
func (w *typedWorker[T]) dispatchOnce(ctx context.Context) bool {
	if w.consecutiveHighPriority > w.pool.cfg.StarvationThreshold {
		for i := 0; i < w.streakBand; i++ {
			if j, t, ok := w.tryBand(i); ok {
				w.consecutiveHighPriority = 0
				w.execute(ctx, j, t)
				return true
			}
		}
	}

	for i := len(w.bands) - 1; i >= 0; i-- {
		if j, t, ok := w.tryBand(i); ok {
			if i == w.streakBand {
				w.consecutiveHighPriority++
			} else {
				w.streakBand = i
				w.consecutiveHighPriority = 1
			}
			w.execute(ctx, j, t)
			return true
		}
	}
	return false
}

// tryBand attempts TryDequeue across every type in band i, rotating the
// starting point by one position each call for round-robin fairness
// within the band.
func (w *typedWorker[T]) tryBand(i int) (job.Job, T, bool) {
	band := &w.bands[i]
	n := len(band.types)
	for k := 0; k < n; k++ {
		idx := (band.cursor + k) % n
		t := band.types[idx]
		if j, ok := w.pool.queueFor(t).TryDequeue(); ok {
			band.cursor = (idx + 1) % n
			return j, t, true
		}
	}
	return nil, band.types[0], false
}

// block waits for any of this worker's queues to produce a job, bounded
// by WakeInterval, using a yield-then-sleep back-off like the one the
// lock-free queue uses internally — the typed pool has no single
// primitive to wait on several heterogeneous AdaptiveQueues at once, so
// polling with back-off is the pragmatic stand-in for spec.md 4.6.2's
// "blocks on a condition-variable-equivalent fed by any enqueue".
func (w *typedWorker[T]) block(ctx context.Context) {
	deadline := time.Now().Add(w.pool.cfg.WakeInterval)
	spins := 0
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		if w.dispatchOnce(ctx) {
			return
		}
		spins++
		switch {
		case spins < 64:
			runtime.Gosched()
		default:
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *typedWorker[T]) execute(ctx context.Context, j job.Job, t T) {
	if c, ok := j.(job.Cancellable); ok {
		if tok := c.CancellationToken(); tok != nil && tok.IsCancelled() {
			w.pool.failed.Add(1)
			w.pool.completed.Add(1)
			w.processed++
			w.pool.ctx.Logger.Warn("typed job skipped: cancellation token already cancelled",
				telemetry.F("pool_id", w.pool.id),
				telemetry.F("worker_id", w.id),
				telemetry.F("job", j.Name()),
				telemetry.F("job_type", t),
			)
			w.pool.ctx.Metrics.UpdateWorkerMetrics(telemetry.WorkerMetrics{
				PoolID:     w.pool.id,
				WorkerID:   w.id,
				Processed:  w.processed,
				LastActive: time.Now(),
			})
			return
		}
	}
	start := time.Now()
	outcome := j.Execute(ctx)
	w.processed++
	if outcome.IsSuccess() {
		w.pool.completed.Add(1)
	} else {
		w.pool.completed.Add(1)
		w.pool.failed.Add(1)
		w.pool.ctx.Logger.Warn("typed job failed",
			telemetry.F("pool_id", w.pool.id),
			telemetry.F("worker_id", w.id),
			telemetry.F("job", j.Name()),
			telemetry.F("job_type", t),
			telemetry.F("kind", outcome.Kind.String()),
		)
	}
	w.pool.ctx.Metrics.UpdateWorkerMetrics(telemetry.WorkerMetrics{
		PoolID:     w.pool.id,
		WorkerID:   w.id,
		Processed:  w.processed,
		LastActive: start,
	})
}
