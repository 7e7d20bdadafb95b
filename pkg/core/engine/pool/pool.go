// Package pool implements the untyped thread pool: a fixed set of
// workers pulling from one shared AdaptiveQueue, with graceful and
// immediate shutdown and a periodic metrics snapshot.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TheEntropyCollective/taskengine/pkg/common/registry"
	"github.com/TheEntropyCollective/taskengine/pkg/common/telemetry"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/queue"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/worker"
)

// Config tunes a Pool. The zero value is usable except for WorkerCount,
// which is not defaulted: callers that want "one worker per CPU" must
// resolve that themselves before constructing Config.
type Config struct {
	// WorkerCount is the number of worker goroutines. It must be
	// positive; Start returns InvalidArgument if it is not.
	WorkerCount int

	// QueueConfig tunes the AdaptiveQueue backing this pool. If the zero
	// value, DefaultAdaptiveQueueConfig is used.
	QueueConfig queue.AdaptiveQueueConfig

	// WorkerWakeInterval bounds how long a worker blocks on Dequeue
	// before re-checking its shutdown state. If zero, defaults to
	// 500ms.
	WorkerWakeInterval time.Duration

	// BatchProcessing and BatchCap configure each worker's batch
	// dequeue behavior; see worker.Config.
	BatchProcessing bool
	BatchCap        int

	// MetricsInterval is how often Start's background goroutine pushes
	// a ThreadPoolMetrics snapshot to the registry's MetricsSink. If
	// zero, defaults to 1 second. Set to a negative value to disable.
	MetricsInterval time.Duration

	// Registry supplies the Logger and MetricsSink this pool uses. If
	// nil, a fresh registry.New() (both collaborators no-op) is used.
	Registry *registry.Registry
}

func (c Config) withDefaults() Config {
	if c.QueueConfig == (queue.AdaptiveQueueConfig{}) {
		c.QueueConfig = queue.DefaultAdaptiveQueueConfig()
	}
	if c.WorkerWakeInterval <= 0 {
		c.WorkerWakeInterval = 500 * time.Millisecond
	}
	if c.BatchCap <= 0 {
		c.BatchCap = 32
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = time.Second
	}
	if c.Registry == nil {
		c.Registry = registry.New()
	}
	return c
}

// Stats is a point-in-time snapshot of a Pool's counters.
type Stats struct {
	WorkerCount      int
	Submitted        int64
	Completed        int64
	Failed           int64
	QueueDepth       int
	FailedByKind     map[string]int64
	AvgExecutionTime time.Duration
	P99ExecutionTime time.Duration
	StrategySwitches int64
	CASFailureRatio  float64
	LockFreeQueue    bool
}

// Pool is a fixed-size set of workers sharing one AdaptiveQueue.
type Pool struct {
	id  string
	cfg Config
	q   *queue.AdaptiveQueue
	ctx registry.Context

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	lat       *latencyHistogram

	failedMu     sync.Mutex
	failedByKind map[job.Kind]int64

	mu       sync.Mutex
	started  bool
	shutdown bool

	cancel    context.CancelFunc
	workersWG sync.WaitGroup
	metricsWG sync.WaitGroup
}

// New constructs a Pool. It must be started with Start before jobs can
// be submitted.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		id:           uuid.NewString(),
		cfg:          cfg,
		q:            queue.NewAdaptiveQueue(cfg.QueueConfig),
		ctx:          cfg.Registry.Snapshot(),
		lat:          newLatencyHistogram(),
		failedByKind: make(map[job.Kind]int64),
	}
}

// ID returns this pool's unique instance identifier.
func (p *Pool) ID() string { return p.id }

// WorkerCount returns the configured number of workers.
func (p *Pool) WorkerCount() int { return p.cfg.WorkerCount }

// Start spawns the pool's worker goroutines and its metrics-reporting
// goroutine. Calling Start twice returns an InvalidArgument error;
// calling it after Shutdown also returns InvalidArgument.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return job.Failuref(job.InvalidArgument, "pool %s already started", p.id)
	}
	if p.shutdown {
		return job.Failuref(job.InvalidArgument, "pool %s has been shut down", p.id)
	}
	if p.cfg.WorkerCount <= 0 {
		return job.Failuref(job.InvalidArgument, "pool %s: worker count must be > 0", p.id)
	}
	p.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := worker.New(i, p.q, worker.Config{
			WakeInterval:    p.cfg.WorkerWakeInterval,
			BatchProcessing: p.cfg.BatchProcessing,
			BatchCap:        p.cfg.BatchCap,
		}, p.hooksFor(i))
		p.workersWG.Add(1)
		go func() {
			defer p.workersWG.Done()
			w.Run(runCtx)
		}()
	}

	if p.cfg.MetricsInterval > 0 {
		p.metricsWG.Add(1)
		go p.reportMetrics(runCtx)
	}

	p.ctx.Logger.Info("pool started", telemetry.F("pool_id", p.id), telemetry.F("workers", p.cfg.WorkerCount))
	return nil
}

func (p *Pool) hooksFor(id int) worker.Hooks {
	var processed int64 // this worker's own count; only its goroutine runs the hook
	return worker.Hooks{
		OnOutcome: func(j job.Job, outcome job.Outcome, d time.Duration) {
			processed++
			p.lat.record(d)
			if outcome.IsSuccess() {
				p.completed.Add(1)
			} else {
				p.completed.Add(1)
				p.failed.Add(1)
				p.recordFailure(outcome.Kind)
				p.ctx.Logger.Warn("job failed",
					telemetry.F("pool_id", p.id),
					telemetry.F("worker_id", id),
					telemetry.F("job", j.Name()),
					telemetry.F("kind", outcome.Kind.String()),
				)
			}
			p.ctx.Metrics.UpdateWorkerMetrics(telemetry.WorkerMetrics{
				PoolID:     p.id,
				WorkerID:   id,
				Processed:  processed,
				LastActive: time.Now(),
			})
		},
	}
}

func (p *Pool) recordFailure(k job.Kind) {
	p.failedMu.Lock()
	p.failedByKind[k]++
	p.failedMu.Unlock()
}

func (p *Pool) failedByKindSnapshot() map[string]int64 {
	p.failedMu.Lock()
	defer p.failedMu.Unlock()
	out := make(map[string]int64, len(p.failedByKind))
	for k, v := range p.failedByKind {
		out[k.String()] = v
	}
	return out
}

func (p *Pool) reportMetrics(ctx context.Context) {
	defer p.metricsWG.Done()
	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.ctx.Metrics.UpdateThreadPoolMetrics(p.snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) snapshot() telemetry.ThreadPoolMetrics {
	return telemetry.ThreadPoolMetrics{
		PoolID:           p.id,
		WorkerCount:      p.cfg.WorkerCount,
		QueueDepth:       p.q.Len(),
		Submitted:        p.submitted.Load(),
		Completed:        p.completed.Load(),
		Failed:           p.failed.Load(),
		FailedByKind:     p.failedByKindSnapshot(),
		AvgExecutionTime: p.lat.avg(),
		P99ExecutionTime: p.lat.percentile(0.99),
		StrategySwitches: p.q.SwitchCount(),
		CASFailureRatio:  p.q.CASFailureRatio(),
		LockFreeQueue:    p.q.UsingLockFree(),
	}
}

// Stats returns a snapshot of this pool's counters.
func (p *Pool) Stats() Stats {
	s := p.snapshot()
	return Stats{
		WorkerCount:      s.WorkerCount,
		Submitted:        s.Submitted,
		Completed:        s.Completed,
		Failed:           s.Failed,
		QueueDepth:       s.QueueDepth,
		FailedByKind:     s.FailedByKind,
		AvgExecutionTime: s.AvgExecutionTime,
		P99ExecutionTime: s.P99ExecutionTime,
		StrategySwitches: s.StrategySwitches,
		CASFailureRatio:  s.CASFailureRatio,
		LockFreeQueue:    s.LockFreeQueue,
	}
}

// Submit enqueues j. Returns Unavailable if the pool's queue has
// already been closed by Shutdown.
func (p *Pool) Submit(j job.Job) error {
	if err := p.q.Enqueue(j); err != nil {
		return job.Failuref(job.Unavailable, "pool %s: %v", p.id, err)
	}
	p.submitted.Add(1)
	return nil
}

// SubmitBatch enqueues every job in jobs as a single atomic batch; see
// queue.Queue.EnqueueBatch.
func (p *Pool) SubmitBatch(jobs []job.Job) error {
	if err := p.q.EnqueueBatch(jobs); err != nil {
		return job.Failuref(job.Unavailable, "pool %s: %v", p.id, err)
	}
	p.submitted.Add(int64(len(jobs)))
	return nil
}

// ShutdownGraceful closes the queue to new submissions, waits for
// already-queued jobs to drain and in-flight jobs to finish, and stops
// the worker goroutines. If timeout elapses first it returns a Timeout
// error without stopping the workers, leaving the pool usable for a
// follow-up ShutdownImmediate or a later ShutdownGraceful retry.
func (p *Pool) ShutdownGraceful(timeout time.Duration) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.q.Close()

	done := make(chan struct{})
	go func() {
		p.workersWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.finishShutdown()
		return nil
	case <-time.After(timeout):
		return job.Failuref(job.Timeout, "pool %s did not shut down within %s", p.id, timeout)
	}
}

// ShutdownImmediate cancels every worker's context, so in-flight jobs
// observe ctx.Done() on their next check and already-started jobs run
// to completion rather than being interrupted mid-instruction. It joins
// all worker goroutines using an errgroup, which is overkill for "wait
// for N goroutines" alone but gives a natural place to aggregate a
// fatal per-worker error if a future worker implementation reports one.
func (p *Pool) ShutdownImmediate() error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.q.Close()
	if p.cancel != nil {
		p.cancel()
	}

	var g errgroup.Group
	g.Go(func() error {
		p.workersWG.Wait()
		return nil
	})
	err := g.Wait()
	p.finishShutdown()
	return err
}

func (p *Pool) finishShutdown() {
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
	p.metricsWG.Wait()
	p.ctx.Logger.Info("pool shut down", telemetry.F("pool_id", p.id),
		telemetry.F("completed", p.completed.Load()), telemetry.F("failed", p.failed.Load()))
}

var _ fmt.Stringer = (*Pool)(nil)

func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s, workers=%d)", p.id, p.cfg.WorkerCount)
}
