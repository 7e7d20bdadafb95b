package telemetry

import "time"

// SystemMetrics is a point-in-time snapshot of engine-wide state,
// independent of any particular pool instance.
type SystemMetrics struct {
	ActivePools  int
	TotalWorkers int
	QueuedJobs   int
}

// ThreadPoolMetrics is a point-in-time snapshot of one pool's state.
type ThreadPoolMetrics struct {
	PoolID      string
	WorkerCount int
	QueueDepth  int
	Submitted   int64
	Completed   int64
	Failed      int64

	// FailedByKind breaks Failed down by job.Kind.String().
	FailedByKind map[string]int64

	AvgExecutionTime time.Duration
	P99ExecutionTime time.Duration

	// StrategySwitches counts how many times the backing AdaptiveQueue
	// has flipped between mutex and lock-free strategies.
	StrategySwitches int64
	// CASFailureRatio is the lock-free strategy's most recent observed
	// CAS failure ratio, whether or not it is currently active.
	CASFailureRatio float64
	// LockFreeQueue reports whether the pool's queue is currently on
	// the lock-free strategy.
	LockFreeQueue bool
}

// WorkerMetrics is a point-in-time snapshot of one worker's state.
type WorkerMetrics struct {
	PoolID     string
	WorkerID   int
	Processed  int64
	LastActive time.Time
}

// MetricsSink is the metrics contract engine packages depend on.
// Implementations must be safe for concurrent use.
type MetricsSink interface {
	UpdateSystemMetrics(m SystemMetrics)
	UpdateThreadPoolMetrics(m ThreadPoolMetrics)
	UpdateWorkerMetrics(m WorkerMetrics)

	// CurrentSnapshot returns the most recently recorded
	// ThreadPoolMetrics for poolID, or the zero value and false if none
	// has been recorded yet.
	CurrentSnapshot(poolID string) (ThreadPoolMetrics, bool)
}

// NopMetrics is a MetricsSink that discards everything and never has a
// snapshot. It is the zero-config default.
var NopMetrics MetricsSink = nopSink{}

type nopSink struct{}

func (nopSink) UpdateSystemMetrics(SystemMetrics)         {}
func (nopSink) UpdateThreadPoolMetrics(ThreadPoolMetrics)  {}
func (nopSink) UpdateWorkerMetrics(WorkerMetrics)          {}
func (nopSink) CurrentSnapshot(string) (ThreadPoolMetrics, bool) {
	return ThreadPoolMetrics{}, false
}
