package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusSink records engine metrics as Prometheus collectors and
// keeps the last ThreadPoolMetrics per pool around so CurrentSnapshot
// can return it without scraping the registry.
type prometheusSink struct {
	activePools  prometheus.Gauge
	totalWorkers prometheus.Gauge
	queuedJobs   prometheus.Gauge

	poolQueueDepth prometheus.GaugeVec
	poolSubmitted  prometheus.GaugeVec
	poolCompleted  prometheus.GaugeVec
	poolFailed     prometheus.GaugeVec

	poolAvgExecSeconds prometheus.GaugeVec
	poolP99ExecSeconds prometheus.GaugeVec
	poolSwitches       prometheus.GaugeVec
	poolCASFailRatio   prometheus.GaugeVec
	poolLockFree       prometheus.GaugeVec

	workerProcessed prometheus.GaugeVec

	mu        sync.Mutex
	snapshots map[string]ThreadPoolMetrics
}

// NewPrometheusSink constructs a MetricsSink and registers its
// collectors against reg. reg is supplied by the caller so an
// application can expose it however it likes (its own /metrics handler,
// a pushgateway client, etc.) — this package never starts an HTTP
// server of its own.
func NewPrometheusSink(reg *prometheus.Registry) MetricsSink {
	s := &prometheusSink{
		activePools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "active_pools",
			Help:      "Number of currently running thread pools.",
		}),
		totalWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "total_workers",
			Help:      "Number of worker goroutines across all pools.",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "queued_jobs",
			Help:      "Number of jobs currently queued across all pools.",
		}),
		poolQueueDepth: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_queue_depth",
			Help:      "Current queue depth for a pool.",
		}, []string{"pool_id"}),
		poolSubmitted: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_jobs_submitted_total",
			Help:      "Cumulative jobs submitted to a pool.",
		}, []string{"pool_id"}),
		poolCompleted: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_jobs_completed_total",
			Help:      "Cumulative jobs completed by a pool.",
		}, []string{"pool_id"}),
		poolFailed: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_jobs_failed_total",
			Help:      "Cumulative jobs failed in a pool.",
		}, []string{"pool_id"}),
		poolAvgExecSeconds: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_avg_execution_seconds",
			Help:      "Average job execution duration for a pool.",
		}, []string{"pool_id"}),
		poolP99ExecSeconds: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_p99_execution_seconds",
			Help:      "Approximate p99 job execution duration for a pool.",
		}, []string{"pool_id"}),
		poolSwitches: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_queue_strategy_switches_total",
			Help:      "Cumulative adaptive queue strategy switches for a pool.",
		}, []string{"pool_id"}),
		poolCASFailRatio: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_queue_cas_failure_ratio",
			Help:      "Most recent lock-free queue CAS failure ratio for a pool.",
		}, []string{"pool_id"}),
		poolLockFree: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "pool_queue_lock_free",
			Help:      "1 if a pool's queue is currently on the lock-free strategy, else 0.",
		}, []string{"pool_id"}),
		workerProcessed: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "worker_jobs_processed_total",
			Help:      "Cumulative jobs processed by a single worker.",
		}, []string{"pool_id", "worker_id"}),
		snapshots: make(map[string]ThreadPoolMetrics),
	}

	reg.MustRegister(
		s.activePools,
		s.totalWorkers,
		s.queuedJobs,
		&s.poolQueueDepth,
		&s.poolSubmitted,
		&s.poolCompleted,
		&s.poolFailed,
		&s.poolAvgExecSeconds,
		&s.poolP99ExecSeconds,
		&s.poolSwitches,
		&s.poolCASFailRatio,
		&s.poolLockFree,
		&s.workerProcessed,
	)
	return s
}

func (s *prometheusSink) UpdateSystemMetrics(m SystemMetrics) {
	s.activePools.Set(float64(m.ActivePools))
	s.totalWorkers.Set(float64(m.TotalWorkers))
	s.queuedJobs.Set(float64(m.QueuedJobs))
}

func (s *prometheusSink) UpdateThreadPoolMetrics(m ThreadPoolMetrics) {
	s.poolQueueDepth.WithLabelValues(m.PoolID).Set(float64(m.QueueDepth))
	s.poolSubmitted.WithLabelValues(m.PoolID).Set(float64(m.Submitted))
	s.poolCompleted.WithLabelValues(m.PoolID).Set(float64(m.Completed))
	s.poolFailed.WithLabelValues(m.PoolID).Set(float64(m.Failed))
	s.poolAvgExecSeconds.WithLabelValues(m.PoolID).Set(m.AvgExecutionTime.Seconds())
	s.poolP99ExecSeconds.WithLabelValues(m.PoolID).Set(m.P99ExecutionTime.Seconds())
	s.poolSwitches.WithLabelValues(m.PoolID).Set(float64(m.StrategySwitches))
	s.poolCASFailRatio.WithLabelValues(m.PoolID).Set(m.CASFailureRatio)
	if m.LockFreeQueue {
		s.poolLockFree.WithLabelValues(m.PoolID).Set(1)
	} else {
		s.poolLockFree.WithLabelValues(m.PoolID).Set(0)
	}

	s.mu.Lock()
	s.snapshots[m.PoolID] = m
	s.mu.Unlock()
}

func (s *prometheusSink) UpdateWorkerMetrics(m WorkerMetrics) {
	s.workerProcessed.WithLabelValues(m.PoolID, strconv.Itoa(m.WorkerID)).Set(float64(m.Processed))
}

func (s *prometheusSink) CurrentSnapshot(poolID string) (ThreadPoolMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.snapshots[poolID]
	return m, ok
}
