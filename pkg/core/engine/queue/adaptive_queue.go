package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

// Strategy selects which inner queue implementation an AdaptiveQueue
// uses, or instructs it to pick one dynamically.
type Strategy int

const (
	// Adaptive samples contention on a fixed window and switches between
	// the mutex and lock-free strategies as the signal crosses watermarks.
	Adaptive Strategy = iota
	// ForceMutex pins the queue to the mutex-guarded FIFO for its whole
	// lifetime.
	ForceMutex
	// ForceLockFree pins the queue to the Michael-Scott lock-free FIFO
	// for its whole lifetime.
	ForceLockFree
)

// AdaptiveQueueConfig tunes the contention sampler. The zero value is not
// usable; use DefaultAdaptiveQueueConfig.
type AdaptiveQueueConfig struct {
	Strategy Strategy

	// SampleWindow is the number of dequeue calls observed before the
	// contention signal is evaluated and possibly acted on.
	SampleWindow int64

	// Cooldown is the minimum time between successive strategy switches,
	// preventing oscillation when contention hovers near a watermark.
	Cooldown time.Duration

	// BlockedRatioHighWatermark: when the mutex strategy's fraction of
	// Dequeue calls that had to wait exceeds this, switch to lock-free.
	BlockedRatioHighWatermark float64

	// CASFailureHighWatermark: when the lock-free strategy's fraction of
	// failed CAS attempts exceeds this, switch to mutex.
	CASFailureHighWatermark float64

	// LowContentionQueueDepth: when at or under this depth and the sampler
	// fires, prefer (or return to) the mutex strategy regardless of the
	// other watermarks, since there's no contention left to amortize a
	// lock-free queue's overhead against.
	LowContentionQueueDepth int
}

// DefaultAdaptiveQueueConfig returns the tuning used when callers don't
// supply their own.
func DefaultAdaptiveQueueConfig() AdaptiveQueueConfig {
	return AdaptiveQueueConfig{
		Strategy:                  Adaptive,
		SampleWindow:              1024,
		Cooldown:                  100 * time.Millisecond,
		BlockedRatioHighWatermark: 0.25,
		CASFailureHighWatermark:   0.15,
		LowContentionQueueDepth:   1,
	}
}

// AdaptiveQueue wraps a mutex queue and a lock-free queue behind the
// shared Queue interface, starting on the mutex strategy and switching
// to lock-free (and back) as observed contention crosses the configured
// watermarks. Callers never see which strategy is live: Enqueue and
// EnqueueBatch hold the strategy lock's read side, so a switch cannot
// strand a job on the strategy being vacated. A Dequeue already waiting
// on the vacated strategy keeps waiting there until its ctx is done; the
// next call uses the current one.
type AdaptiveQueue struct {
	cfg AdaptiveQueueConfig

	switchMu      sync.RWMutex
	current       Queue
	usingLockFree bool
	mutexImpl     *mutexQueue
	lockFreeImpl  *lockFreeQueue

	lastSwitch atomic.Int64 // unix nanos
	calls      atomic.Int64
	switches   atomic.Int64
}

// NewAdaptiveQueue constructs an AdaptiveQueue per cfg.
func NewAdaptiveQueue(cfg AdaptiveQueueConfig) *AdaptiveQueue {
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = 1024
	}
	mq := newMutexQueue()
	lfq := newLockFreeQueue()

	aq := &AdaptiveQueue{
		cfg:          cfg,
		mutexImpl:    mq,
		lockFreeImpl: lfq,
	}

	switch cfg.Strategy {
	case ForceLockFree:
		aq.current = lfq
		aq.usingLockFree = true
	default:
		aq.current = mq
		aq.usingLockFree = false
	}
	return aq
}

// NewDefaultAdaptiveQueue is a convenience constructor using
// DefaultAdaptiveQueueConfig with Strategy set to Adaptive.
func NewDefaultAdaptiveQueue() *AdaptiveQueue {
	return NewAdaptiveQueue(DefaultAdaptiveQueueConfig())
}

func (aq *AdaptiveQueue) active() Queue {
	aq.switchMu.RLock()
	defer aq.switchMu.RUnlock()
	return aq.current
}

func (aq *AdaptiveQueue) Enqueue(j job.Job) error {
	aq.switchMu.RLock()
	defer aq.switchMu.RUnlock()
	return aq.current.Enqueue(j)
}

func (aq *AdaptiveQueue) EnqueueBatch(jobs []job.Job) error {
	aq.switchMu.RLock()
	defer aq.switchMu.RUnlock()
	return aq.current.EnqueueBatch(jobs)
}

func (aq *AdaptiveQueue) Dequeue(ctx context.Context) (job.Job, error) {
	j, err := aq.active().Dequeue(ctx)
	aq.sample()
	return j, err
}

func (aq *AdaptiveQueue) TryDequeue() (job.Job, bool) {
	j, ok := aq.active().TryDequeue()
	aq.sample()
	return j, ok
}

func (aq *AdaptiveQueue) Close() {
	aq.switchMu.Lock()
	defer aq.switchMu.Unlock()
	aq.mutexImpl.Close()
	aq.lockFreeImpl.Close()
}

func (aq *AdaptiveQueue) Len() int {
	return aq.active().Len()
}

// sample evaluates the contention signal every SampleWindow calls and
// switches strategy if warranted. Only meaningful in Adaptive mode; a
// forced strategy never switches.
func (aq *AdaptiveQueue) sample() {
	if aq.cfg.Strategy != Adaptive {
		return
	}
	n := aq.calls.Add(1)
	if n%aq.cfg.SampleWindow != 0 {
		return
	}

	last := aq.lastSwitch.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < aq.cfg.Cooldown {
		return
	}

	aq.switchMu.RLock()
	usingLockFree := aq.usingLockFree
	aq.switchMu.RUnlock()

	if usingLockFree {
		if aq.lockFreeImpl.casFailureRatio() > aq.cfg.CASFailureHighWatermark ||
			aq.lockFreeImpl.Len() <= aq.cfg.LowContentionQueueDepth {
			aq.switchTo(false)
		}
	} else {
		if aq.mutexImpl.blockedRatio() > aq.cfg.BlockedRatioHighWatermark &&
			aq.mutexImpl.Len() > aq.cfg.LowContentionQueueDepth {
			aq.switchTo(true)
		}
	}
}

// switchTo migrates pending jobs from the currently active strategy to
// the other one and flips aq.current. Jobs are drained and re-enqueued
// in FIFO order so the switch is transparent to callers beyond a brief
// pause on the strategy being vacated.
func (aq *AdaptiveQueue) switchTo(toLockFree bool) {
	aq.switchMu.Lock()
	defer aq.switchMu.Unlock()

	// Close takes switchMu too, so once it has run both inner queues are
	// closed and no migration may start.
	if aq.usingLockFree == toLockFree || aq.lockFreeImpl.closed.Load() {
		return
	}
	aq.switches.Add(1)

	var pending []job.Job
	if toLockFree {
		pending = aq.mutexImpl.drainAll()
		aq.mutexImpl.resetStats()
	} else {
		pending = aq.lockFreeImpl.drainAll()
		aq.lockFreeImpl.resetStats()
	}

	if toLockFree {
		aq.current = aq.lockFreeImpl
	} else {
		aq.current = aq.mutexImpl
	}
	aq.usingLockFree = toLockFree

	if len(pending) > 0 {
		// switchMu is held for the whole migration, so no Enqueue can
		// run until the migrated jobs, in their original FIFO order, are
		// in place ahead of it.
		_ = aq.current.EnqueueBatch(pending)
	}

	aq.lastSwitch.Store(timeNowUnixNano())
}

// timeNowUnixNano exists only so the single use of wall-clock time for
// cooldown bookkeeping is in one place.
func timeNowUnixNano() int64 {
	return time.Now().UnixNano()
}

// SwitchCount returns the number of times this queue has flipped
// strategy since construction.
func (aq *AdaptiveQueue) SwitchCount() int64 {
	return aq.switches.Load()
}

// UsingLockFree reports whether the queue is currently on the
// lock-free strategy.
func (aq *AdaptiveQueue) UsingLockFree() bool {
	aq.switchMu.RLock()
	defer aq.switchMu.RUnlock()
	return aq.usingLockFree
}

// CASFailureRatio reports the lock-free strategy's most recent CAS
// failure ratio, regardless of whether it is currently active.
func (aq *AdaptiveQueue) CASFailureRatio() float64 {
	return aq.lockFreeImpl.casFailureRatio()
}
