package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/queue"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/token"
)

func newMutexBackedQueue() queue.Queue {
	cfg := queue.DefaultAdaptiveQueueConfig()
	cfg.Strategy = queue.ForceMutex
	return queue.NewAdaptiveQueue(cfg)
}

func TestWorker_ProcessesJobsUntilContextCancelled(t *testing.T) {
	q := newMutexBackedQueue()
	var processed int64

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(job.FromFunc("noop", func(ctx context.Context) error {
			atomic.AddInt64(&processed, 1)
			return nil
		})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, q, Config{WakeInterval: 10 * time.Millisecond}, Hooks{})

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&processed) == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWorker_CallsEachLifecycleHook(t *testing.T) {
	q := newMutexBackedQueue()
	require.NoError(t, q.Enqueue(job.FromFunc("noop", func(ctx context.Context) error { return nil })))

	var before, after int32
	var outcomes int32
	hooks := Hooks{
		BeforeStart: func() error { atomic.AddInt32(&before, 1); return nil },
		AfterStop:   func() { atomic.AddInt32(&after, 1) },
		OnOutcome: func(j job.Job, o job.Outcome, d time.Duration) {
			atomic.AddInt32(&outcomes, 1)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, q, Config{WakeInterval: 10 * time.Millisecond}, hooks)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&outcomes) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&before))
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

func TestWorker_BeforeStartErrorAbortsWithoutProcessing(t *testing.T) {
	q := newMutexBackedQueue()
	var processed int32
	require.NoError(t, q.Enqueue(job.FromFunc("noop", func(ctx context.Context) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})))

	hooks := Hooks{
		BeforeStart: func() error { return assert.AnError },
	}
	w := New(1, q, Config{}, hooks)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not return after BeforeStart error")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&processed))
}

func TestWorker_ExitsWhenQueueClosesAndDrainsWithoutContextCancel(t *testing.T) {
	q := newMutexBackedQueue()
	var processed int64
	require.NoError(t, q.Enqueue(job.FromFunc("noop", func(ctx context.Context) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})))
	q.Close()

	w := New(1, q, Config{WakeInterval: 10 * time.Millisecond}, Hooks{})
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after queue closed and drained")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&processed))
}

func TestWorker_CancellationTokenSkipsRemainingJobs(t *testing.T) {
	q := newMutexBackedQueue()
	tok := token.New()

	var executed int64
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(job.FromFuncCancellable("spin", tok, func(ctx context.Context) error {
			time.Sleep(200 * time.Microsecond)
			atomic.AddInt64(&executed, 1)
			return nil
		})))
	}

	var mu sync.Mutex
	var outcomes []job.Outcome
	hooks := Hooks{
		OnOutcome: func(j job.Job, o job.Outcome, d time.Duration) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(1, q, Config{WakeInterval: 5 * time.Millisecond}, hooks)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tok.Cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == n
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	var cancelledCount int
	for _, o := range outcomes {
		if o.Kind == job.Cancelled {
			cancelledCount++
		}
	}
	assert.Greater(t, cancelledCount, 0)
	assert.Less(t, int(atomic.LoadInt64(&executed)), n)
	assert.Equal(t, n, cancelledCount+int(atomic.LoadInt64(&executed)))
}

func TestWorker_BatchProcessingExecutesWholeBatch(t *testing.T) {
	q := newMutexBackedQueue()
	var processed int64
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(job.FromFunc("noop", func(ctx context.Context) error {
			atomic.AddInt64(&processed, 1)
			return nil
		})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, q, Config{BatchProcessing: true, BatchCap: 4, WakeInterval: 10 * time.Millisecond}, Hooks{})

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&processed) == 10
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
