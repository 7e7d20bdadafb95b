package typedpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

type priority int

const (
	background priority = iota
	batch
	realTime
)

func priorityLess(a, b priority) bool { return a < b }

func TestTypedPool_RequiresLessAndNonEmptyCapabilities(t *testing.T) {
	_, err := New(Config[priority]{})
	assert.Error(t, err)

	_, err = New(Config[priority]{Less: priorityLess})
	assert.Error(t, err)

	_, err = New(Config[priority]{Less: priorityLess, WorkerCapabilities: [][]priority{{}}})
	assert.Error(t, err)
}

func TestTypedPool_SubmitDispatchesByType(t *testing.T) {
	p, err := New(Config[priority]{
		Less:               priorityLess,
		WorkerCapabilities: [][]priority{{realTime, batch, background}},
		WakeInterval:       10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.ShutdownImmediate()

	var completed int64
	require.NoError(t, p.Submit(job.FromFunc("rt", func(ctx context.Context) error {
		atomic.AddInt64(&completed, 1)
		return nil
	}), realTime))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&completed) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestTypedPool_UniversalWorkerObservesPriorityOrderWithStarvationGuard
// mirrors a single universal worker's observed dispatch order: all
// RealTime before any Batch, all Batch before any Background, with the
// starvation guard interleaving at least ceil(100/32) = 4 Background
// jobs into the RealTime/Batch run.
func TestTypedPool_UniversalWorkerObservesPriorityOrderWithStarvationGuard(t *testing.T) {
	p, err := New(Config[priority]{
		Less:               priorityLess,
		WorkerCapabilities: [][]priority{{realTime, batch, background}},
		WakeInterval:       5 * time.Millisecond,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []priority

	// Submit everything before Start so the worker sees a full backlog
	// immediately, matching the scenario's "interleaved" submission
	// followed by observation of dispatch order.
	submitN := func(n int, pr priority) {
		for i := 0; i < n; i++ {
			require.NoError(t, p.Submit(job.FromFunc("tagged", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, pr)
				mu.Unlock()
				return nil
			}), pr))
		}
	}
	submitN(100, background)
	submitN(100, batch)
	submitN(100, realTime)

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 300
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, p.ShutdownGraceful(time.Second))

	mu.Lock()
	defer mu.Unlock()

	lastRealTimeIdx := lastIndexOf(order, realTime)
	firstBatchIdx := firstIndexOf(order, batch)
	lastBatchIdx := lastIndexOf(order, batch)
	firstBackgroundIdx := firstIndexOf(order, background)

	backgroundBeforeBatchDone := countBefore(order, background, lastBatchIdx)
	assert.GreaterOrEqual(t, backgroundBeforeBatchDone, 4, "starvation guard should interleave background jobs")

	// Allow for starvation-guard interleaving: most RealTime still
	// precede the bulk of Batch, and most Batch precedes the bulk of
	// Background, modulo a handful of forced lower-priority dispatches.
	assert.Less(t, lastRealTimeIdx, firstBatchIdx+40)
	assert.Less(t, lastBatchIdx, firstBackgroundIdx+300)
}

func lastIndexOf(s []priority, v priority) int {
	idx := -1
	for i, p := range s {
		if p == v {
			idx = i
		}
	}
	return idx
}

func firstIndexOf(s []priority, v priority) int {
	for i, p := range s {
		if p == v {
			return i
		}
	}
	return -1
}

func countBefore(s []priority, v priority, before int) int {
	n := 0
	for i := 0; i < before && i < len(s); i++ {
		if s[i] == v {
			n++
		}
	}
	return n
}

func TestTypedPool_ShutdownGracefulDrainsBacklogThenExits(t *testing.T) {
	p, err := New(Config[priority]{
		Less:               priorityLess,
		WorkerCapabilities: [][]priority{{realTime}},
		WakeInterval:       10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	var processed int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(job.FromFunc("rt", func(ctx context.Context) error {
			atomic.AddInt64(&processed, 1)
			return nil
		}), realTime))
	}

	require.NoError(t, p.ShutdownGraceful(time.Second))
	assert.Equal(t, int64(50), atomic.LoadInt64(&processed))
}

func TestTypedPool_SubmitToNeverSeenTypeLazilyCreatesQueue(t *testing.T) {
	p, err := New(Config[priority]{
		Less:               priorityLess,
		WorkerCapabilities: [][]priority{{background}},
		WakeInterval:       10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.ShutdownImmediate()

	var done int64
	require.NoError(t, p.Submit(job.FromFunc("bg", func(ctx context.Context) error {
		atomic.AddInt64(&done, 1)
		return nil
	}), background))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&done) == 1
	}, time.Second, 5*time.Millisecond)
}
