package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
)

// noopTaggedJob is a tiny test-only Job that carries an int tag so tests
// can verify ordering after a round trip through the queue.
type noopTaggedJob struct {
	name string
	tag  int
}

func (j noopTaggedJob) Name() string                            { return j.name }
func (j noopTaggedJob) Execute(ctx context.Context) job.Outcome { return job.Success() }

func taggedJob(n int) noopTaggedJob {
	return noopTaggedJob{name: "tagged", tag: n}
}

func TestLockFreeQueue_FIFOSingleProducerSingleConsumer(t *testing.T) {
	q := newLockFreeQueue()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(taggedJob(i)))
	}
	for i := 0; i < 100; i++ {
		v, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, v.(noopTaggedJob).tag)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestLockFreeQueue_EnqueueBatchVisibleAtomically(t *testing.T) {
	q := newLockFreeQueue()
	batch := []job.Job{taggedJob(1), taggedJob(2), taggedJob(3)}
	require.NoError(t, q.EnqueueBatch(batch))
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		v, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, v.(noopTaggedJob).tag)
	}
}

func TestLockFreeQueue_CloseRejectsNewEnqueues(t *testing.T) {
	q := newLockFreeQueue()
	require.NoError(t, q.Enqueue(taggedJob(1)))
	q.Close()
	q.Close() // idempotent

	err := q.Enqueue(taggedJob(2))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLockFreeQueue_CloseDrainsPendingThenReportsClosed(t *testing.T) {
	q := newLockFreeQueue()
	require.NoError(t, q.Enqueue(taggedJob(1)))
	require.NoError(t, q.Enqueue(taggedJob(2)))
	q.Close()

	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v.(noopTaggedJob).tag)

	v, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 2, v.(noopTaggedJob).tag)

	_, ok = q.TryDequeue()
	assert.False(t, ok)

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLockFreeQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := newLockFreeQueue()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockFreeQueue_DequeueRespectsDeadline(t *testing.T) {
	q := newLockFreeQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLockFreeQueue_ConcurrentProducersConsumersNoLossNoDuplication(t *testing.T) {
	q := newLockFreeQueue()
	const producers = 8
	const perProducer = 500
	const total = producers * perProducer

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, q.Enqueue(taggedJob(base*perProducer+i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make([]int, 0, total)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	for c := 0; c < 4; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				v, ok := q.TryDequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen = append(seen, v.(noopTaggedJob).tag)
				mu.Unlock()
			}
		}()
	}
	consumers.Wait()

	sort.Ints(seen)
	require.Len(t, seen, total)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestLockFreeQueue_DrainAllReturnsFIFOOrder(t *testing.T) {
	q := newLockFreeQueue()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(taggedJob(i)))
	}
	drained := q.drainAll()
	require.Len(t, drained, 10)
	for i, j := range drained {
		assert.Equal(t, i, j.(noopTaggedJob).tag)
	}
	assert.Equal(t, 0, q.Len())
}
