package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQueueConstructors returns one constructor per strategy so the
// shared Queue contract gets exercised against all of them identically.
func newQueueConstructors() map[string]func() Queue {
	return map[string]func() Queue{
		"mutex":     func() Queue { return newMutexQueue() },
		"lockfree":  func() Queue { return newLockFreeQueue() },
		"adaptive":  func() Queue { return NewAdaptiveQueue(DefaultAdaptiveQueueConfig()) },
	}
}

func TestQueue_FIFOAcrossStrategies(t *testing.T) {
	for name, newQ := range newQueueConstructors() {
		t.Run(name, func(t *testing.T) {
			q := newQ()
			for i := 0; i < 5; i++ {
				require.NoError(t, q.Enqueue(taggedJob(i)))
			}
			for i := 0; i < 5; i++ {
				v, ok := q.TryDequeue()
				require.True(t, ok)
				assert.Equal(t, i, v.(noopTaggedJob).tag)
			}
		})
	}
}

func TestQueue_CloseThenDequeueReturnsErrClosed(t *testing.T) {
	for name, newQ := range newQueueConstructors() {
		t.Run(name, func(t *testing.T) {
			q := newQ()
			q.Close()
			_, err := q.Dequeue(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestQueue_EnqueueAfterCloseFails(t *testing.T) {
	for name, newQ := range newQueueConstructors() {
		t.Run(name, func(t *testing.T) {
			q := newQ()
			q.Close()
			err := q.Enqueue(taggedJob(1))
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestQueue_DequeueBatchStopsWhenEmpty(t *testing.T) {
	for name, newQ := range newQueueConstructors() {
		t.Run(name, func(t *testing.T) {
			q := newQ()
			require.NoError(t, q.Enqueue(taggedJob(1)))
			require.NoError(t, q.Enqueue(taggedJob(2)))

			batch := DequeueBatch(q, 10)
			assert.Len(t, batch, 2)
		})
	}
}
