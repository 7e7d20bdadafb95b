package token

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancel_Idempotent(t *testing.T) {
	tok := New()
	var fired int32
	tok.OnCancel(func() { atomic.AddInt32(&fired, 1) })

	tok.Cancel()
	tok.Cancel()
	tok.Cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.True(t, tok.IsCancelled())
}

func TestOnCancel_FiresImmediatelyIfAlreadyCancelled(t *testing.T) {
	tok := New()
	tok.Cancel()

	var fired bool
	tok.OnCancel(func() { fired = true })

	assert.True(t, fired)
}

func TestIsCancelled_Monotone(t *testing.T) {
	tok := New()
	require.False(t, tok.IsCancelled())
	tok.Cancel()
	require.True(t, tok.IsCancelled())
	require.True(t, tok.IsCancelled())
}

func TestNewChild_PropagatesFromParent(t *testing.T) {
	parent := New()
	child := parent.NewChild()

	require.False(t, child.IsCancelled())
	parent.Cancel()
	require.True(t, child.IsCancelled())
}

func TestNewChild_CancellingChildDoesNotAffectParent(t *testing.T) {
	parent := New()
	child := parent.NewChild()

	child.Cancel()

	assert.True(t, child.IsCancelled())
	assert.False(t, parent.IsCancelled())
}

func TestNewChild_AlreadyCancelledParentCancelsChildImmediately(t *testing.T) {
	parent := New()
	parent.Cancel()

	child := parent.NewChild()
	assert.True(t, child.IsCancelled())
}

func TestCancel_ConcurrentCancelAndRegister(t *testing.T) {
	tok := New()
	var wg sync.WaitGroup
	var fired int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.OnCancel(func() { atomic.AddInt64(&fired, 1) })
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok.Cancel()
	}()

	wg.Wait()
	assert.True(t, tok.IsCancelled())
	assert.Equal(t, int64(50), atomic.LoadInt64(&fired))
}
