// Package token implements cancellation tokens: a monotone, thread-safe
// signal with callback registration and parent/child propagation.
//
// A token's cancelled state only ever moves from false to true. Children
// observe their parent's cancellation but may also be cancelled
// independently; cancelling a child never affects its parent. A parent
// holds its children through weak.Pointer, never a strong reference, so
// a child with no other owner is collectable even while its parent is
// still alive; propagation simply skips any child that has already been
// collected.
package token

import (
	"sync"
	"weak"
)

// Token is a cancellation signal. The zero value is not usable; construct
// one with New.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
	children  []weak.Pointer[Token]
}

// New returns a fresh, uncancelled token.
func New() *Token {
	return &Token{}
}

// Cancel signals the token. It is idempotent: only the first call fires
// callbacks and propagates to children; later calls are no-ops.
// Callbacks run outside the token's lock so they may safely register
// further callbacks or cancel other tokens.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	for _, wp := range children {
		if child := wp.Value(); child != nil {
			child.Cancel()
		}
	}
}

// IsCancelled reports whether the token has been signalled. It takes the
// token's mutex, so the read is synchronized with concurrent Cancel
// calls; it is not a lock-free read.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// OnCancel registers cb to run when the token is cancelled. If the token
// is already cancelled, cb runs synchronously on the calling goroutine
// before OnCancel returns.
func (t *Token) OnCancel(cb func()) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		cb()
		return
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// NewChild returns a token that is cancelled whenever t is cancelled. The
// child may also be cancelled independently without affecting t. If t is
// already cancelled, the returned child is cancelled immediately.
func (t *Token) NewChild() *Token {
	child := New()

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		child.Cancel()
		return child
	}
	t.children = append(t.children, weak.Make(child))
	t.mu.Unlock()

	return child
}
