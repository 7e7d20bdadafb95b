package queue

import "sync"

// nodePool recycles msNode values so the lock-free queue's enqueue path
// avoids the allocator on the hot path. sync.Pool already gives every P
// a private cache, which is the "per-thread freelist cache" the design
// calls for, without hand-rolling one.
type nodePool struct {
	pool sync.Pool
}

func newNodePool() *nodePool {
	return &nodePool{
		pool: sync.Pool{New: func() any { return &msNode{} }},
	}
}

func (p *nodePool) get() *msNode {
	n := p.pool.Get().(*msNode)
	n.value = nil
	n.tombstone = false
	n.next.Store(nil)
	return n
}

// put returns n to the pool. Callers must guarantee no hazard pointer
// protects n before calling put — see hazardDomain.retire.
func (p *nodePool) put(n *msNode) {
	n.value = nil
	n.tombstone = false
	n.next.Store(nil)
	p.pool.Put(n)
}
