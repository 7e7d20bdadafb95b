package queue

import (
	"sync"
	"sync/atomic"
)

// hazardSlotsPerRecord is head+next, the two pointers a lock-free queue
// operation ever needs to dereference before it has linked itself into
// the structure.
const hazardSlotsPerRecord = 2

// hazardRecord is a goroutine's claim on two hazard-pointer slots for the
// duration of one queue operation. Records are never freed once
// allocated; they are recycled via inUse so the domain's record count
// stays bounded by peak concurrency rather than growing per-operation.
type hazardRecord struct {
	slots      [hazardSlotsPerRecord]atomic.Pointer[msNode]
	inUse      atomic.Bool
	nextRecord *hazardRecord
}

// hazardDomain owns every hazard-pointer record and the retired-node list
// for one lockFreeQueue instance. Reclamation batches once the retired
// list exceeds twice the number of records ever allocated, which is one
// retired node per hazard slot (each record holds two slots).
type hazardDomain struct {
	recordsMu  sync.Mutex
	records    *hazardRecord
	numRecords int

	retiredMu sync.Mutex
	retired   []*msNode

	pool *nodePool
}

func newHazardDomain(pool *nodePool) *hazardDomain {
	return &hazardDomain{pool: pool}
}

// acquire claims a free record, allocating a new one if every existing
// record is in use.
func (d *hazardDomain) acquire() *hazardRecord {
	d.recordsMu.Lock()
	head := d.records
	d.recordsMu.Unlock()

	for r := head; r != nil; r = r.nextRecord {
		if r.inUse.CompareAndSwap(false, true) {
			return r
		}
	}

	rec := &hazardRecord{}
	rec.inUse.Store(true)
	d.recordsMu.Lock()
	rec.nextRecord = d.records
	d.records = rec
	d.numRecords++
	d.recordsMu.Unlock()
	return rec
}

// release clears rec's slots and returns it to the free pool of records.
func (d *hazardDomain) release(rec *hazardRecord) {
	rec.slots[0].Store(nil)
	rec.slots[1].Store(nil)
	rec.inUse.Store(false)
}

// publish announces that rec's operation is about to dereference n,
// before any linked-list pointer read that depends on n still being
// valid.
func (d *hazardDomain) publish(rec *hazardRecord, slot int, n *msNode) {
	rec.slots[slot].Store(n)
}

// protected reports whether any live record currently hazards n.
func (d *hazardDomain) protected(n *msNode) bool {
	if n == nil {
		return false
	}
	d.recordsMu.Lock()
	head := d.records
	d.recordsMu.Unlock()

	for r := head; r != nil; r = r.nextRecord {
		if r.slots[0].Load() == n || r.slots[1].Load() == n {
			return true
		}
	}
	return false
}

// retire queues n for reclamation. Once the retired list grows past the
// batch threshold it is scanned in full: nodes still hazarded survive to
// the next round, the rest go back to the node pool for reuse.
func (d *hazardDomain) retire(n *msNode) {
	d.retiredMu.Lock()
	d.retired = append(d.retired, n)
	d.recordsMu.Lock()
	threshold := 2 * d.numRecords
	d.recordsMu.Unlock()
	if threshold == 0 {
		threshold = 2
	}

	var batch []*msNode
	if len(d.retired) > threshold {
		batch = d.retired
		d.retired = nil
	}
	d.retiredMu.Unlock()

	if batch == nil {
		return
	}
	var survivors []*msNode
	for _, candidate := range batch {
		if d.protected(candidate) {
			survivors = append(survivors, candidate)
			continue
		}
		d.pool.put(candidate)
	}
	if len(survivors) > 0 {
		d.retiredMu.Lock()
		d.retired = append(d.retired, survivors...)
		d.retiredMu.Unlock()
	}
}
