package cache

import (
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/waitable"
)

// mshrEntry is a miss status handling register: the original request and
// the upstream responders waiting on it, per spec.md §3 "MSHR entry".
// Invariant enforced by mshrTable: at most one entry per cache-block
// address.
type mshrEntry struct {
	req          request.Request
	eventCycle   waitable.Time // fill completion time; Sentinel until scheduled
	cycleEnqueued waitable.Time
	isPrefetch   bool // true until promoted to a demand by a non-prefetch merge
}

// mshrTable is a small unordered multimap from block number to entry,
// with at most one per block at steady state (spec.md §9 "Collection
// semantics").
type mshrTable struct {
	capacity int
	entries  map[uint64]*mshrEntry
	order    []uint64 // insertion order, for deterministic iteration
}

func newMSHRTable(capacity int) *mshrTable {
	return &mshrTable{capacity: capacity, entries: make(map[uint64]*mshrEntry)}
}

func (t *mshrTable) Find(block uint64) (*mshrEntry, bool) {
	e, ok := t.entries[block]
	return e, ok
}

func (t *mshrTable) Full() bool {
	return len(t.entries) >= t.capacity
}

func (t *mshrTable) Allocate(block uint64, e *mshrEntry) bool {
	if t.Full() {
		return false
	}
	if _, exists := t.entries[block]; exists {
		return false
	}
	t.entries[block] = e
	t.order = append(t.order, block)
	return true
}

func (t *mshrTable) Remove(block uint64) {
	delete(t.entries, block)
	for i, b := range t.order {
		if b == block {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// ReadyBlocks returns, in insertion order, the block numbers of entries
// whose event cycle has arrived by now.
func (t *mshrTable) ReadyBlocks(now waitable.Time) []uint64 {
	var ready []uint64
	for _, b := range t.order {
		if e := t.entries[b]; e.eventCycle <= now {
			ready = append(ready, b)
		}
	}
	return ready
}

// Len returns the number of in-flight MSHR entries.
func (t *mshrTable) Len() int { return len(t.entries) }

// All returns every live entry, for deadlock dumps.
func (t *mshrTable) All() map[uint64]*mshrEntry {
	return t.entries
}
