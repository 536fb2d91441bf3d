// Package channel implements the point-to-point request/response medium
// between any two memory components (spec.md §2 "Channel", §4.2 "Queue
// management"). A Channel owns three bounded request queues (read,
// write, prefetch) plus a response queue; the producer appends, the
// consumer pops, oldest-first.
package channel

import "github.com/sarchlab/champsim/request"

// Queue is a bounded FIFO of requests.
type Queue struct {
	name     string
	capacity int
	entries  []request.Request
}

// NewQueue creates an empty bounded queue.
func NewQueue(name string, capacity int) *Queue {
	return &Queue{name: name, capacity: capacity}
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int { return len(q.entries) }

// Capacity returns the queue's maximum size.
func (q *Queue) Capacity() int { return q.capacity }

// Full reports whether the queue has no free slots.
func (q *Queue) Full() bool { return len(q.entries) >= q.capacity }

// TryAdd appends req if there is room, returning whether it was accepted.
// Back-pressure (spec.md §7 "Queue full: benign; back-pressured") is
// represented purely by this false return, never an error.
func (q *Queue) TryAdd(req request.Request) bool {
	if q.Full() {
		return false
	}
	q.entries = append(q.entries, req)
	return true
}

// Peek returns the oldest entry without removing it.
func (q *Queue) Peek() (request.Request, bool) {
	if len(q.entries) == 0 {
		return request.Request{}, false
	}
	return q.entries[0], true
}

// PeekAt returns the entry at index i without removing it.
func (q *Queue) PeekAt(i int) (request.Request, bool) {
	if i < 0 || i >= len(q.entries) {
		return request.Request{}, false
	}
	return q.entries[i], true
}

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (request.Request, bool) {
	if len(q.entries) == 0 {
		return request.Request{}, false
	}
	req := q.entries[0]
	q.entries = q.entries[1:]
	return req, true
}

// RemoveAt removes the entry at index i, preserving order.
func (q *Queue) RemoveAt(i int) {
	if i < 0 || i >= len(q.entries) {
		return
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}

// Replace overwrites the entry at index i.
func (q *Queue) Replace(i int, req request.Request) {
	if i < 0 || i >= len(q.entries) {
		return
	}
	q.entries[i] = req
}

// All returns a copy of the queue's entries, oldest first, for scanning.
func (q *Queue) All() []request.Request {
	out := make([]request.Request, len(q.entries))
	copy(out, q.entries)
	return out
}

// Channel is the medium between an upper-level consumer and a lower-level
// producer: three owned request queues plus one response queue filled by
// the lower level and drained by the upper level.
type Channel struct {
	Name string

	RQ *Queue
	WQ *Queue
	PQ *Queue

	// Response is appended to by the lower level's Operate and drained
	// by the upper level's handle-memory-return stage.
	Response *Queue

	log2BlockSize uint
}

// Config bundles the four queue sizes and the block-size shift needed for
// collision merging.
type Config struct {
	Name          string
	RQSize        int
	WQSize        int
	PQSize        int
	ResponseSize  int
	Log2BlockSize uint
}

// New creates a Channel with the given queue sizes.
func New(cfg Config) *Channel {
	return &Channel{
		Name:          cfg.Name,
		RQ:            NewQueue(cfg.Name+".RQ", cfg.RQSize),
		WQ:            NewQueue(cfg.Name+".WQ", cfg.WQSize),
		PQ:            NewQueue(cfg.Name+".PQ", cfg.PQSize),
		Response:      NewQueue(cfg.Name+".Response", cfg.ResponseSize),
		log2BlockSize: cfg.Log2BlockSize,
	}
}

func (c *Channel) blockNumber(req request.Request) uint64 {
	return req.BlockNumber(c.log2BlockSize)
}

// CollisionCheck runs before any tag-checks this tick (spec.md §4.2):
// duplicate writes in WQ are merged by block number; reads are forwarded
// from a matching WQ entry (data returned immediately) or merged with an
// older RQ entry by block number. Per the Open Question this spec leaves
// unresolved, write merging drops the newer write's data unconditionally
// (block-number match alone is treated as a duplicate), matching the
// original's simplification rather than inventing a coalescing semantics
// it never specified.
func (c *Channel) CollisionCheck() {
	c.mergeWQ()
	c.mergeRQAgainstWQ()
	c.mergeRQ()
}

func (c *Channel) mergeWQ() {
	seen := make(map[uint64]int)
	kept := c.WQ.entries[:0]
	for _, req := range c.WQ.entries {
		block := c.blockNumber(req)
		if idx, ok := seen[block]; ok {
			kept[idx].MergeDependents(req)
			continue
		}
		seen[block] = len(kept)
		kept = append(kept, req)
	}
	c.WQ.entries = kept
}

func (c *Channel) mergeRQAgainstWQ() {
	var remaining []request.Request
	for _, req := range c.RQ.entries {
		block := c.blockNumber(req)
		forwarded := false
		for _, w := range c.WQ.entries {
			if c.blockNumber(w) == block {
				for _, target := range req.ToReturn {
					target.Deliver(req)
				}
				forwarded = true
				break
			}
		}
		if !forwarded {
			remaining = append(remaining, req)
		}
	}
	c.RQ.entries = remaining
}

func (c *Channel) mergeRQ() {
	seen := make(map[uint64]int)
	kept := c.RQ.entries[:0]
	for _, req := range c.RQ.entries {
		block := c.blockNumber(req)
		if idx, ok := seen[block]; ok {
			kept[idx].MergeDependents(req)
			continue
		}
		seen[block] = len(kept)
		kept = append(kept, req)
	}
	c.RQ.entries = kept
}
