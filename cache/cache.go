// Package cache implements the set-associative cache of spec.md §4.2:
// tag/MSHR bookkeeping, per-type hit/miss pipelines, prefetcher and
// replacement hooks, and write-back/write-through behavior selectable
// per instance. Grounded in shape on timing/cache/cache.go (the
// teacher's directory-backed cache) and, for exact semantics, on
// src/cache.cc / src/cache_queues.cc of the original simulator.
package cache

import (
	"log/slog"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/champsim/addr"
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/waitable"
)

// Statistics mirrors spec.md §6's per-cache printable statistics.
type Statistics struct {
	Hits, Misses    map[request.AccessType]uint64
	MSHRMerges      uint64
	Accesses        uint64
	PFRequested     uint64
	PFIssued        uint64
	PFUseful        uint64
	PFUseless       uint64
	TotalMissLatency uint64
	MissCount        uint64
}

func newStatistics() Statistics {
	return Statistics{
		Hits:   make(map[request.AccessType]uint64),
		Misses: make(map[request.AccessType]uint64),
	}
}

// AverageMissLatency returns the mean fill latency across all misses.
func (s Statistics) AverageMissLatency() float64 {
	if s.MissCount == 0 {
		return 0
	}
	return float64(s.TotalMissLatency) / float64(s.MissCount)
}

// blockMeta carries the per-block state spec.md §4.2 needs that
// akitacache.Block has no field for: the originating virtual address and
// the prefetcher's own bookkeeping. It is indexed as meta[SetID][WayID],
// the (SetID, WayID) pair the directory hands back, so it always lines
// up with the directory's own tag/valid/dirty state for the same way.
type blockMeta struct {
	PrefetchOrigin   bool
	VAddress         uint64
	PrefetchMetadata uint32
}

type inflightWrite struct {
	req        request.Request
	eventCycle waitable.Time
}

// Cache is a set-associative cache instance. Tag/valid/dirty/LRU state
// lives in an akitacache.DirectoryImpl (the same library the teacher's
// timing/cache.Cache wires in for exactly this concern); blockMeta above
// covers the handful of fields the directory's Block doesn't carry.
type Cache struct {
	config Config

	directory *akitacache.DirectoryImpl
	meta      [][]blockMeta

	mshr     *mshrTable
	inflight []*inflightWrite

	replacement ReplacementPolicy
	prefetcher  Prefetcher

	// Channel is this cache's own inbound medium: whatever is "above"
	// this cache (a core's LSQ, or an upper cache) issues into
	// Channel.RQ/WQ/PQ, and this cache appends completions to
	// Channel.Response for the upper side to drain.
	Channel *channel.Channel

	// Lower is the channel owned by the next level down; this cache
	// pushes its own miss/writeback traffic into Lower.RQ/WQ/PQ and
	// drains Lower.Response for completions.
	Lower *channel.Channel

	log2BlockSize uint

	stats Statistics

	tagBW  int
	fillBW int
}

// New constructs a Cache. cfg is resolved in place (size derivation,
// latency/MSHR defaults) if not already resolved.
func New(cfg Config, log2BlockSize uint, replacement ReplacementPolicy, prefetcher Prefetcher) *Cache {
	cfg.Resolve()
	if replacement == nil {
		replacement = &LRUReplacement{}
	}
	if prefetcher == nil {
		prefetcher = NopPrefetcher{}
	}
	replacement.Initialize(cfg.Sets, cfg.Ways)
	prefetcher.Initialize()

	meta := make([][]blockMeta, cfg.Sets)
	for i := range meta {
		meta[i] = make([]blockMeta, cfg.Ways)
	}

	c := &Cache{
		config: cfg,
		directory: akitacache.NewDirectory(
			cfg.Sets,
			cfg.Ways,
			1<<log2BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		meta:          meta,
		mshr:          newMSHRTable(cfg.MSHRSize),
		replacement:   replacement,
		prefetcher:    prefetcher,
		log2BlockSize: log2BlockSize,
		stats:         newStatistics(),
		Channel: channel.New(channel.Config{
			Name: cfg.Name, RQSize: cfg.RQSize, WQSize: cfg.WQSize, PQSize: cfg.PQSize,
			ResponseSize: cfg.ResponseSize, Log2BlockSize: log2BlockSize,
		}),
	}
	return c
}

// blockMetaOf returns the blockMeta slot for a directory block, indexed
// by the same (SetID, WayID) pair the directory itself uses.
func (c *Cache) blockMetaOf(block *akitacache.Block) *blockMeta {
	return &c.meta[block.SetID][block.WayID]
}

// Name identifies the cache for logs and diagnostics.
func (c *Cache) Name() string { return c.config.Name }

// Period is this cache's clock.Operable period; caches tick once per
// core cycle in this model (scaled externally if a cache runs at a
// different frequency than its core).
func (c *Cache) Period() clock.Time { return 1 }

// Stats returns a copy of the current statistics.
func (c *Cache) Stats() Statistics { return c.stats }

func (c *Cache) warmup() bool {
	if c.config.Warmup == nil {
		return false
	}
	return c.config.Warmup()
}

func (c *Cache) blockAddr(rawAddr uint64) uint64 {
	block := addr.BlockNumber(addr.Address(rawAddr), addr.Bits(c.log2BlockSize))
	return block.Raw() << c.log2BlockSize
}


// Operate advances the cache by one tick: drains lower-level completions,
// performs fills, then tag-checks/miss-handling for the inbound queues,
// in the order spec.md §4.2 mandates.
func (c *Cache) Operate(tick clock.Time) bool {
	now := waitable.Time(tick)
	progress := false

	c.Channel.CollisionCheck()

	if c.Lower != nil {
		if c.drainLowerResponses(now) {
			progress = true
		}
	}

	c.tagBW = c.config.MaxTag
	c.fillBW = c.config.MaxFill

	if c.doFills(now) {
		progress = true
	}

	c.bypassWrites(now)

	if c.doTagCheckAndMiss(now) {
		progress = true
	}

	c.prefetcher.CycleOperate()

	return progress
}

// drainLowerResponses matches completions arriving on Lower.Response
// against this cache's own MSHR table, scheduling their fill.
func (c *Cache) drainLowerResponses(now waitable.Time) bool {
	progress := false
	for {
		req, ok := c.Lower.Response.Peek()
		if !ok {
			break
		}
		block := c.blockAddr(req.Address)
		if entry, found := c.mshr.Find(block); found {
			entry.req.MergeDependents(req)
			fillLatency := c.config.FillLatency
			if c.warmup() {
				fillLatency = 0
			}
			entry.eventCycle = now + waitable.Time(fillLatency)
			progress = true
		}
		c.Lower.Response.Pop()
	}
	return progress
}

// doFills performs the Fills stage: for each MSHR/inflight-write entry
// whose ready time has passed, acquire a victim and complete the fill,
// bounded by MaxFill.
func (c *Cache) doFills(now waitable.Time) bool {
	progress := false

	for _, block := range c.mshr.ReadyBlocks(now) {
		if c.fillBW <= 0 {
			break
		}
		entry, ok := c.mshr.Find(block)
		if !ok {
			continue
		}
		if c.completeFill(now, entry.req, entry.isPrefetch) {
			c.mshr.Remove(block)
			c.fillBW--
			progress = true
			c.stats.MissCount++
			c.stats.TotalMissLatency += uint64(now - entry.cycleEnqueued)
		}
	}

	var remaining []*inflightWrite
	for _, w := range c.inflight {
		if c.fillBW <= 0 || w.eventCycle > now {
			remaining = append(remaining, w)
			continue
		}
		if c.completeFill(now, w.req, false) {
			c.fillBW--
			progress = true
		} else {
			remaining = append(remaining, w)
		}
	}
	c.inflight = remaining

	return progress
}

// completeFill performs the victim-acquisition/eviction/write-back logic
// shared by MSHR fills and inflight-write drains. It returns false (and
// leaves the caller's entry untouched) if the writeback could not be
// accepted downstream this tick — the caller retries next tick.
func (c *Cache) completeFill(now waitable.Time, req request.Request, wasPrefetch bool) bool {
	blockAddr := c.blockAddr(req.Address)
	victim := c.directory.FindVictim(blockAddr)
	meta := c.blockMetaOf(victim)

	if victim.IsValid && victim.IsDirty {
		wb := request.Request{
			Address: victim.Tag,
			Type:    request.Write,
			CPU:     req.CPU,
		}
		if c.Lower != nil && !c.Lower.WQ.TryAdd(wb) {
			return false
		}
	}

	if victim.IsValid && meta.PrefetchOrigin {
		c.stats.PFUseless++
	}

	evictedAddr := victim.Tag
	wasValid := victim.IsValid
	newMeta := c.prefetcher.CacheFill(blockAddr, victim.SetID, victim.WayID, req.Type == request.Prefetch, evictedAddr, req.PrefetchMetadata)

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = req.Type == request.Write
	*meta = blockMeta{
		PrefetchOrigin:   wasPrefetch,
		VAddress:         c.blockAddr(req.VAddress),
		PrefetchMetadata: newMeta,
	}
	c.directory.Visit(victim)

	evictedParam := uint64(0)
	if wasValid {
		evictedParam = evictedAddr
	}
	c.replacement.UpdateReplacementState(req.CPU, victim.SetID, victim.WayID, blockAddr, req.VAddress, evictedParam, req.Type, false)

	if req.ResponseRequested || len(req.InstrDependOnMe) > 0 || len(req.LQIndexDependOnMe) > 0 || len(req.SQIndexDependOnMe) > 0 {
		req.Address = blockAddr
		c.Channel.Response.TryAdd(req)
	}

	return true
}

// bypassWrites moves every pending WQ entry straight to the
// inflight-writes buffer when MatchOffsetBits is false, per spec.md
// §4.2 "Writes that do not check for hit".
func (c *Cache) bypassWrites(now waitable.Time) {
	if c.config.MatchOffsetBits {
		return
	}
	latency := waitable.Time(c.config.FillLatency)
	if c.warmup() {
		latency = 0
	}
	for {
		req, ok := c.Channel.WQ.Pop()
		if !ok {
			break
		}
		c.inflight = append(c.inflight, &inflightWrite{req: req, eventCycle: now + latency})
	}
}

// doTagCheckAndMiss performs the combined tag-check/miss-handling pass
// for RQ (and PQ, and WQ if MatchOffsetBits), bounded by MaxTag.
func (c *Cache) doTagCheckAndMiss(now waitable.Time) bool {
	progress := false
	queues := []*channel.Queue{c.Channel.RQ, c.Channel.PQ}
	if c.config.MatchOffsetBits {
		queues = append(queues, c.Channel.WQ)
	}

	for _, q := range queues {
		for c.tagBW > 0 {
			req, ok := q.Peek()
			if !ok {
				break
			}
			c.tagBW--
			c.stats.Accesses++

			blockAddr := c.blockAddr(req.Address)
			block := c.directory.Lookup(0, blockAddr)
			if block != nil && block.IsValid {
				c.handleHit(block, req)
				q.Pop()
				progress = true
				continue
			}

			if c.handleMiss(now, req) {
				q.Pop()
				progress = true
			} else {
				// MSHR full: leave at the head of the queue, back-pressured.
				break
			}
		}
	}
	return progress
}

func (c *Cache) handleHit(block *akitacache.Block, req request.Request) {
	meta := c.blockMetaOf(block)
	c.stats.Hits[req.Type]++

	c.directory.Visit(block)
	c.replacement.UpdateReplacementState(req.CPU, block.SetID, block.WayID, block.Tag, req.VAddress, 0, req.Type, true)

	if !req.PrefetchFromThis && meta.PrefetchOrigin {
		meta.PrefetchOrigin = false
		c.stats.PFUseful++
	}

	if req.Type == request.Write {
		block.IsDirty = true
	}

	meta.PrefetchMetadata = c.prefetcher.CacheOperate(block.Tag, req.VAddress, true, false, req.Type, meta.PrefetchMetadata)

	if req.ResponseRequested || len(req.InstrDependOnMe) > 0 || len(req.LQIndexDependOnMe) > 0 || len(req.SQIndexDependOnMe) > 0 {
		req.Address = block.Tag
		c.Channel.Response.TryAdd(req)
	}
}

// handleMiss probes the MSHR table and either merges into an existing
// entry, allocates a new one and forwards downstream, or rejects
// (back-pressure) if the table is full. Returns whether the request was
// consumed from its queue.
func (c *Cache) handleMiss(now waitable.Time, req request.Request) bool {
	c.stats.Misses[req.Type]++
	blockAddr := c.blockAddr(req.Address)

	if existing, found := c.mshr.Find(blockAddr); found {
		c.stats.MSHRMerges++
		existing.req.MergeDependents(req)
		if existing.isPrefetch && req.Type != request.Prefetch {
			existing.isPrefetch = false
			c.stats.PFUseful++
		}
		return true
	}

	if c.mshr.Full() {
		return false
	}

	forwarded := c.forwardDownstream(req)
	if !forwarded {
		return false
	}

	c.mshr.Allocate(blockAddr, &mshrEntry{
		req:           req,
		eventCycle:    waitable.Sentinel,
		cycleEnqueued: now,
		isPrefetch:    req.Type == request.Prefetch,
	})

	slog.Debug("cache miss", "cache", c.config.Name, "addr", blockAddr, "type", req.Type.String())
	return true
}

func (c *Cache) forwardDownstream(req request.Request) bool {
	if c.Lower == nil {
		return true
	}
	fwd := req
	fwd.Translated = true
	fwd.Address = c.blockAddr(req.Address)

	if req.Type == request.Prefetch && !c.config.PrefetchAsLoad {
		return c.Lower.PQ.TryAdd(fwd)
	}
	if req.Type == request.RFO || req.Type == request.Write {
		return c.Lower.WQ.TryAdd(fwd)
	}
	return c.Lower.RQ.TryAdd(fwd)
}

// PrefetchLine synthesizes a self-issued prefetch request into this
// cache's own PQ, per spec.md §4.2 "Prefetch interface".
func (c *Cache) PrefetchLine(addrOrVAddr uint64, fillThisLevel bool, metadata uint32) bool {
	c.stats.PFRequested++
	req := request.Request{
		Address:          addrOrVAddr,
		VAddress:         addrOrVAddr,
		Type:             request.Prefetch,
		PrefetchFromThis: true,
		FillThisLevel:    fillThisLevel,
		PrefetchMetadata: metadata,
		Translated:       !c.config.VirtualPrefetch,
	}
	ok := c.Channel.PQ.TryAdd(req)
	if ok {
		c.stats.PFIssued++
	}
	return ok
}

// MSHROccupancy reports current/maximum MSHR occupancy, for diagnostics.
func (c *Cache) MSHROccupancy() (current, max int) {
	return c.mshr.Len(), c.config.MSHRSize
}

// DumpMSHR returns a snapshot of pending MSHR block addresses, used by
// the deadlock diagnostic dump.
func (c *Cache) DumpMSHR() []uint64 {
	out := make([]uint64, 0, len(c.mshr.entries))
	for block := range c.mshr.entries {
		out = append(out, block)
	}
	return out
}
