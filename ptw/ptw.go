// Package ptw implements the page-table walker of spec.md §4.3: a
// multi-level virtual-to-physical translation pipeline backed by a chain
// of page-structure caches (PSCLs), each skipping levels once cached.
// Grounded on src/ptw.cc's PageTableWalker.
package ptw

import (
	"log/slog"

	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/lrutable"
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/waitable"
)

// PSCLLevel configures one page-structure-cache level: Level is the walk
// depth it caches results for (the next address to fetch is for
// Level-1); Sets/Ways size that level's table. A PSCLLevel with Sets==0
// is skipped (mirrors the original's "remove_copy_if ... == 0" filter).
type PSCLLevel struct {
	Level int
	Sets  int
	Ways  int
}

// Config describes a walker instance.
type Config struct {
	Name         string
	Levels       int // total walk depth, including the final page (level 0)
	Log2PageSize uint
	Log2BlockSize uint
	MSHRSize     int
	MaxRead      int
	MaxFill      int
	HitLatency   int
	PSCL         []PSCLLevel
	CR3          uint64
	Warmup       func() bool
}

// Statistics mirrors spec.md §6's per-walker printable counters: total
// translations serviced and how many were shortened by a PSCL hit at
// each level (scenario S7's "measured latencies reflect the skipped
// levels" is the PSCLHits side of this).
type Statistics struct {
	Translations uint64
	PSCLHits     map[int]uint64
	PSCLMisses   uint64
	MSHRMerges   uint64
}

func newStatistics() Statistics {
	return Statistics{PSCLHits: make(map[int]uint64)}
}

type walkEntry struct {
	req              request.Request
	vaddress         uint64
	address          uint64 // physical address of the in-flight memory read
	level            int
	data             uint64
	eventCycle       waitable.Time
}

// Walker is a page-table walker: an Operable that accepts Translation
// requests on its own Channel and resolves them by chaining reads
// through Lower.
type Walker struct {
	config Config

	Channel *channel.Channel
	Lower   *channel.Channel

	mshr     []walkEntry
	finished []walkEntry
	completed []walkEntry

	pscl       map[int]*lrutable.Table[psclEntry]
	translator Translator

	stats Statistics
}

// Stats returns a copy of the walker's current statistics.
func (w *Walker) Stats() Statistics { return w.stats }

// New constructs a Walker. If translator is nil, an IdentityTranslator
// with the walker's own Levels/Log2PageSize is used.
func New(cfg Config, translator Translator) *Walker {
	if cfg.MSHRSize == 0 {
		cfg.MSHRSize = 8
	}
	if cfg.MaxRead == 0 {
		cfg.MaxRead = 2
	}
	if cfg.MaxFill == 0 {
		cfg.MaxFill = 2
	}
	if translator == nil {
		translator = IdentityTranslator{NumLevels: cfg.Levels, Log2PageSize: cfg.Log2PageSize}
	}

	w := &Walker{
		config:     cfg,
		pscl:       make(map[int]*lrutable.Table[psclEntry]),
		translator: translator,
		stats:      newStatistics(),
		Channel: channel.New(channel.Config{
			Name: cfg.Name, RQSize: cfg.MSHRSize, WQSize: 1, PQSize: 1,
			ResponseSize: cfg.MSHRSize, Log2BlockSize: cfg.Log2BlockSize,
		}),
	}
	for _, lvl := range cfg.PSCL {
		if lvl.Sets == 0 {
			continue
		}
		w.pscl[lvl.Level] = lrutable.New[psclEntry](lvl.Sets, lvl.Ways)
	}
	return w
}

func (w *Walker) Name() string       { return w.config.Name }
func (w *Walker) Period() clock.Time { return 1 }

func (w *Walker) warmup() bool {
	if w.config.Warmup == nil {
		return false
	}
	return w.config.Warmup()
}

// Operate drains completed lower-level reads, delivers fully-resolved
// translations, advances finished walks toward the next level, and
// admits new translation requests, in that order (spec.md §4.3). A
// request that merges into an in-flight walk is always admitted; one
// that needs a new walk waits in RQ while MSHRSize walks are in flight.
func (w *Walker) Operate(tick clock.Time) bool {
	now := waitable.Time(tick)
	progress := false

	for {
		resp, ok := w.Lower.Response.Peek()
		if !ok {
			break
		}
		w.finishPacket(now, resp)
		w.Lower.Response.Pop()
		progress = true
	}

	fillBW := w.config.MaxFill

	for fillBW > 0 && len(w.completed) > 0 && w.completed[0].eventCycle <= now {
		entry := w.completed[0]
		w.deliver(entry)
		w.completed = w.completed[1:]
		fillBW--
		progress = true
	}

	var nextSteps []walkEntry
	for fillBW > 0 && len(w.finished) > 0 && w.finished[0].eventCycle <= now {
		entry := w.finished[0]
		next, ok := w.handleFill(entry)
		if !ok {
			break
		}
		w.finished = w.finished[1:]
		nextSteps = append(nextSteps, next)
		fillBW--
		progress = true
	}

	tagBW := w.config.MaxRead
	for tagBW > 0 {
		req, ok := w.Channel.RQ.Peek()
		if !ok {
			break
		}
		fetchAddr, level := w.computeFetch(req.Address)
		if level < w.config.Levels {
			w.stats.PSCLHits[level]++
		} else {
			w.stats.PSCLMisses++
		}

		if w.mergeIntoInFlight(req, fetchAddr, level, nextSteps) {
			w.Channel.RQ.Pop()
			tagBW--
			progress = true
			continue
		}
		if len(w.mshr)+len(w.finished)+len(w.completed)+len(nextSteps) >= w.config.MSHRSize {
			break
		}
		next, ok := w.handleRead(req, fetchAddr, level)
		if !ok {
			break
		}
		w.Channel.RQ.Pop()
		nextSteps = append(nextSteps, next)
		tagBW--
		progress = true
	}

	w.mshr = append(w.mshr, nextSteps...)

	return progress
}

func (w *Walker) psclLookup(vaddr uint64) (pa uint64, level int) {
	level = w.config.Levels
	pa = w.config.CR3
	for l := 0; l < w.config.Levels; l++ {
		t, ok := w.pscl[l]
		if !ok {
			continue
		}
		key := psclEntry{vpn: vaddr >> shamt(l, w.config.Log2PageSize)}
		if hit, found := t.CheckHit(key); found && l < level {
			pa = hit.pa
			level = l
		}
	}
	return pa, level
}

// computeFetch resolves vaddr to the physical address of the next memory
// read a walk needs: the level it starts from, per the PSCL chain, and
// that level's page-table-entry address. Pure — callers charge their own
// PSCL-hit/miss counters, since a merged request's lookup still counts
// even though it spawns no new read.
func (w *Walker) computeFetch(vaddr uint64) (fetchAddr uint64, level int) {
	pa, level := w.psclLookup(vaddr)
	offsetBits := shamt(level-1, w.config.Log2PageSize)
	offset := (vaddr >> offsetBits) & 0x1FF
	return pa | (offset * 8), level
}

// mergeIntoInFlight checks req's first memory read (fetchAddr/level,
// already resolved by the caller) against every walk already admitted
// this tick or still in the MSHR: if one reads the same block at the
// same level, req attaches as a dependent instead of spawning a second
// walkEntry and a second downstream read, mirroring
// channel.Channel.CollisionCheck's RQ merge-by-block-number. This is the
// fix for two different requesters (e.g. a fetch and a load touching the
// same page) colliding on the very first step of a walk; PSCL fills and
// finishPacket already collapse same-block reads at later steps.
func (w *Walker) mergeIntoInFlight(req request.Request, fetchAddr uint64, level int, nextSteps []walkEntry) bool {
	blockMask := (uint64(1) << w.config.Log2BlockSize) - 1
	block := fetchAddr &^ blockMask

	for i := range w.mshr {
		if w.mshr[i].level == level && w.mshr[i].address&^blockMask == block {
			w.mshr[i].req.MergeDependents(req)
			w.stats.MSHRMerges++
			return true
		}
	}
	for i := range nextSteps {
		if nextSteps[i].level == level && nextSteps[i].address&^blockMask == block {
			nextSteps[i].req.MergeDependents(req)
			w.stats.MSHRMerges++
			return true
		}
	}
	return false
}

func (w *Walker) handleRead(req request.Request, fetchAddr uint64, level int) (walkEntry, bool) {
	entry := walkEntry{
		req:        req,
		vaddress:   req.Address,
		address:    fetchAddr,
		level:      level,
		eventCycle: waitable.Sentinel,
	}
	if !w.stepTranslation(entry) {
		return walkEntry{}, false
	}
	return entry, true
}

func (w *Walker) handleFill(entry walkEntry) (walkEntry, bool) {
	next := walkEntry{
		req:        entry.req,
		vaddress:   entry.vaddress,
		address:    entry.data,
		level:      entry.level - 1,
		eventCycle: waitable.Sentinel,
	}
	if !w.stepTranslation(next) {
		return walkEntry{}, false
	}
	return next, true
}

func (w *Walker) stepTranslation(entry walkEntry) bool {
	req := request.Request{
		Address:    entry.address,
		VAddress:   entry.vaddress,
		Type:       request.Translation,
		CPU:        entry.req.CPU,
		ASID:       entry.req.ASID,
		Translated: true,
	}
	return w.Lower.RQ.TryAdd(req)
}

func (w *Walker) finishPacket(now waitable.Time, resp request.Request) {
	blockMask := (uint64(1) << w.config.Log2BlockSize) - 1
	block := resp.Address &^ blockMask

	var remaining []walkEntry
	for _, entry := range w.mshr {
		if entry.address&^blockMask != block {
			remaining = append(remaining, entry)
			continue
		}

		pa, penalty := w.translator.WalkLevel(entry.req.CPU, entry.vaddress, entry.level)
		if w.warmup() {
			penalty = 0
		}
		entry.data = pa
		entry.eventCycle = now + waitable.Time(penalty) + waitable.Time(w.config.HitLatency)

		if entry.level > 0 {
			if t, ok := w.pscl[entry.level-1]; ok {
				key := psclEntry{vpn: entry.vaddress >> shamt(entry.level-1, w.config.Log2PageSize), pa: pa, level: entry.level - 1}
				t.Fill(key)
			}
			w.finished = append(w.finished, entry)
		} else {
			w.completed = append(w.completed, entry)
		}
	}
	w.mshr = remaining

	slog.Debug("ptw: finished packet", "ptw", w.config.Name, "block", block)
}

func (w *Walker) deliver(entry walkEntry) {
	req := entry.req
	req.Address = entry.data
	req.Translated = true
	req.VAddress = entry.vaddress
	if req.ResponseRequested || len(req.InstrDependOnMe) > 0 {
		w.Channel.Response.TryAdd(req)
	}
	w.stats.Translations++
}

// Occupancy reports current/maximum MSHR occupancy for diagnostics.
func (w *Walker) Occupancy() (current, max int) {
	return len(w.mshr) + len(w.finished) + len(w.completed), w.config.MSHRSize
}
