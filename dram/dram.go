// Package dram implements the bank-level DRAM channel and controller of
// spec.md §4.4/§4.5: open-row tracking, tRP/tRCD/tCAS timing, refresh
// scheduling, and write-mode watermark switching with bus turnaround.
// Grounded on src/dram_controller.cc's MEMORY_CONTROLLER/DRAM_CHANNEL.
package dram

import (
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/waitable"
)

// Config describes the timing and geometry of one DRAM channel.
type Config struct {
	Name string

	Ranks   int
	Banks   int
	Rows    int
	Columns int

	ChannelWidth int // bytes transferred per dbus beat
	BlockSize    int

	RQSize, WQSize int

	TRP, TRCD, TCAS int
	RefreshPeriod   int // ticks between a full sweep of refresh rows
	RowsPerRefresh  int
	Turnaround      int

	Warmup func() bool
}

func (c Config) dbusReturn() int {
	beats := (c.BlockSize + c.ChannelWidth - 1) / c.ChannelWidth
	if beats < 1 {
		beats = 1
	}
	return beats
}

func (c Config) tREF() int {
	rowsPerRefresh := c.RowsPerRefresh
	if rowsPerRefresh == 0 {
		rowsPerRefresh = 1
	}
	groups := c.Rows / rowsPerRefresh
	if groups == 0 {
		groups = 1
	}
	return c.RefreshPeriod / groups
}

// Statistics mirrors spec.md §6's per-channel printable counters.
type Statistics struct {
	RQRowBufferHit, RQRowBufferMiss uint64
	WQRowBufferHit, WQRowBufferMiss uint64
	WQFull                           uint64
	CongestedCycles                 uint64
	CongestedCount                  uint64
	RefreshCycles                   uint64
}

type bankState struct {
	hasOccupant  bool
	occupant     *queueEntry
	onBus        bool
	readyTime    waitable.Time
	hasOpenRow   bool
	openRow      uint64
	needRefresh  bool
	underRefresh bool
	refreshReady waitable.Time
}

type queueEntry struct {
	req       request.Request
	bank      int
	row       uint64
	scheduled bool
}

// Channel is one DRAM channel: a bank array plus the RQ/WQ it drains.
type Channel struct {
	config Config

	rq []*queueEntry
	wq []*queueEntry

	banks []bankState

	activeBank int // -1 when the bus is idle
	dbusFreeAt waitable.Time

	writeMode    bool
	lastRefresh  waitable.Time
	refreshRow   uint64

	Response *channel.Queue

	stats Statistics
}

// NewChannel constructs a Channel from cfg.
func NewChannel(cfg Config) *Channel {
	return &Channel{
		config:     cfg,
		banks:      make([]bankState, cfg.Ranks*cfg.Banks),
		activeBank: -1,
		Response:   channel.NewQueue(cfg.Name+".Response", cfg.RQSize+cfg.WQSize),
	}
}

func (c *Channel) Name() string       { return c.config.Name }
func (c *Channel) Period() clock.Time { return 1 }

func (c *Channel) Stats() Statistics { return c.stats }

func (c *Channel) warmup() bool {
	if c.config.Warmup == nil {
		return false
	}
	return c.config.Warmup()
}

// AddRQ admits a read request, returning whether there was room.
func (c *Channel) AddRQ(req request.Request, bank int, row uint64) bool {
	if len(c.rq) >= c.config.RQSize {
		return false
	}
	c.rq = append(c.rq, &queueEntry{req: req, bank: bank, row: row})
	return true
}

// AddWQ admits a write request, returning whether there was room.
func (c *Channel) AddWQ(req request.Request, bank int, row uint64) bool {
	if len(c.wq) >= c.config.WQSize {
		return false
	}
	c.wq = append(c.wq, &queueEntry{req: req, bank: bank, row: row})
	return true
}

// WQOccupancy reports the current/maximum write-queue depth.
func (c *Channel) WQOccupancy() (current, max int) { return len(c.wq), c.config.WQSize }

// Operate advances the channel by one tick, in the seven-step order
// spec.md §4.4 mandates.
func (c *Channel) Operate(tick clock.Time) bool {
	now := waitable.Time(tick)

	if c.warmup() {
		for _, e := range c.rq {
			c.Response.TryAdd(e.req)
		}
		c.rq = nil
		c.wq = nil
		return true
	}

	progress := false

	c.collisionCheck()

	if c.finishBus(now) {
		progress = true
	}
	c.swapWriteMode(now)
	c.scheduleRefresh(now)
	if c.populateBus(now) {
		progress = true
	}
	if c.scheduleNewPacket(now) {
		progress = true
	}

	return progress
}

func (c *Channel) collisionCheck() {
	c.wq = mergeByBlock(c.wq, c.config.BlockSize)

	var remaining []*queueEntry
	for _, r := range c.rq {
		merged := false
		for _, w := range c.wq {
			if sameBlock(r.req.Address, w.req.Address, c.config.BlockSize) {
				c.Response.TryAdd(r.req)
				merged = true
				break
			}
		}
		if !merged {
			remaining = append(remaining, r)
		}
	}
	c.rq = mergeByBlock(remaining, c.config.BlockSize)
}

func sameBlock(a, b uint64, blockSize int) bool {
	mask := uint64(blockSize - 1)
	return a&^mask == b&^mask
}

func mergeByBlock(entries []*queueEntry, blockSize int) []*queueEntry {
	var kept []*queueEntry
	for _, e := range entries {
		dup := false
		for _, k := range kept {
			if sameBlock(e.req.Address, k.req.Address, blockSize) {
				k.req.MergeDependents(e.req)
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, e)
		}
	}
	return kept
}

func (c *Channel) finishBus(now waitable.Time) bool {
	if c.activeBank < 0 {
		return false
	}
	bank := &c.banks[c.activeBank]
	if !bank.onBus || bank.readyTime > now {
		return false
	}

	c.Response.TryAdd(bank.occupant.req)

	c.removeEntry(bank.occupant)
	bank.hasOccupant = false
	bank.occupant = nil
	bank.onBus = false
	c.activeBank = -1
	return true
}

func (c *Channel) removeEntry(target *queueEntry) {
	c.rq = removeFrom(c.rq, target)
	c.wq = removeFrom(c.wq, target)
}

func removeFrom(entries []*queueEntry, target *queueEntry) []*queueEntry {
	for i, e := range entries {
		if e == target {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

func (c *Channel) swapWriteMode(now waitable.Time) {
	highWatermark := c.config.WQSize * 7 / 8
	lowWatermark := c.config.WQSize * 3 / 4

	wantWrite := c.writeMode
	switch {
	case !c.writeMode && (len(c.wq) >= highWatermark || (len(c.rq) == 0 && len(c.wq) > 0)):
		wantWrite = true
	case c.writeMode && (len(c.wq) == 0 || (len(c.wq) < lowWatermark && len(c.rq) > 0)):
		wantWrite = false
	}

	if wantWrite == c.writeMode {
		return
	}
	c.writeMode = wantWrite

	for i := range c.banks {
		b := &c.banks[i]
		if b.hasOccupant && !b.onBus {
			b.occupant.scheduled = false
			b.hasOccupant = false
			b.occupant = nil
		}
		if b.hasOpenRow && b.readyTime < now+waitable.Time(c.config.TCAS) {
			b.hasOpenRow = false
		}
	}
	c.dbusFreeAt = now + waitable.Time(c.config.Turnaround)
}

func (c *Channel) scheduleRefresh(now waitable.Time) {
	period := waitable.Time(c.config.tREF())
	if period > 0 && now-c.lastRefresh >= period {
		c.lastRefresh = now
		c.refreshRow++
		for i := range c.banks {
			c.banks[i].needRefresh = true
		}
	}

	for i := range c.banks {
		b := &c.banks[i]
		if b.underRefresh {
			if b.refreshReady <= now {
				b.underRefresh = false
				b.needRefresh = false
				b.hasOpenRow = false
			}
			continue
		}
		if b.needRefresh && !b.hasOccupant {
			b.underRefresh = true
			b.refreshReady = now + waitable.Time(c.config.TRP)
			c.stats.RefreshCycles++
		}
	}
}

func (c *Channel) populateBus(now waitable.Time) bool {
	if c.activeBank >= 0 {
		return false
	}
	best := -1
	for i := range c.banks {
		b := &c.banks[i]
		if !b.hasOccupant || b.onBus || b.readyTime > now {
			continue
		}
		if best < 0 || b.readyTime < c.banks[best].readyTime {
			best = i
		}
	}
	if best < 0 {
		c.stats.CongestedCount++
		c.stats.CongestedCycles++
		return false
	}
	if now < c.dbusFreeAt {
		c.stats.CongestedCycles++
		return false
	}
	c.banks[best].onBus = true
	c.banks[best].readyTime = now + waitable.Time(c.config.dbusReturn())
	c.activeBank = best
	return true
}

func (c *Channel) scheduleNewPacket(now waitable.Time) bool {
	queue := c.rq
	isWrite := false
	if c.writeMode {
		queue = c.wq
		isWrite = true
	}

	for _, e := range queue {
		if e.scheduled {
			continue
		}
		bank := &c.banks[e.bank]
		if bank.hasOccupant || bank.underRefresh {
			continue
		}

		rowHit := bank.hasOpenRow && bank.openRow == e.row
		latency := c.config.TCAS
		if !rowHit {
			if bank.hasOpenRow {
				latency += c.config.TRP + c.config.TRCD
			} else {
				latency += c.config.TRCD
			}
		}

		bank.hasOccupant = true
		bank.occupant = e
		bank.readyTime = now + waitable.Time(latency)
		bank.hasOpenRow = true
		bank.openRow = e.row
		e.scheduled = true

		if isWrite {
			if rowHit {
				c.stats.WQRowBufferHit++
			} else {
				c.stats.WQRowBufferMiss++
			}
		} else {
			if rowHit {
				c.stats.RQRowBufferHit++
			} else {
				c.stats.RQRowBufferMiss++
			}
		}
		return true
	}
	return false
}
