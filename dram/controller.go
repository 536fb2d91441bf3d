package dram

import (
	"math/bits"

	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/request"
)

// Slicer maps a physical address into DRAM coordinates, packing fields
// LSB-upward as offset, channel, bank, rank, column, row — a fixed but
// representative layout; the exact bit assignment is implementation
// freedom spec.md leaves to the controller (§4.5 only names the fields
// produced, not their bit order).
type Slicer struct {
	Log2BlockSize uint
	Log2Channels  uint
	Log2Banks     uint
	Log2Ranks     uint
	Log2Columns   uint
}

// Fields is the decomposition of one physical address.
type Fields struct {
	Offset, Channel, Bank, Rank, Column, Row uint64
}

func NewSlicer(channels, ranks, banks, columns int, log2BlockSize uint) Slicer {
	return Slicer{
		Log2BlockSize: log2BlockSize,
		Log2Channels:  log2Ceil(channels),
		Log2Banks:     log2Ceil(banks),
		Log2Ranks:     log2Ceil(ranks),
		Log2Columns:   log2Ceil(columns),
	}
}

func log2Ceil(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// Slice decomposes addr into DRAM coordinates per s's bit layout.
func (s Slicer) Slice(addr uint64) Fields {
	shift := s.Log2BlockSize
	offset := addr & ((1 << shift) - 1)
	rest := addr >> shift

	channel := rest & ((1 << s.Log2Channels) - 1)
	rest >>= s.Log2Channels

	bank := rest & ((1 << s.Log2Banks) - 1)
	rest >>= s.Log2Banks

	rank := rest & ((1 << s.Log2Ranks) - 1)
	rest >>= s.Log2Ranks

	column := rest & ((1 << s.Log2Columns) - 1)
	rest >>= s.Log2Columns

	return Fields{Offset: offset, Channel: channel, Bank: bank, Rank: rank, Column: column, Row: rest}
}

// Controller fans requests out to per-channel banks and aggregates
// statistics, per spec.md §4.5.
type Controller struct {
	Channels []*Channel
	slicer   Slicer
	banks    int
}

// NewController constructs a Controller with numChannels identical
// channels built from cfg (cfg.Name is suffixed per channel).
func NewController(cfg Config, numChannels int) *Controller {
	ctrl := &Controller{
		slicer: NewSlicer(numChannels, cfg.Ranks, cfg.Banks, cfg.Columns, log2Ceil(cfg.BlockSize)),
		banks:  cfg.Ranks * cfg.Banks,
	}
	for i := 0; i < numChannels; i++ {
		chCfg := cfg
		chCfg.Name = cfg.Name + chanSuffix(i)
		ctrl.Channels = append(ctrl.Channels, NewChannel(chCfg))
	}
	return ctrl
}

func chanSuffix(i int) string {
	digits := "0123456789"
	if i < 10 {
		return "." + string(digits[i])
	}
	return "." + string(rune('0'+i))
}

func (ctrl *Controller) Name() string       { return "DRAM" }
func (ctrl *Controller) Period() clock.Time { return 1 }

// Operate steps every channel; returns whether any channel progressed.
func (ctrl *Controller) Operate(tick clock.Time) bool {
	progress := false
	for _, ch := range ctrl.Channels {
		if ch.Operate(tick) {
			progress = true
		}
	}
	return progress
}

// Route steers req to the correct channel's RQ or WQ, based on its type
// and address. It returns whether the request was accepted; a full WQ
// increments that channel's WQ_FULL stat per spec.md §4.5.
func (ctrl *Controller) Route(req request.Request) bool {
	f := ctrl.slicer.Slice(req.Address)
	if int(f.Channel) >= len(ctrl.Channels) {
		return false
	}
	ch := ctrl.Channels[f.Channel]
	bank := int(f.Rank)*ch.config.Banks + int(f.Bank)

	if req.Type == request.Write || req.Type == request.RFO {
		ok := ch.AddWQ(req, bank, f.Row)
		if !ok {
			ch.stats.WQFull++
		}
		return ok
	}
	return ch.AddRQ(req, bank, f.Row)
}

// ChannelForAddress exposes which channel a given address would route
// to, for tests and diagnostics that need to submit directly.
func (ctrl *Controller) ChannelForAddress(addr uint64) *Channel {
	f := ctrl.slicer.Slice(addr)
	if int(f.Channel) >= len(ctrl.Channels) {
		return nil
	}
	return ctrl.Channels[f.Channel]
}
