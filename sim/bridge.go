package sim

import (
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/dram"
)

// dramBridge adapts a channel.Channel (the LLC's Lower, or a walker's
// Lower when PTW fills are routed straight to DRAM) to a
// dram.Controller: it has no timing of its own, it is pure routing, so
// it always reports progress when it moved anything. Grounded on the
// same "drain one queue straight into the next component's inbound
// queue" shape core_test.go's serviceLower test stand-in uses, made
// real here by routing through the controller's address slicer instead
// of echoing unconditionally.
type dramBridge struct {
	name string
	ch   *channel.Channel
	ctrl *dram.Controller
}

// newDRAMBridge wires ch (a cache's or walker's Lower channel) to ctrl.
func newDRAMBridge(name string, ch *channel.Channel, ctrl *dram.Controller) *dramBridge {
	return &dramBridge{name: name, ch: ch, ctrl: ctrl}
}

func (b *dramBridge) Name() string       { return b.name }
func (b *dramBridge) Period() clock.Time { return 1 }

func (b *dramBridge) Operate(clock.Time) bool {
	progress := false

	for _, q := range []*channel.Queue{b.ch.RQ, b.ch.WQ, b.ch.PQ} {
		for {
			req, ok := q.Peek()
			if !ok {
				break
			}
			if !b.ctrl.Route(req) {
				break
			}
			q.Pop()
			progress = true
		}
	}

	for _, dch := range b.ctrl.Channels {
		for {
			resp, ok := dch.Response.Peek()
			if !ok {
				break
			}
			if !b.ch.Response.TryAdd(resp) {
				break
			}
			dch.Response.Pop()
			progress = true
		}
	}

	return progress
}
