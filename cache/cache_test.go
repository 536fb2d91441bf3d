package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/request"
)

// serviceLower drains whatever the cache under test sent to its Lower
// channel straight back as a response, standing in for a perfect
// always-hit next level — the same stand-in core_test.go's harness uses.
func serviceLower(ch *channel.Channel) {
	for _, q := range []*channel.Queue{ch.RQ, ch.WQ, ch.PQ} {
		if req, ok := q.Pop(); ok {
			ch.Response.TryAdd(req)
		}
	}
}

var _ = Describe("Cache", func() {
	var (
		c   *cache.Cache
		now clock.Time
	)

	BeforeEach(func() {
		cfg := cache.Config{
			Name: "L1D", Sets: 8, Ways: 4, HitLatency: 1, FillLatency: 4,
			RQSize: 4, WQSize: 4, PQSize: 4, ResponseSize: 4,
		}
		cfg.Resolve()
		c = cache.New(cfg, 6, nil, nil)
		c.Lower = channel.New(channel.Config{
			Name: "Lower", RQSize: 4, WQSize: 4, PQSize: 4, ResponseSize: 4, Log2BlockSize: 6,
		})
		now = 0
	})

	step := func() {
		now++
		c.Operate(now)
		serviceLower(c.Lower)
	}

	Describe("a cold access", func() {
		It("misses, then fills from the lower level", func() {
			ok := c.Channel.RQ.TryAdd(request.Request{
				Address: 0x4000, VAddress: 0x4000, Type: request.Load,
				Translated: true, ResponseRequested: true,
			})
			Expect(ok).To(BeTrue())

			var resp request.Request
			found := false
			for i := 0; i < 20 && !found; i++ {
				step()
				resp, found = c.Channel.Response.Pop()
			}
			Expect(found).To(BeTrue())
			Expect(resp.Address).To(Equal(uint64(0x4000)))

			stats := c.Stats()
			Expect(stats.Accesses).To(Equal(uint64(1)))
			Expect(stats.Misses[request.Load]).To(Equal(uint64(1)))
		})
	})

	Describe("a repeated access to the same block", func() {
		It("hits the second time", func() {
			first := request.Request{
				Address: 0x8000, VAddress: 0x8000, Type: request.Load,
				Translated: true, ResponseRequested: true,
			}
			Expect(c.Channel.RQ.TryAdd(first)).To(BeTrue())
			for i := 0; i < 20; i++ {
				if _, found := c.Channel.Response.Pop(); found {
					break
				}
				step()
			}

			second := first
			Expect(c.Channel.RQ.TryAdd(second)).To(BeTrue())
			var found bool
			for i := 0; i < 5 && !found; i++ {
				step()
				_, found = c.Channel.Response.Pop()
			}
			Expect(found).To(BeTrue())

			stats := c.Stats()
			Expect(stats.Hits[request.Load]).To(Equal(uint64(1)))
		})
	})

	Describe("MSHR occupancy", func() {
		It("reports zero when idle and the configured capacity as max", func() {
			cur, max := c.MSHROccupancy()
			Expect(cur).To(Equal(0))
			Expect(max).To(BeNumerically(">", 0))
		})
	})
})
