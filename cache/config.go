package cache

import "math"

// Config describes a cache instance per spec.md §4.2 "Size derivation":
// any two of {Size, Sets, Ways} may be given and the third is derived.
// Zero HitLatency/FillLatency/MSHRSize trigger the documented defaults.
type Config struct {
	Name string

	// Exactly two of these three should be set (nonzero); the third is
	// derived by Resolve.
	Size int // bytes
	Sets int
	Ways int

	BlockSize int // bytes, default 64

	// MaxTag / MaxFill bound tag-check and fill bandwidth per tick.
	MaxTag  int
	MaxFill int

	// MSHRSize, if zero, defaults to Sets*FillLatency*FillBW/16.
	MSHRSize int

	// HitLatency / FillLatency, if both zero, default to a 1:1 split of
	// 0.416*(Sets*Ways)^0.343 total cycles.
	HitLatency  int
	FillLatency int

	// MatchOffsetBits: when false (the default), writes bypass
	// tag-check and go straight to the inflight-writes buffer
	// (write-through/writeback buffer behavior); when true, writes are
	// treated like reads for coherence testing (spec.md §4.2).
	MatchOffsetBits bool

	// WriteAllocate is carried through from the run configuration but is
	// not read by Cache: a write miss that reaches tag-check always
	// allocates an MSHR and fills the block.
	WriteAllocate bool

	// VirtualPrefetch: prefetches issued by PrefetchLine carry a virtual
	// address (translated by the PTW/TLB downstream) rather than a
	// physical one.
	VirtualPrefetch bool

	// PrefetchAsLoad: when false, prefetch misses use the lower level's
	// PQ rather than its RQ.
	PrefetchAsLoad bool

	RQSize, WQSize, PQSize, ResponseSize int

	// Warmup, when it returns true, forces fill latency to zero (spec.md
	// §5 "Warmup mode": "forces fill latency to zero in the cache").
	Warmup func() bool
}

// Resolve fills in BlockSize/MaxTag/MaxFill/MSHRSize/latency defaults and
// derives whichever of Size/Sets/Ways was left zero.
func (c *Config) Resolve() {
	if c.BlockSize == 0 {
		c.BlockSize = 64
	}
	switch {
	case c.Sets == 0 && c.Ways != 0 && c.Size != 0:
		c.Sets = c.Size / (c.Ways * c.BlockSize)
	case c.Ways == 0 && c.Sets != 0 && c.Size != 0:
		c.Ways = c.Size / (c.Sets * c.BlockSize)
	case c.Size == 0 && c.Sets != 0 && c.Ways != 0:
		c.Size = c.Sets * c.Ways * c.BlockSize
	}
	if c.Sets == 0 {
		c.Sets = 1
	}
	if c.Ways == 0 {
		c.Ways = 1
	}

	if c.MaxTag == 0 {
		c.MaxTag = 2
	}
	if c.MaxFill == 0 {
		c.MaxFill = 2
	}

	if c.HitLatency == 0 && c.FillLatency == 0 {
		total := 0.416 * math.Pow(float64(c.Sets*c.Ways), 0.343)
		half := int(math.Round(total / 2))
		if half < 1 {
			half = 1
		}
		c.HitLatency = half
		c.FillLatency = half
	}

	if c.MSHRSize == 0 {
		c.MSHRSize = max(1, c.Sets*c.FillLatency*c.MaxFill/16)
	}

	if c.RQSize == 0 {
		c.RQSize = 16
	}
	if c.WQSize == 0 {
		c.WQSize = 16
	}
	if c.PQSize == 0 {
		c.PQSize = 16
	}
	if c.ResponseSize == 0 {
		c.ResponseSize = 16
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
