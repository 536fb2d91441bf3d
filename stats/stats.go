// Package stats implements spec.md §2's "Event/statistics plumbing":
// per-ROI and per-sim event counters, computed by snapshotting every
// component's own Statistics at phase boundaries and subtracting.
// Grounded on src/core_stats.cc / src/cache_stats.cc / src/dram_stats.cc's
// begin/end-snapshot-and-subtract pattern (operator-(cpu_stats,cpu_stats)
// and friends), reimplemented as plain functions instead of an operator
// overload.
package stats

import (
	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/core"
	"github.com/sarchlab/champsim/dram"
	"github.com/sarchlab/champsim/instr"
	"github.com/sarchlab/champsim/ptw"
	"github.com/sarchlab/champsim/request"
)

// CoreSnapshot is a point-in-time copy of one CPU's statistics plus the
// cycle count it was taken at, needed to compute IPC over a window.
type CoreSnapshot struct {
	Cycle uint64
	Stats core.Statistics
}

// SnapshotCore captures s at the given cycle, matching cpu_stats'
// begin_instrs/begin_cycles fields taken at a phase boundary.
func SnapshotCore(cycle uint64, s core.Statistics) CoreSnapshot {
	return CoreSnapshot{Cycle: cycle, Stats: s}
}

// CoreDelta is the per-window statistics between two snapshots, matching
// cpu_stats::instrs()/cycles() and operator-(cpu_stats,cpu_stats).
type CoreDelta struct {
	Cycles            uint64
	Retired           uint64
	Branches          uint64
	Mispredictions    uint64
	MispredictsByType map[instr.BranchType]uint64
}

// CoreDeltaBetween computes the windowed statistics from begin to end
// (end must have been taken later than begin).
func CoreDeltaBetween(begin, end CoreSnapshot) CoreDelta {
	d := CoreDelta{
		Cycles:            end.Cycle - begin.Cycle,
		Retired:           end.Stats.Retired - begin.Stats.Retired,
		Branches:          end.Stats.Branches - begin.Stats.Branches,
		Mispredictions:    end.Stats.Mispredictions - begin.Stats.Mispredictions,
		MispredictsByType: make(map[instr.BranchType]uint64),
	}
	for t, n := range end.Stats.MispredictsByType {
		d.MispredictsByType[t] = n - begin.Stats.MispredictsByType[t]
	}
	return d
}

// IPC returns retired instructions per cycle, zero if no cycles elapsed.
func (d CoreDelta) IPC() float64 {
	if d.Cycles == 0 {
		return 0
	}
	return float64(d.Retired) / float64(d.Cycles)
}

// MPKI returns branch mispredictions per thousand retired instructions.
func (d CoreDelta) MPKI() float64 {
	if d.Retired == 0 {
		return 0
	}
	return float64(d.Mispredictions) * 1000 / float64(d.Retired)
}

// CacheDelta is the per-window hit/miss counters between two snapshots.
type CacheDelta struct {
	Hits, Misses map[request.AccessType]uint64
	Accesses     uint64
	MSHRMerges   uint64
	PFUseful     uint64
	PFUseless    uint64
}

// CacheDeltaBetween computes the windowed statistics from begin to end.
func CacheDeltaBetween(begin, end cache.Statistics) CacheDelta {
	d := CacheDelta{
		Hits:       make(map[request.AccessType]uint64),
		Misses:     make(map[request.AccessType]uint64),
		Accesses:   end.Accesses - begin.Accesses,
		MSHRMerges: end.MSHRMerges - begin.MSHRMerges,
		PFUseful:   end.PFUseful - begin.PFUseful,
		PFUseless:  end.PFUseless - begin.PFUseless,
	}
	for t, n := range end.Hits {
		d.Hits[t] = n - begin.Hits[t]
	}
	for t, n := range end.Misses {
		d.Misses[t] = n - begin.Misses[t]
	}
	return d
}

// HitRate returns the fraction of this window's accesses that hit.
func (d CacheDelta) HitRate() float64 {
	var hits, misses uint64
	for _, h := range d.Hits {
		hits += h
	}
	for _, m := range d.Misses {
		misses += m
	}
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// DRAMDelta is the per-window row-buffer/congestion counters between two
// snapshots of one channel's statistics.
type DRAMDelta struct {
	RQRowBufferHit, RQRowBufferMiss uint64
	WQRowBufferHit, WQRowBufferMiss uint64
	WQFull                          uint64
	CongestedCycles                 uint64
}

// DRAMDeltaBetween computes the windowed statistics from begin to end.
func DRAMDeltaBetween(begin, end dram.Statistics) DRAMDelta {
	return DRAMDelta{
		RQRowBufferHit:  end.RQRowBufferHit - begin.RQRowBufferHit,
		RQRowBufferMiss: end.RQRowBufferMiss - begin.RQRowBufferMiss,
		WQRowBufferHit:  end.WQRowBufferHit - begin.WQRowBufferHit,
		WQRowBufferMiss: end.WQRowBufferMiss - begin.WQRowBufferMiss,
		WQFull:          end.WQFull - begin.WQFull,
		CongestedCycles: end.CongestedCycles - begin.CongestedCycles,
	}
}

// RowBufferHitRate returns the fraction of RQ accesses in this window
// that found the row already open.
func (d DRAMDelta) RowBufferHitRate() float64 {
	total := d.RQRowBufferHit + d.RQRowBufferMiss
	if total == 0 {
		return 0
	}
	return float64(d.RQRowBufferHit) / float64(total)
}

// PTWDelta is the per-window translation/PSCL-hit counters between two
// snapshots of one walker's statistics.
type PTWDelta struct {
	Translations uint64
	PSCLHits     map[int]uint64
	PSCLMisses   uint64
	MSHRMerges   uint64
}

// PTWDeltaBetween computes the windowed statistics from begin to end.
func PTWDeltaBetween(begin, end ptw.Statistics) PTWDelta {
	d := PTWDelta{
		Translations: end.Translations - begin.Translations,
		PSCLHits:     make(map[int]uint64),
		PSCLMisses:   end.PSCLMisses - begin.PSCLMisses,
		MSHRMerges:   end.MSHRMerges - begin.MSHRMerges,
	}
	for lvl, n := range end.PSCLHits {
		d.PSCLHits[lvl] = n - begin.PSCLHits[lvl]
	}
	return d
}
