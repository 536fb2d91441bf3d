package sim

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/core"
	"github.com/sarchlab/champsim/diag"
	"github.com/sarchlab/champsim/dram"
	"github.com/sarchlab/champsim/ptw"
	"github.com/sarchlab/champsim/stats"
	"github.com/sarchlab/champsim/trace"
)

// cpu bundles one core together with its private memory-hierarchy
// endpoints, so Simulation can address it as a unit for snapshotting and
// deadlock reporting.
type cpu struct {
	core *core.Core
	itlb *ptw.Walker
	dtlb *ptw.Walker
	l1i  *cache.Cache
	l1d  *cache.Cache
	l2   *cache.Cache
}

// phaseSnapshot captures every component's cumulative Statistics at one
// instant, so a Report can be computed as the delta between two of them
// (spec.md §6's per-phase statistics, grounded on core_stats.cc's
// begin/end-snapshot pattern — see stats.CoreDeltaBetween and friends).
type phaseSnapshot struct {
	cycle uint64
	core  []core.Statistics
	l1i   []cache.Statistics
	l1d   []cache.Statistics
	l2    []cache.Statistics
	itlb  []ptw.Statistics
	dtlb  []ptw.Statistics
	llc   cache.Statistics
	dram  []dram.Statistics
}

// Simulation is a complete, runnable ChampSim instance: N cores behind
// private L1/L2, a shared LLC, and a DRAM controller, driven by one
// clock.Engine.
type Simulation struct {
	cfg Config

	engine *clock.Engine
	cpus   []*cpu
	llc    *cache.Cache
	dram   *dram.Controller
	bridge *dramBridge

	warmup bool
}

// New builds a Simulation from cfg: every private and shared component,
// wired in the fixed topological order spec.md §5 mandates (core, L1,
// private lower levels, shared LLC, DRAM), plus the warmup-bypass hooks
// threaded into every component that needs one.
func New(cfg Config) (*Simulation, error) {
	s := &Simulation{cfg: cfg, engine: clock.NewEngine()}
	s.warmup = cfg.WarmupInstructions > 0

	warmupFn := func() bool { return s.warmup }

	llcCfg := cfg.LLC
	llcCfg.Warmup = warmupFn
	s.llc = cache.New(llcCfg, cfg.Log2BlockSize, nil, nil)
	s.llc.Lower = channel.New(channel.Config{
		Name: "LLC.Lower", RQSize: cfg.DRAM.RQSize, WQSize: cfg.DRAM.WQSize,
		PQSize: cfg.DRAM.RQSize, ResponseSize: cfg.DRAM.RQSize + cfg.DRAM.WQSize,
		Log2BlockSize: cfg.Log2BlockSize,
	})

	dramCfg := cfg.DRAM
	dramCfg.Warmup = warmupFn
	s.dram = dram.NewController(dramCfg, 1)
	s.bridge = newDRAMBridge("LLC.DRAMBridge", s.llc.Lower, s.dram)

	for i, cc := range cfg.CPUs {
		c, err := s.newCPU(i, cc, warmupFn)
		if err != nil {
			return nil, fmt.Errorf("sim: cpu %d: %w", i, err)
		}
		s.cpus = append(s.cpus, c)
	}

	s.wireEngine()
	return s, nil
}

func (s *Simulation) newCPU(idx int, cc CPUConfig, warmupFn func() bool) (*cpu, error) {
	reader, err := trace.NewReader(cc.TracePath, idx)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	lr := trace.NewLookaheadReader(reader)

	itlbCfg := cc.ITLB
	itlbCfg.Warmup = warmupFn
	itlb := ptw.New(itlbCfg, nil)

	dtlbCfg := cc.DTLB
	dtlbCfg.Warmup = warmupFn
	dtlb := ptw.New(dtlbCfg, nil)

	l1iCfg := cc.L1ICache
	l1iCfg.Warmup = warmupFn
	l1i := cache.New(l1iCfg, s.cfg.Log2BlockSize, nil, nil)

	l1dCfg := cc.L1DCache
	l1dCfg.Warmup = warmupFn
	l1d := cache.New(l1dCfg, s.cfg.Log2BlockSize, nil, nil)

	l2Cfg := cc.L2Cache
	l2Cfg.Warmup = warmupFn
	l2 := cache.New(l2Cfg, s.cfg.Log2BlockSize, nil, nil)

	// Private lower levels: L1I/L1D miss into L2; both TLB walkers
	// send every page-table read to L2 directly (page table
	// entries are not cached in L1, matching the original's ptw->L2 wire).
	l1i.Lower = l2.Channel
	l1d.Lower = l2.Channel
	itlb.Lower = l2.Channel
	dtlb.Lower = l2.Channel

	// Shared LLC: every core's L2 misses into the one shared LLC.
	l2.Lower = s.llc.Channel

	coreCfg := cc.Core
	coreCfg.CPU = idx
	coreCfg.Log2BlockSize = s.cfg.Log2BlockSize
	coreCfg.Log2PageSize = s.cfg.Log2PageSize
	coreCfg.DeadlockCycles = s.cfg.DeadlockCycles
	coreCfg.Warmup = warmupFn

	co := core.NewCore(coreCfg, lr, core.Dependencies{
		ITLB: itlb, L1I: l1i, DTLB: dtlb, L1D: l1d,
	})

	return &cpu{core: co, itlb: itlb, dtlb: dtlb, l1i: l1i, l1d: l1d, l2: l2}, nil
}

// wireEngine registers every component with the clock.Engine in the
// mandatory topological order: cores first, then each core's L1, then
// private lower levels (L2, both TLB walkers), then the shared LLC and
// its DRAM bridge.
func (s *Simulation) wireEngine() {
	for _, c := range s.cpus {
		s.engine.Add(c.core)
	}
	for _, c := range s.cpus {
		s.engine.Add(c.l1i)
		s.engine.Add(c.l1d)
	}
	for _, c := range s.cpus {
		s.engine.Add(c.l2)
		s.engine.Add(c.itlb)
		s.engine.Add(c.dtlb)
	}
	s.engine.Add(s.llc)
	s.engine.Add(s.bridge)
	s.engine.Add(s.dram)
}

// Run drives the simulation through warmup (if configured) and then the
// measured ROI phase, returning a Report for each phase actually run. It
// returns an error if a deadlock is detected in either phase, after
// dumping the full queue/MSHR state to stderr.
func (s *Simulation) Run() (warmupReport, roiReport *stats.Report, err error) {
	var warmupBegin phaseSnapshot
	if s.warmup {
		warmupBegin = s.snapshot()
		if err := s.runPhase("warmup", s.cfg.WarmupInstructions); err != nil {
			return nil, nil, err
		}
		warmupEnd := s.snapshot()
		warmupReport = s.buildReport("warmup", warmupBegin, warmupEnd)
		s.endWarmup()
	}

	roiBegin := s.snapshot()
	if err := s.runPhase("ROI", s.cfg.SimInstructions); err != nil {
		return warmupReport, nil, err
	}
	roiEnd := s.snapshot()
	roiReport = s.buildReport("ROI", roiBegin, roiEnd)

	return warmupReport, roiReport, nil
}

// runPhase steps the engine until every CPU has retired at least target
// instructions since the phase began (spec.md's phase controller always
// ends a phase at an instruction count), checking every CPU for
// deadlock each tick.
func (s *Simulation) runPhase(name string, target uint64) error {
	if target == 0 {
		return nil
	}
	start := make([]uint64, len(s.cpus))
	for i, c := range s.cpus {
		start[i] = c.core.Stats().Retired
	}

	for {
		s.engine.Step()

		done := true
		for i, c := range s.cpus {
			if c.core.Stats().Retired-start[i] < target {
				done = false
				break
			}
		}
		if done {
			return nil
		}

		for _, c := range s.cpus {
			if err := c.core.CheckDeadlock(uint64(s.engine.Now())); err != nil {
				slog.Error("deadlock detected", "phase", name, "err", err)
				diag.Dump(os.Stderr, s.diagSnapshot(), err)
				return err
			}
		}
	}
}

// endWarmup implements spec.md §5's warmup-exit contract: flip the
// global flag off, then clear every in-flight instruction's
// register-dependency counts so the ROI phase doesn't inherit stalls
// built up under warmup's relaxed (same-tick DRAM, zero-fill-latency)
// timing.
func (s *Simulation) endWarmup() {
	s.warmup = false
	for _, c := range s.cpus {
		c.core.ClearWarmupDependencies()
	}
}

func (s *Simulation) snapshot() phaseSnapshot {
	snap := phaseSnapshot{cycle: uint64(s.engine.Now()), llc: s.llc.Stats()}
	for _, c := range s.cpus {
		snap.core = append(snap.core, c.core.Stats())
		snap.l1i = append(snap.l1i, c.l1i.Stats())
		snap.l1d = append(snap.l1d, c.l1d.Stats())
		snap.l2 = append(snap.l2, c.l2.Stats())
		snap.itlb = append(snap.itlb, c.itlb.Stats())
		snap.dtlb = append(snap.dtlb, c.dtlb.Stats())
	}
	for _, dch := range s.dram.Channels {
		snap.dram = append(snap.dram, dch.Stats())
	}
	return snap
}

// buildReport computes a stats.Report as the delta between begin and end
// snapshots, across every core/cache/walker/DRAM channel.
func (s *Simulation) buildReport(phase string, begin, end phaseSnapshot) *stats.Report {
	r := &stats.Report{Phase: phase}
	for i, c := range s.cpus {
		r.Cores = append(r.Cores, stats.CoreDeltaBetween(
			stats.CoreSnapshot{Cycle: begin.cycle, Stats: begin.core[i]},
			stats.CoreSnapshot{Cycle: end.cycle, Stats: end.core[i]},
		))
		r.Caches = append(r.Caches,
			stats.NamedCacheDelta{Name: c.l1i.Name(), Delta: stats.CacheDeltaBetween(begin.l1i[i], end.l1i[i])},
			stats.NamedCacheDelta{Name: c.l1d.Name(), Delta: stats.CacheDeltaBetween(begin.l1d[i], end.l1d[i])},
			stats.NamedCacheDelta{Name: c.l2.Name(), Delta: stats.CacheDeltaBetween(begin.l2[i], end.l2[i])},
		)
		r.PTWs = append(r.PTWs,
			stats.NamedPTWDelta{Name: c.itlb.Name(), Delta: stats.PTWDeltaBetween(begin.itlb[i], end.itlb[i])},
			stats.NamedPTWDelta{Name: c.dtlb.Name(), Delta: stats.PTWDeltaBetween(begin.dtlb[i], end.dtlb[i])},
		)
	}
	r.Caches = append(r.Caches, stats.NamedCacheDelta{Name: s.llc.Name(), Delta: stats.CacheDeltaBetween(begin.llc, end.llc)})
	for i := range end.dram {
		r.DRAM = append(r.DRAM, stats.DRAMDeltaBetween(begin.dram[i], end.dram[i]))
	}
	return r
}

func (s *Simulation) diagSnapshot() diag.Snapshot {
	snap := diag.Snapshot{DRAM: s.dram}
	for _, c := range s.cpus {
		snap.Cores = append(snap.Cores, c.core)
		snap.Caches = append(snap.Caches, c.l1i, c.l1d, c.l2)
		snap.Walkers = append(snap.Walkers, c.itlb, c.dtlb)
	}
	snap.Caches = append(snap.Caches, s.llc)
	return snap
}

// Engine exposes the underlying clock.Engine, for callers (cmd/champsim)
// that want the current virtual time after Run returns.
func (s *Simulation) Engine() *clock.Engine { return s.engine }
