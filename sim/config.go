// Package sim assembles the full memory-hierarchy topology of spec.md
// §5 — core, private L1/L2, shared LLC, DRAM — wires it into a
// clock.Engine in the mandated operate order, and drives the
// warmup-then-ROI phase controller. Grounded in shape on
// timing/core.Core's "wraps the lower-level pieces behind one
// high-level Run/Tick surface" idiom and on src/champsim.cc's
// per-phase instruction-count loop.
package sim

import (
	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/core"
	"github.com/sarchlab/champsim/dram"
	"github.com/sarchlab/champsim/ptw"
)

// CPUConfig bundles one core's pipeline widths/sizes and its private
// cache/walker configurations.
type CPUConfig struct {
	TracePath string

	Core core.Config

	ITLB ptw.Config
	DTLB ptw.Config

	L1ICache cache.Config
	L1DCache cache.Config
	L2Cache  cache.Config
}

// Config is the whole-simulation configuration: per-CPU pipeline/cache
// parameters plus the shared LLC and DRAM controller.
type Config struct {
	NumCPUs int
	CPUs    []CPUConfig

	LLC  cache.Config
	DRAM dram.Config

	Log2BlockSize uint
	Log2PageSize  uint

	WarmupInstructions uint64
	SimInstructions    uint64

	DeadlockCycles uint64
}
