// Package champsim holds the handful of global parameters that the original
// simulator carried as process-wide constants (NUM_CPUS, LOG2_BLOCK_SIZE,
// LOG2_PAGE_SIZE, warmup). The register-index and instruction-shape
// constants are used across the module; Config and DefaultConfig are not
// consumed by any other package, each of which takes its own Config.
package champsim

// Config carries the simulation-wide parameters that every component
// needs to agree on.
type Config struct {
	// NumCPUs is the number of cores being simulated.
	NumCPUs int

	// Log2BlockSize is log2 of the cache block size in bytes (e.g. 6 for
	// 64-byte blocks).
	Log2BlockSize uint

	// Log2PageSize is log2 of the virtual page size in bytes (e.g. 12 for
	// 4KiB pages).
	Log2PageSize uint

	// DeadlockCycles is the number of cycles a buffer head may remain
	// un-advanced before the simulation declares a deadlock.
	DeadlockCycles uint64

	// Warmup is true while the simulator is in the warmup phase: DRAM
	// timing is bypassed, cache fill latency is zero, and warmed-up
	// instructions' register dependencies are cleared.
	Warmup bool
}

// DefaultConfig returns a single-core configuration with the block/page
// sizes ChampSim traces are built against.
func DefaultConfig() *Config {
	return &Config{
		NumCPUs:        1,
		Log2BlockSize:  6,
		Log2PageSize:   12,
		DeadlockCycles: 1_000_000,
		Warmup:         false,
	}
}

// BlockSize returns the cache block size in bytes.
func (c *Config) BlockSize() uint64 {
	return 1 << c.Log2BlockSize
}

// PageSize returns the virtual page size in bytes.
func (c *Config) PageSize() uint64 {
	return 1 << c.Log2PageSize
}

// Special register indices used to infer branch shape from a trace record.
const (
	RegStackPointer      = 6
	RegFlags             = 25
	RegInstructionPointer = 26
)

// NumInstrSources and NumInstrDestinations bound the per-instruction
// register/memory operand arrays, matching the trace record layout.
const (
	NumInstrSources           = 4
	NumInstrDestinations      = 2 // standard trace format
	NumInstrDestinationsCloud = 4 // cloudsuite trace format
)
