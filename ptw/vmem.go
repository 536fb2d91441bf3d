package ptw

// Translator resolves one level of a page-table walk. Level counts down
// from the walker's configured depth to zero; level zero's result is the
// translated physical page address, every other level's result is the
// physical address of the next level's table entry. Real ChampSim backs
// this with a byte-exact simulated page table (src/vmem.cc); this model
// keeps only the timing contract PTW depends on (a physical address plus
// a memory-access penalty per level) and derives addresses deterministically
// rather than replicating x86 PTE encoding bit-for-bit, since spec.md's
// data model only requires the MSHR/PSCL walk-and-timing behavior, not
// byte-accurate page table contents.
type Translator interface {
	// WalkLevel returns the physical address produced by level's lookup,
	// plus the simulated memory penalty (additional cycles beyond
	// HitLatency) that access cost.
	WalkLevel(cpu int, vaddr uint64, level int) (pa uint64, penalty uint64)
	// Levels reports the walk depth (for example 5 for CR3+4 levels).
	Levels() int
}

// IdentityTranslator is a deterministic stand-in vmem: each level hashes
// the virtual address with the level number to produce a distinct, stable
// physical address, and the final level (0) folds in the page offset so
// repeated walks of the same page agree. It is meant for environments
// without a populated page table model, and for tests.
type IdentityTranslator struct {
	NumLevels    int
	PenaltyEach  uint64
	Log2PageSize uint
}

func (t IdentityTranslator) Levels() int {
	if t.NumLevels == 0 {
		return 5
	}
	return t.NumLevels
}

func (t IdentityTranslator) WalkLevel(cpu int, vaddr uint64, level int) (uint64, uint64) {
	mix := uint64(cpu)*0x9E3779B97F4A7C15 + vaddr*uint64(level+1) + uint64(level)*0xBF58476D1CE4E5B9
	mix ^= mix >> 33
	mix *= 0xFF51AFD7ED558CCD
	mix ^= mix >> 33
	if level == 0 {
		pageSize := uint64(1) << t.Log2PageSize
		mix = (mix &^ (pageSize - 1)) | (vaddr & (pageSize - 1))
	}
	return mix, t.PenaltyEach
}
