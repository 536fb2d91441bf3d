package cache

import "github.com/sarchlab/champsim/request"

// ReplacementPolicy is the capability set a replacement module implements
// (spec.md §9 "Polymorphism over modules": a capability set enumerated for
// each cache; variant policies are distinguished by tag, not inheritance).
// Way selection itself is owned by the cache's akitacache.DirectoryImpl
// (constructed with akitacache.NewLRUVictimFinder()); ReplacementPolicy is
// purely a notification hook a custom policy can use to track its own
// state (e.g. for FinalStats reporting) off the back of every tag-check.
type ReplacementPolicy interface {
	// Initialize is called once, after the cache's geometry is fixed.
	Initialize(sets, ways int)
	// UpdateReplacementState is called after every tag-check, hit or
	// miss-with-fill.
	UpdateReplacementState(cpu, set, way int, fullAddr, ip, victimAddr uint64, accessType request.AccessType, hit bool)
	// FinalStats is called once at the end of simulation.
	FinalStats()
}

// Prefetcher is the capability set a prefetch module implements.
// Any subset may be a no-op; NopPrefetcher embeds into custom
// prefetchers that only care about one or two hooks.
type Prefetcher interface {
	Initialize()
	CacheOperate(addr, ip uint64, hit, usefulPrefetch bool, accessType request.AccessType, metadata uint32) uint32
	CacheFill(addr uint64, set, way int, prefetch bool, evictedAddr uint64, metadata uint32) uint32
	CycleOperate()
	BranchOperate(ip uint64, branchType int, target uint64)
	FinalStats()
}

// LRUReplacement is the default replacement policy. Actual LRU victim
// selection happens inside the cache's akitacache directory
// (akitacache.NewLRUVictimFinder()); this type only exists as the default
// ReplacementPolicy value so Cache always has a non-nil hook to call.
type LRUReplacement struct{}

func (r *LRUReplacement) Initialize(sets, ways int) {}

func (r *LRUReplacement) UpdateReplacementState(cpu, set, way int, fullAddr, ip, victimAddr uint64, accessType request.AccessType, hit bool) {
}

func (r *LRUReplacement) FinalStats() {}

// NopPrefetcher never issues prefetches; CacheOperate/CacheFill return
// the metadata unchanged.
type NopPrefetcher struct{}

func (NopPrefetcher) Initialize() {}
func (NopPrefetcher) CacheOperate(addr, ip uint64, hit, usefulPrefetch bool, accessType request.AccessType, metadata uint32) uint32 {
	return metadata
}
func (NopPrefetcher) CacheFill(addr uint64, set, way int, prefetch bool, evictedAddr uint64, metadata uint32) uint32 {
	return metadata
}
func (NopPrefetcher) CycleOperate()                                   {}
func (NopPrefetcher) BranchOperate(ip uint64, branchType int, target uint64) {}
func (NopPrefetcher) FinalStats()                                      {}
