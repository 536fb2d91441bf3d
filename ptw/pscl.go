package ptw

// psclEntry is one page-structure-cache-level entry: a cached mapping
// from a virtual-address prefix at a given walk depth to the physical
// address of that level's table, grounded on inc/pscl_builder.h's
// pscl_entry layout.
type psclEntry struct {
	vpn   uint64
	pa    uint64
	level int
}

func (e psclEntry) SetIndex() uint64 { return e.vpn }
func (e psclEntry) Tag() uint64      { return e.vpn }

// shamt returns the virtual-address shift amount used to index the PSCL
// for a given walk level: level 0 is the final page (indexed by
// log2PageSize), each level above adds 9 bits (512-entry tables), mirroring
// vmem::shamt in the original.
func shamt(level int, log2PageSize uint) uint {
	return log2PageSize + uint(level)*9
}
