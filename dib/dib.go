// Package dib implements the decoded instruction buffer: an
// instruction-pointer-indexed cache of "this code line has already been
// fetched and decoded", letting fetch skip straight to dispatch on a
// hit. Grounded on src/ooo_cpu.cc's DIB / do_check_dib / do_dib_update,
// generalized onto lrutable.Table.
package dib

import "github.com/sarchlab/champsim/lrutable"

// entry is one DIB line: the window-aligned address it covers.
type entry struct {
	windowAddr uint64
}

func (e entry) SetIndex() uint64 { return e.windowAddr }
func (e entry) Tag() uint64      { return e.windowAddr }

// Buffer is a set-associative DIB indexed by instruction pointer,
// windowed by log2Window bits (so a whole fetch window shares one
// entry, matching the original's dib_window granularity).
type Buffer struct {
	table      *lrutable.Table[entry]
	log2Window uint
}

// New constructs a Buffer with the given geometry.
func New(sets, ways int, log2Window uint) *Buffer {
	return &Buffer{
		table:      lrutable.New[entry](sets, ways),
		log2Window: log2Window,
	}
}

func (b *Buffer) window(ip uint64) uint64 { return ip >> b.log2Window }

// Check reports whether ip's fetch window is already resident, touching
// its recency on a hit (matching do_check_dib's LRU-update-on-check
// semantics — unlike most caches, a DIB lookup itself counts as a use).
func (b *Buffer) Check(ip uint64) bool {
	_, hit := b.table.CheckHit(entry{windowAddr: b.window(ip)})
	return hit
}

// Update inserts ip's fetch window, evicting an LRU victim if the set is
// full (do_dib_update).
func (b *Buffer) Update(ip uint64) {
	b.table.Fill(entry{windowAddr: b.window(ip)})
}
