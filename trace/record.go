// Package trace decodes ChampSim's fixed-size binary instruction trace
// records and manages the underlying file stream: decompression,
// reopen-on-EOF repetition, and branch-target lookahead. Grounded on
// inc/trace_instruction.h (record layout) and src/tracereader.cc
// (decompression selection, apply_branch_target, unique instruction ids).
package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/champsim/champsim"
)

// RecordSize is the on-disk size, in bytes, of one input_instr record:
// an 8-byte IP, two branch flag bytes, 2 destination + 4 source register
// ids, then 2 destination + 4 source memory addresses as uint64s.
const RecordSize = 8 + 1 + 1 + champsim.NumInstrDestinations + champsim.NumInstrSources +
	8*champsim.NumInstrDestinations + 8*champsim.NumInstrSources

// Record is one decoded trace entry, mirroring input_instr.
type Record struct {
	IP          uint64
	IsBranch    bool
	BranchTaken bool

	DestinationRegisters [champsim.NumInstrDestinations]uint8
	SourceRegisters      [champsim.NumInstrSources]uint8

	DestinationMemory [champsim.NumInstrDestinations]uint64
	SourceMemory      [champsim.NumInstrSources]uint64

	// BranchTarget is filled in by the lookahead pairing pass (the next
	// record's IP, when this record is a taken branch); zero otherwise.
	BranchTarget uint64
}

// Decode parses one RecordSize-byte little-endian record.
func Decode(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("trace: record must be %d bytes, got %d", RecordSize, len(buf))
	}
	var r Record
	off := 0
	r.IP = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.IsBranch = buf[off] != 0
	off++
	r.BranchTaken = buf[off] != 0
	off++
	for i := range r.DestinationRegisters {
		r.DestinationRegisters[i] = buf[off]
		off++
	}
	for i := range r.SourceRegisters {
		r.SourceRegisters[i] = buf[off]
		off++
	}
	for i := range r.DestinationMemory {
		r.DestinationMemory[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	for i := range r.SourceMemory {
		r.SourceMemory[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	return r, nil
}

// Encode serializes r back to its RecordSize-byte wire format, used by
// tests that synthesize trace files in memory.
func Encode(r Record) []byte {
	buf := make([]byte, RecordSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], r.IP)
	off += 8
	if r.IsBranch {
		buf[off] = 1
	}
	off++
	if r.BranchTaken {
		buf[off] = 1
	}
	off++
	for _, v := range r.DestinationRegisters {
		buf[off] = v
		off++
	}
	for _, v := range r.SourceRegisters {
		buf[off] = v
		off++
	}
	for _, v := range r.DestinationMemory {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	for _, v := range r.SourceMemory {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	return buf
}

// IsIndirectBranch reports whether a branch's target cannot be
// predicted from the instruction stream alone — here, any branch record
// (taken or not) whose destination register set includes the instruction pointer
// (a computed jump/return), per the special-register convention.
func (r Record) IsIndirectBranch() bool {
	if !r.IsBranch {
		return false
	}
	for _, reg := range r.DestinationRegisters {
		if reg == champsim.RegInstructionPointer {
			return true
		}
	}
	return false
}
