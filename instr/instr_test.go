package instr_test

import (
	"testing"

	"github.com/sarchlab/champsim/champsim"
	"github.com/sarchlab/champsim/instr"
	"github.com/sarchlab/champsim/trace"
)

func TestClassifyDirectJump(t *testing.T) {
	in := instr.FromRecord(0, trace.Record{
		IP:                   0x100,
		DestinationRegisters: [2]uint8{champsim.RegInstructionPointer, 0},
	}, 1)
	in.Classify()

	if !in.IsBranch || in.BranchType != instr.DirectJump || !in.BranchTaken {
		t.Fatalf("expected a taken direct jump, got %+v", in)
	}
}

func TestClassifyConditionalBranchPreservesTakenFlag(t *testing.T) {
	in := instr.FromRecord(0, trace.Record{
		IP:                   0x100,
		BranchTaken:          false,
		DestinationRegisters: [2]uint8{champsim.RegInstructionPointer, 0},
		SourceRegisters:      [4]uint8{champsim.RegInstructionPointer, champsim.RegFlags, 0, 0},
	}, 1)
	in.Classify()

	if in.BranchType != instr.Conditional {
		t.Fatalf("expected conditional branch, got %v", in.BranchType)
	}
	if in.BranchTaken {
		t.Fatalf("conditional classification must not force branch_taken")
	}
	if in.BranchTarget != 0 {
		t.Fatalf("expected branch target cleared for an untaken branch")
	}
}

// Stack-pointer folding: a call (branch + SP write) drops SP from its
// destination registers and decrements num_reg_ops, per spec.md §4.1.
func TestStackPointerFoldingOnCall(t *testing.T) {
	in := instr.FromRecord(0, trace.Record{
		IP:                   0x100,
		DestinationRegisters: [2]uint8{champsim.RegStackPointer, champsim.RegInstructionPointer},
		SourceRegisters:      [4]uint8{champsim.RegStackPointer, champsim.RegInstructionPointer, 0, 0},
	}, 1)
	in.Classify()

	if in.BranchType != instr.DirectCall {
		t.Fatalf("expected direct call classification, got %v", in.BranchType)
	}
	for _, reg := range in.DestinationRegisters {
		if reg == champsim.RegStackPointer {
			t.Fatalf("expected stack pointer folded out of destination registers")
		}
	}
	// Classify counts 2 destination + 2 source registers, then folding
	// removes the SP destination.
	if in.NumRegOps != 3 {
		t.Fatalf("expected folding to reduce reg-op count from 4 to 3, got %d", in.NumRegOps)
	}
}

// Variable-sized SP adjustment (reads_other true, not a branch or
// memory op) must NOT be folded — its destination SP dependency is real.
func TestStackPointerNotFoldedForVariableAdjustment(t *testing.T) {
	in := instr.FromRecord(0, trace.Record{
		IP:                   0x100,
		DestinationRegisters: [2]uint8{champsim.RegStackPointer, 0},
		SourceRegisters:      [4]uint8{champsim.RegStackPointer, 7, 0, 0},
	}, 1)
	in.Classify()

	found := false
	for _, reg := range in.DestinationRegisters {
		if reg == champsim.RegStackPointer {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stack pointer NOT folded for a variable-sized adjustment")
	}
}

func TestInstrIDsMonotonicAcrossRecords(t *testing.T) {
	var lastID uint64
	for i := 0; i < 5; i++ {
		id := uint64(i + 1)
		in := instr.FromRecord(0, trace.Record{IP: uint64(i)}, id)
		if in.InstrID <= lastID {
			t.Fatalf("expected strictly increasing instr_id, got %d after %d", in.InstrID, lastID)
		}
		lastID = in.InstrID
	}
}
