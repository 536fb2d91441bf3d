// Package instr implements the decoded in-flight instruction (the
// O3 pipeline's working unit) and load/store queue entries, plus the
// branch classification and stack-pointer-folding rules applied once
// per instruction at fetch time. Grounded on inc/instruction.h
// (ooo_model_instr) and src/ooo_cpu.cc's init_instruction.
package instr

import (
	"github.com/sarchlab/champsim/champsim"
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/trace"
	"github.com/sarchlab/champsim/waitable"
)

// BranchType classifies a control-flow instruction, mirroring the
// original's BRANCH_* #defines.
type BranchType uint8

const (
	NotBranch BranchType = iota
	DirectJump
	Indirect
	Conditional
	DirectCall
	IndirectCall
	Return
	OtherBranch
)

func (b BranchType) String() string {
	switch b {
	case NotBranch:
		return "NOT_BRANCH"
	case DirectJump:
		return "DIRECT_JUMP"
	case Indirect:
		return "INDIRECT"
	case Conditional:
		return "CONDITIONAL"
	case DirectCall:
		return "DIRECT_CALL"
	case IndirectCall:
		return "INDIRECT_CALL"
	case Return:
		return "RETURN"
	case OtherBranch:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// LSQEntry is one load/store queue slot: an address awaiting or holding
// a value, with producer/consumer bookkeeping for store-to-load
// forwarding.
type LSQEntry struct {
	Valid        bool
	IsStore      bool
	InstrID      uint64
	VirtualAddr  uint64
	PhysicalAddr uint64
	Translated   bool
	Fetched      waitable.Waitable[bool]
	ProducerID   uint64 // the store instruction id this load forwards from, if any
	RobIndex     int

	// TranslationRequested and MemRequested latch a DTLB/L1D request as
	// already in flight so operate_lsq does not resubmit it every tick.
	TranslationRequested bool
	MemRequested          bool

	// ForwardDependents holds the LQ slot indices of younger loads
	// waiting to forward from this (store) entry once it translates.
	ForwardDependents []int
}

// Instr is one in-flight instruction: the decode-time-fixed fields from
// the trace record plus the pipeline-stage progress flags and ROB/LSQ
// linkage mutated as it advances.
type Instr struct {
	InstrID    uint64
	IP         uint64
	EventCycle waitable.Time

	IsBranch            bool
	IsMemory            bool
	BranchTaken         bool
	BranchMispredicted  bool
	BranchType          BranchType
	BranchTarget        uint64
	BranchPredictedTarget uint64

	ASID request.ASID

	Translated, Fetched, Decoded, Scheduled, Executed, Completed, Retired bool

	// TranslationRequested / FetchRequested latch an ITLB/L1I request as
	// already in flight so fetch does not resubmit it every tick.
	TranslationRequested, FetchRequested bool

	NumRegOps, NumMemOps, NumRegDependent, OutstandingMemOps int

	DestinationRegisters [champsim.NumInstrDestinationsCloud]uint8
	SourceRegisters      [champsim.NumInstrSources]uint8

	RegistersInstrsDependOnMe []int // ROB indices
	MemoryInstrsDependOnMe    []int

	InstructionPA     uint64
	DestinationMemory [champsim.NumInstrDestinationsCloud]uint64
	SourceMemory      [champsim.NumInstrSources]uint64

	LQIndex [champsim.NumInstrSources]int
	SQIndex [champsim.NumInstrDestinationsCloud]int
}

// FromRecord builds an Instr from a decoded trace record, assigning cpu
// as both ASID components (matching the non-cloudsuite ooo_model_instr
// constructor; cloudsuite ASID plumbing is a Non-goal per spec.md).
func FromRecord(cpu int, rec trace.Record, instrID uint64) Instr {
	in := Instr{
		InstrID:     instrID,
		IP:          rec.IP,
		IsBranch:    rec.IsBranch,
		BranchTaken: rec.BranchTaken,
		BranchTarget: rec.BranchTarget,
		ASID:        request.ASID{uint8(cpu), uint8(cpu)},
		EventCycle:  waitable.Sentinel,
	}
	copy(in.DestinationRegisters[:], rec.DestinationRegisters[:])
	copy(in.SourceRegisters[:], rec.SourceRegisters[:])
	copy(in.DestinationMemory[:], rec.DestinationMemory[:])
	copy(in.SourceMemory[:], rec.SourceMemory[:])
	for i := range in.LQIndex {
		in.LQIndex[i] = -1
	}
	for i := range in.SQIndex {
		in.SQIndex[i] = -1
	}
	return in
}

// Classify determines the instruction's branch type, sets is_branch /
// branch_taken / num_reg_ops / num_mem_ops accordingly, clears an
// untaken branch's target, and applies stack-pointer folding — all in
// one pass over the (fixed) register id arrays, exactly as
// init_instruction does once per fetched instruction.
func (in *Instr) Classify() {
	var readsSP, writesSP, readsFlags, readsIP, writesIP, readsOther bool

	for i := range in.DestinationRegisters {
		switch in.DestinationRegisters[i] {
		case 0:
		case champsim.RegStackPointer:
			writesSP = true
		case champsim.RegInstructionPointer:
			writesIP = true
		}
		if in.DestinationRegisters[i] != 0 {
			in.NumRegOps++
		}
		if in.DestinationMemory[i] != 0 {
			in.NumMemOps++
		}
	}

	for i := range in.SourceRegisters {
		switch in.SourceRegisters[i] {
		case 0:
		case champsim.RegStackPointer:
			readsSP = true
		case champsim.RegFlags:
			readsFlags = true
		case champsim.RegInstructionPointer:
			readsIP = true
		default:
			readsOther = true
		}
		if in.SourceRegisters[i] != 0 {
			in.NumRegOps++
		}
		if in.SourceMemory[i] != 0 {
			in.NumMemOps++
		}
	}

	if in.NumMemOps > 0 {
		in.IsMemory = true
	}

	switch {
	case !readsSP && !readsFlags && writesIP && !readsOther:
		in.IsBranch, in.BranchTaken, in.BranchType = true, true, DirectJump
	case !readsSP && !readsFlags && writesIP && readsOther:
		in.IsBranch, in.BranchTaken, in.BranchType = true, true, Indirect
	case !readsSP && readsIP && !writesSP && writesIP && readsFlags && !readsOther:
		in.IsBranch, in.BranchType = true, Conditional
	case readsSP && readsIP && writesSP && writesIP && !readsFlags && !readsOther:
		in.IsBranch, in.BranchTaken, in.BranchType = true, true, DirectCall
	case readsSP && readsIP && writesSP && writesIP && !readsFlags && readsOther:
		in.IsBranch, in.BranchTaken, in.BranchType = true, true, IndirectCall
	case readsSP && !readsIP && writesSP && writesIP:
		in.IsBranch, in.BranchTaken, in.BranchType = true, true, Return
	case writesIP:
		in.IsBranch, in.BranchType = true, OtherBranch
	}

	if !in.IsBranch || !in.BranchTaken {
		in.BranchTarget = 0
	}

	if writesSP && (in.IsBranch || in.NumMemOps > 0) {
		for i := range in.DestinationRegisters {
			if in.DestinationRegisters[i] == champsim.RegStackPointer {
				in.DestinationRegisters[i] = 0
				in.NumRegOps--
			}
		}
	}
}
