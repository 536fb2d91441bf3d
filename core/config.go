// Package core implements the out-of-order pipeline of spec.md §4.1: a
// trace-driven fetch/decode/dispatch/schedule/execute/retire loop with
// register and memory dependency tracking, load/store queues, a DIB,
// and branch-predictor/BTB hook dispatch. Grounded in stage shape on
// src/ooo_cpu.cc's operate() (the per-cycle call sequence) and on
// timing/pipeline's buffer-to-buffer staging idiom from the teacher.
package core

import "github.com/sarchlab/champsim/instr"

// Config bundles an O3 core's width/size/latency parameters, mirroring
// the constructor arguments O3_CPU takes from the YAML configuration.
type Config struct {
	CPU int

	FetchWidth    int
	DecodeWidth   int
	DispatchWidth int
	ScheduleWidth int // scheduler_size: ROB positions scanned per tick
	ExecWidth     int
	LQWidth       int
	SQWidth       int
	RetireWidth   int

	FetchBufferSize    int
	DecodeBufferSize   int
	DispatchBufferSize int
	ROBSize            int
	LQSize             int
	SQSize             int

	ExecLatency       uint64
	MispredictPenalty uint64
	DeadlockCycles    uint64

	Log2BlockSize uint
	Log2PageSize  uint

	DIBSets      int
	DIBWays      int
	DIBLog2Window uint

	Warmup func() bool
}

// Predictor is the direction-prediction hook contract: a capability set
// per spec.md §9 "polymorphism over modules" distilled to the one
// operation the core depends on plus its training callback.
type Predictor interface {
	Predict(ip uint64, branchType instr.BranchType) (taken bool)
	Update(ip uint64, branchType instr.BranchType, taken bool)
}

// BTB is the branch-target-buffer hook contract: predicts a taken
// branch's destination and is trained once the real outcome is known.
type BTB interface {
	Predict(ip uint64, branchType instr.BranchType) (target uint64, knownTaken bool)
	Update(ip uint64, target uint64, branchType instr.BranchType, taken bool)
}

// NopPredictor always predicts not-taken, a safe default for
// configurations that omit a predictor module.
type NopPredictor struct{}

func (NopPredictor) Predict(uint64, instr.BranchType) bool       { return false }
func (NopPredictor) Update(uint64, instr.BranchType, bool)       {}

// NopBTB never predicts a target, forcing every taken branch through
// the misprediction-recovery path until the trace's own back-filled
// target resolves it at execute.
type NopBTB struct{}

func (NopBTB) Predict(uint64, instr.BranchType) (uint64, bool) { return 0, false }
func (NopBTB) Update(uint64, uint64, instr.BranchType, bool)   {}
