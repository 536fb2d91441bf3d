// Package clock implements the virtual clock and the uniform "operable"
// contract described in spec.md §2 and §5: a global discrete-event loop
// advances time in picosecond increments and, at each tick, invokes
// Operate on every component whose period has elapsed since it last ran.
// There is no parallelism; correctness depends entirely on the fixed
// topological order components are registered in.
package clock

import "log/slog"

// Time is a virtual-clock timestamp in picoseconds.
type Time uint64

// Operable is the uniform contract every timed component implements.
// Operate is invoked once per the component's own Period; it must return
// whether it made forward progress this invocation (used for deadlock
// detection, not for correctness of the simulation itself).
type Operable interface {
	// Operate advances the component by one of its own cycles.
	Operate(now Time) (progress bool)
	// Period returns this component's clock period in picoseconds.
	Period() Time
	// Name identifies the component in logs and deadlock dumps.
	Name() string
}

// registration pairs an Operable with the last time it was ticked.
type registration struct {
	op       Operable
	lastTick Time
	lastHead Time // time the component last reported not-stuck (for deadlock)
}

// Engine drives a fixed, topologically-ordered list of Operables. The
// order components are added in is the order they are invoked within a
// tick, matching spec.md §5: core first, then L1 caches, then private
// lower levels, then shared LLC, then DRAM.
type Engine struct {
	now     Time
	members []*registration
}

// NewEngine creates an empty Engine starting at time zero.
func NewEngine() *Engine {
	return &Engine{}
}

// Add registers an Operable. Registration order is invocation order.
func (e *Engine) Add(op Operable) {
	e.members = append(e.members, &registration{op: op})
}

// Now returns the current virtual time.
func (e *Engine) Now() Time {
	return e.now
}

// Step advances the virtual clock by one picosecond and invokes Operate
// on every registered component whose period has elapsed. It returns the
// set of components that made no progress this step (for deadlock
// bookkeeping by the caller, which knows the per-buffer thresholds).
func (e *Engine) Step() []Operable {
	e.now++
	var stalled []Operable
	for _, reg := range e.members {
		period := reg.op.Period()
		if period == 0 {
			period = 1
		}
		if e.now-reg.lastTick < period {
			continue
		}
		reg.lastTick = e.now
		progress := reg.op.Operate(e.now)
		if progress {
			reg.lastHead = e.now
		} else {
			stalled = append(stalled, reg.op)
		}
	}
	return stalled
}

// Run steps the engine until shouldStop returns true, logging a debug
// line every logInterval cycles if nonzero.
func (e *Engine) Run(shouldStop func() bool, logInterval Time) {
	for !shouldStop() {
		e.Step()
		if logInterval != 0 && e.now%logInterval == 0 {
			slog.Debug("clock: tick", "now", e.now)
		}
	}
}
