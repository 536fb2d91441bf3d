// Package bandwidth implements the per-tick allowance tracker spec.md §5
// describes ("Each stage decrements a per-tick allowance. Exhausting it
// halts further work in that stage for that tick") and the corresponding
// §7 error kind ("Bandwidth exceeded: consuming more bandwidth than a
// per-tick allowance. Raised — indicates a caller bug").
package bandwidth

import "fmt"

// ExceededError is raised when a caller consumes bandwidth beyond the
// tracker's remaining allowance; this always indicates a programming
// error in the caller; it is never triggered by legitimate contention.
type ExceededError struct {
	Name      string
	Remaining int
	Requested int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("bandwidth: %s exceeded: %d remaining, %d requested", e.Name, e.Remaining, e.Requested)
}

// Tracker is a simple per-tick consumable allowance, reset once per cycle
// by the owning component.
type Tracker struct {
	Name      string
	limit     int
	remaining int
}

// New creates a Tracker with the given per-tick limit.
func New(name string, limit int) *Tracker {
	return &Tracker{Name: name, limit: limit, remaining: limit}
}

// Reset restores the tracker to its full per-tick allowance. Call once at
// the start of every tick that uses this bandwidth pool.
func (t *Tracker) Reset() {
	t.remaining = t.limit
}

// HasRemaining reports whether at least one unit of bandwidth remains.
func (t *Tracker) HasRemaining() bool {
	return t.remaining > 0
}

// Remaining returns the unconsumed allowance for this tick.
func (t *Tracker) Remaining() int {
	return t.remaining
}

// Limit returns the configured per-tick allowance.
func (t *Tracker) Limit() int {
	return t.limit
}

// Consume decrements the allowance by one unit. It panics via
// ExceededError if the tracker was already exhausted, since callers are
// required to check HasRemaining first.
func (t *Tracker) Consume() {
	if t.remaining <= 0 {
		panic(&ExceededError{Name: t.Name, Remaining: t.remaining, Requested: 1})
	}
	t.remaining--
}

// TryConsume consumes one unit of bandwidth if available, reporting
// whether it succeeded, without panicking. Stages that treat bandwidth
// exhaustion as an ordinary "stop working this tick" condition (rather
// than a caller bug) should use this instead of Consume.
func (t *Tracker) TryConsume() bool {
	if t.remaining <= 0 {
		return false
	}
	t.remaining--
	return true
}
