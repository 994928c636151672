// Package shire tracks the per-shire state machine
// (Idle -> Running -> {Complete, Error} -> Idle) and the kernel id each
// running shire is currently executing, grounded on
// kernel/threads/supervisor/flow_control.go's map-plus-RWMutex-plus-atomic-
// subfield shape and on the firmware's update_shire_state/
// all_shires_ready/all_shires_complete.
package shire

import (
	"fmt"
	"sync"
)

type State uint8

const (
	Idle State = iota
	Running
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates the only state changes UpdateState accepts;
// anything else is a programming error in the caller, not a runtime
// condition to recover from.
var legalTransitions = map[State][]State{
	Idle:     {Running},
	Running:  {Complete, Error},
	Complete: {Idle},
	Error:    {Idle},
}

type record struct {
	mu       sync.RWMutex
	state    State
	kernelID uint32
	hasKID   bool
}

// Tracker owns the state and current kernel id of every shire in the chip.
type Tracker struct {
	shires []record
}

func NewTracker(numShires int) *Tracker {
	return &Tracker{shires: make([]record, numShires)}
}

// UpdateState transitions shire to next, returning an error if the
// transition is not in the legal graph.
func (t *Tracker) UpdateState(shireIdx int, next State) error {
	r := &t.shires[shireIdx]
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, allowed := range legalTransitions[r.state] {
		if allowed == next {
			r.state = next
			if next == Idle {
				r.hasKID = false
			}
			return nil
		}
	}
	return fmt.Errorf("shire %d: illegal transition %s -> %s", shireIdx, r.state, next)
}

func (t *Tracker) State(shireIdx int) State {
	r := &t.shires[shireIdx]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetKernelID records which kernel slot shireIdx is currently executing.
func (t *Tracker) SetKernelID(shireIdx int, kernelID uint32) {
	r := &t.shires[shireIdx]
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernelID = kernelID
	r.hasKID = true
}

func (t *Tracker) GetKernelID(shireIdx int) (uint32, bool) {
	r := &t.shires[shireIdx]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kernelID, r.hasKID
}

// AllShiresReady reports whether every shire named in mask is Idle (free to
// accept a new kernel launch).
func (t *Tracker) AllShiresReady(mask uint64) bool {
	for i := range t.shires {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if t.State(i) != Idle {
			return false
		}
	}
	return true
}

// AllShiresComplete reports whether every shire named in mask has finished
// (Complete or Error). It also returns true if any shire errored, so the
// caller can apply the "any shire in Error -> kernel result Error" rule.
func (t *Tracker) AllShiresComplete(mask uint64) (done bool, anyError bool) {
	done = true
	for i := range t.shires {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		switch t.State(i) {
		case Complete:
		case Error:
			anyError = true
		default:
			done = false
		}
	}
	return done, anyError
}
