// Package lifecycle holds the process state machine shared by the app and the
// HTTP surface.
package lifecycle

import "sync/atomic"

// State is the process lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason describes why the process is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// Tracker holds the current State. Transitions only move forward.
type Tracker struct {
	v atomic.Int32
}

func (t *Tracker) Load() State { return State(t.v.Load()) }

// Advance moves to next if it is later than the current state and reports
// whether the transition happened.
func (t *Tracker) Advance(next State) bool {
	for {
		cur := t.v.Load()
		if int32(next) <= cur {
			return false
		}
		if t.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
