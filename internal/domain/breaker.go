package domain

import "time"

// BreakerState is the portfolio-wide safety mode. States are ordered by
// priority: when several limit conditions hold at once, the highest-priority
// state wins and a lower one never overrides it.
type BreakerState int

const (
	BreakerNormal BreakerState = iota
	BreakerReduce
	BreakerPause
	BreakerHalt
	BreakerEmergency
)

// String returns the state name used in logs, events, and persistence.
func (s BreakerState) String() string {
	switch s {
	case BreakerNormal:
		return "NORMAL"
	case BreakerReduce:
		return "REDUCE"
	case BreakerPause:
		return "PAUSE"
	case BreakerHalt:
		return "HALT"
	case BreakerEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// BreakerEvent is an immutable record of one state transition.
type BreakerEvent struct {
	ID     int64
	From   BreakerState
	To     BreakerState
	Reason string
	At     time.Time
}
