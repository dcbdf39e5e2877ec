// Package health decides, once per tick, whether a stream has stalled and
// must be stopped or has dropped and must be restarted.
//
// The monitor holds only the active/inactive flag. The controller feeds it a
// snapshot and carries out the returned action on its own loop.
package health

import (
	"time"
)

// DefaultInterval is the monitor cadence.
const DefaultInterval = time.Second

// Action is what the controller should do after a tick.
type Action int

const (
	None Action = iota
	Stop
	Start
)

func (a Action) String() string {
	switch a {
	case Stop:
		return "stop"
	case Start:
		return "start"
	default:
		return "none"
	}
}

// Input is the controller snapshot for one tick.
type Input struct {
	Busy        bool // starting or stopping
	Idle        bool
	Streaming   bool
	HasEndpoint bool
	LastFrame   time.Time
	// Timeout is the freshness limit; zero disables stall detection.
	Timeout time.Duration
}

// Decision is the outcome of a tick.
type Decision struct {
	Action Action
	// BecameActive asks the controller to reset the surface's last-frame time
	// to the tick time.
	BecameActive   bool
	BecameInactive bool
	// FrameAge is the time since the last frame while active.
	FrameAge time.Duration
}

// Monitor tracks whether the stream is considered running.
type Monitor struct {
	active bool
}

// Active reports whether the last tick saw a streaming graph.
func (m *Monitor) Active() bool { return m.active }

// Reset forgets the active flag, e.g. after a teardown.
func (m *Monitor) Reset() { m.active = false }

// Tick evaluates one snapshot.
//
// This method:
//  1. Skips entirely while the controller is starting or stopping
//  2. Follows the graph's streaming flag into active / inactive
//  3. Active: asks for Stop when no frame arrived within Timeout
//  4. Inactive: asks for Start when idle with an endpoint configured
func (m *Monitor) Tick(now time.Time, in Input) Decision {
	var d Decision
	if in.Busy {
		return d
	}

	if in.Streaming {
		if !m.active {
			m.active = true
			d.BecameActive = true
			in.LastFrame = now
		}
	} else if m.active {
		m.active = false
		d.BecameInactive = true
	}

	if m.active {
		d.FrameAge = now.Sub(in.LastFrame)
		if in.Timeout > 0 && d.FrameAge > in.Timeout {
			d.Action = Stop
		}
		return d
	}

	if in.Idle && in.HasEndpoint {
		d.Action = Start
	}
	return d
}
