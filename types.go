package videoreceiver

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/source"
)

// State is the lifecycle state of the receiver.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// States lists every state, in lifecycle order.
var States = []State{StateIdle, StateStarting, StateRunning, StateStopping}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Surface is the destination for decoded frames.
//
// The sink is added to every graph the receiver builds and detached again
// before the graph is released, so one sink serves many restarts.
type Surface interface {
	Sink() media.Element
	// LastFrame returns when the last decoded frame arrived.
	LastFrame() time.Time
	// SetLastFrame resets the freshness clock.
	SetLastFrame(t time.Time)
}

// Settings supplies the recording and freshness settings. Values are read on
// every use, so an implementation may change them at any time.
type Settings interface {
	StorageLimitEnabled() bool
	MaxVideoSizeMB() int
	RecordingFormat() int
	SavePath() string
	// RTSPTimeout is the freshness limit; zero disables stall detection.
	RTSPTimeout() time.Duration
}

// SourceSelector is a cyclic cursor over the selectable stream sources.
type SourceSelector interface {
	Current() (source.Node, bool)
	SelectNext()
	SelectPrevious()
}

// Options configures a Receiver.
type Options struct {
	// Framework creates every graph and stage. Required.
	Framework media.Framework
	// Surface receives decoded frames. Start fails with ErrNoSurface without one.
	Surface Surface
	// Settings defaults to the built-in configuration defaults.
	Settings Settings
	// Selector is optional; without one SwitchSource, Next and Previous do nothing.
	Selector SourceSelector
	// Events receives state notifications. Optional.
	Events *events.Bus

	// URI and Latency describe the initial endpoint. An empty URI leaves the
	// receiver without one until SetURI.
	URI     string
	Latency time.Duration // expected network latency (default: 20ms)

	Probe  probe.Config // reachability probe timing
	Dialer probe.Dialer // nil uses net.Dialer

	StopTimeout    time.Duration // bound on waiting for end-of-stream (default: 10s)
	HealthInterval time.Duration // health monitor cadence (default: 1s)
}

// Status is a point-in-time view of the receiver, safe to read from any goroutine.
type Status struct {
	State        State
	URI          string
	Streaming    bool
	Recording    bool
	VideoRunning bool
	// Location of the active recording, empty when not recording.
	Location string
}
