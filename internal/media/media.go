// Package media defines the contracts the receiver needs from a media framework.
//
// The controller never talks to GStreamer directly: it builds and drives graphs
// through these interfaces. Package gstreamer implements them on top of go-gst,
// package mediatest implements them in memory for tests.
package media

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLinkFailed is returned when two stages or pads cannot be linked.
	ErrLinkFailed = errors.New("media: link failed")
	// ErrNoPad is returned when a static or request pad is not available.
	ErrNoPad = errors.New("media: pad not available")
	// ErrStateChange is returned when a state transition fails.
	ErrStateChange = errors.New("media: state change failed")
	// ErrNoBus is returned when a pipeline cannot hand out its bus.
	ErrNoBus = errors.New("media: bus not available")
)

// State mirrors the four element states of a media graph.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MessageType identifies a bus notification. Values are bit flags so they can be
// combined into a filter.
type MessageType uint

const (
	MessageEOS MessageType = 1 << iota
	MessageError
	MessageStateChanged
)

// MessageTerminal matches the two notifications that end a graph's life.
const MessageTerminal = MessageEOS | MessageError

// MessageAll matches every notification the receiver cares about.
const MessageAll = MessageEOS | MessageError | MessageStateChanged

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageStateChanged:
		return "state-changed"
	default:
		return fmt.Sprintf("message(%d)", uint(t))
	}
}

// Message is a bus notification copied out of the framework.
type Message struct {
	Type MessageType
	// Source is the name of the element or pipeline that posted the message.
	Source string

	// Set for MessageError.
	Err      error
	Debug    string
	Category ErrorCategory

	// Set for MessageStateChanged.
	OldState State
	NewState State
}

// Caps is an opaque, parsed capability description.
type Caps interface {
	String() string
}

// Pad is a connection point on an element.
type Pad interface {
	Name() string
	Link(sink Pad) error
	Unlink(sink Pad) error
	// AddIdleProbe installs a one-shot probe that calls fn once no data is in
	// flight through the pad. The pad stays blocked after fn returns until it is
	// unlinked or released, so the caller can restructure the graph safely. fn may
	// run on a framework thread, or synchronously when the pad is already idle.
	AddIdleProbe(fn func())
	// SendEOS injects an end-of-stream event at this pad.
	SendEOS() bool
}

// Element is one stage of a graph.
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value any) error
	Property(name string) (any, error)
	SetState(state State) error
	SyncStateWithParent() error
	StaticPad(name string) Pad
	RequestPad(template string) Pad
	ReleaseRequestPad(pad Pad)
	Link(dst Element) error
	// OnPadAdded registers fn for pads the element creates at runtime.
	OnPadAdded(fn func(pad Pad))
	// Release drops the caller's reference. An element owned by a pipeline is
	// released by the pipeline.
	Release()
}

// Bus delivers notifications posted by a pipeline.
type Bus interface {
	// Pop waits up to timeout for a message matching filter. It returns nil on
	// timeout. A negative timeout waits forever.
	Pop(timeout time.Duration, filter MessageType) *Message
	Close()
}

// Pipeline is a top-level graph.
type Pipeline interface {
	Name() string
	Add(elements ...Element) error
	Remove(elements ...Element) error
	SetState(state State) error
	CurrentState() State
	// SendEOS injects an end-of-stream event at every source of the graph.
	SendEOS() bool
	Bus() (Bus, error)
	// Release destroys the pipeline together with every element it still owns.
	Release()
}

// Framework creates graphs and stages.
type Framework interface {
	NewPipeline(name string) (Pipeline, error)
	NewElement(factory, name string) (Element, error)
	ParseCaps(caps string) (Caps, error)
	// NewFrameSink creates a terminal stage that hands every decoded frame to fn.
	NewFrameSink(name string, fn func(Frame)) (Element, error)
}

// Frame is a decoded sample delivered by a frame sink.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// LinkMany links each element to the next one in order.
func LinkMany(elements ...Element) error {
	for i := 0; i+1 < len(elements); i++ {
		if err := elements[i].Link(elements[i+1]); err != nil {
			return fmt.Errorf("%s -> %s: %w", elements[i].Name(), elements[i+1].Name(), err)
		}
	}
	return nil
}
