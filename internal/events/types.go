package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypeStreamingChanged
	TypeVideoRunningChanged
	TypeRecordingChanged
	TypeRecordingFinalized
	TypeFilesEvicted
	TypeUserMessage
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is published on every controller state transition.
type StateChangedEvent struct {
	From      string    `json:"from" msgpack:"from"`
	To        string    `json:"to" msgpack:"to"`
	URI       string    `json:"uri" msgpack:"uri"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// StreamingChangedEvent reports the graph entering or leaving the playing state.
type StreamingChangedEvent struct {
	Streaming bool      `json:"streaming" msgpack:"streaming"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for StreamingChangedEvent.
func (e StreamingChangedEvent) Type() uint32 { return TypeStreamingChanged }

// VideoRunningChangedEvent reports the freshness monitor's view of the stream.
type VideoRunningChangedEvent struct {
	Running   bool      `json:"running" msgpack:"running"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for VideoRunningChangedEvent.
func (e VideoRunningChangedEvent) Type() uint32 { return TypeVideoRunningChanged }

// RecordingChangedEvent reports recording becoming active or inactive.
type RecordingChangedEvent struct {
	Recording bool      `json:"recording" msgpack:"recording"`
	ID        string    `json:"id" msgpack:"id"`
	Location  string    `json:"location" msgpack:"location"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for RecordingChangedEvent.
func (e RecordingChangedEvent) Type() uint32 { return TypeRecordingChanged }

// RecordingFinalizedEvent is published once a recording's drain finished.
// Clean is false when the drain ended in an error or was forced.
type RecordingFinalizedEvent struct {
	ID        string        `json:"id" msgpack:"id"`
	Location  string        `json:"location" msgpack:"location"`
	Duration  time.Duration `json:"duration" msgpack:"duration"`
	Clean     bool          `json:"clean" msgpack:"clean"`
	Timestamp time.Time     `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for RecordingFinalizedEvent.
func (e RecordingFinalizedEvent) Type() uint32 { return TypeRecordingFinalized }

// FilesEvictedEvent is published when retention deleted recordings.
type FilesEvictedEvent struct {
	Paths     []string  `json:"paths" msgpack:"paths"`
	Bytes     int64     `json:"bytes" msgpack:"bytes"`
	Remaining int64     `json:"remaining" msgpack:"remaining"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for FilesEvictedEvent.
func (e FilesEvictedEvent) Type() uint32 { return TypeFilesEvicted }

// UserMessageEvent carries a one-line message meant for the operator, such as
// an invalid recording configuration.
type UserMessageEvent struct {
	Message   string    `json:"message" msgpack:"message"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Type returns the event type identifier for UserMessageEvent.
func (e UserMessageEvent) Type() uint32 { return TypeUserMessage }
