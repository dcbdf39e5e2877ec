// Package events broadcasts receiver notifications to in-process subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// Delivery is asynchronous: handlers run on the dispatcher's goroutines.
type Bus struct {
	dispatcher *event.Dispatcher
	closeOnce  sync.Once
	closed     atomic.Bool
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. A nil bus drops the event.
// Usage: bus.Publish(RecordingChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case StateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamingChangedEvent:
		event.Publish(b.dispatcher, e)
	case VideoRunningChangedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingChangedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingFinalizedEvent:
		event.Publish(b.dispatcher, e)
	case FilesEvictedEvent:
		event.Publish(b.dispatcher, e)
	case UserMessageEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e StateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b.closed.Load() {
		return func() {}
	}
	switch h := handler.(type) {
	case func(StateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamingChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(VideoRunningChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingFinalizedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FilesEvictedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(UserMessageEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Close stops the dispatcher goroutines. Unsubscribing alone leaves them
// running. Subscribing to a closed bus is a no-op.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		_ = b.dispatcher.Close()
	})
}
