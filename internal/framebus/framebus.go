// Package framebus provides non-blocking frame distribution to consumers of
// decoded video.
//
// Core Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Subscribers choose a drop policy:
//   - DropNew: channel buffer full → the incoming frame is dropped for that subscriber
//   - DropOld: a single slot always holds the latest frame
//
// Usage:
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	ch := make(chan framebus.Frame, 5)
//	bus.Subscribe("overlay", ch)
//
//	latest, _ := bus.SubscribeDropOld("snapshot")
//	frame, ok := latest.TryReceive()
package framebus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

// DropPolicy defines how the bus handles frames when a subscriber cannot keep up.
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Frame is a decoded frame as delivered to subscribers.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Sequence  uint64
	TraceID   string
	Timestamp time.Time
}

// Receiver gives blocking and non-blocking access to a DropOld subscription.
type Receiver interface {
	Receive() (Frame, bool)
	TryReceive() (Frame, bool)
	Close()
}

// SubscriberStats tracks frame distribution for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats is a snapshot of the whole bus.
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// DropRate returns dropped / (sent + dropped), 0 when nothing was delivered.
func (s BusStats) DropRate() float64 {
	total := s.TotalSent + s.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(s.TotalDropped) / float64(total)
}

type subscriber struct {
	policy  DropPolicy
	sent    atomic.Uint64
	dropped atomic.Uint64

	ch     chan<- Frame  // DropNew
	latest *latestHolder // DropOld
}

// Bus distributes frames to subscribers. Publish never blocks.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a channel with the DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{policy: DropNew, ch: ch})
}

// SubscribeDropOld registers a latest-frame-only subscriber.
func (b *Bus) SubscribeDropOld(id string) (Receiver, error) {
	h := newLatestHolder()
	if err := b.add(id, &subscriber{policy: DropOld, latest: h}); err != nil {
		return nil, err
	}
	return h, nil
}

func (b *Bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Publish hands frame to every subscriber without blocking.
func (b *Bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case DropOld:
			if s.latest.set(frame) == nil {
				s.sent.Add(1)
			}
		}
	}
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of the distribution counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := BusStats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		out.Subscribers[id] = st
		out.TotalSent += st.Sent
		out.TotalDropped += st.Dropped
	}
	return out
}

// Close shuts the bus down and closes every DropOld receiver.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// latestHolder implements Receiver for the DropOld policy.
type latestHolder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newLatestHolder() *latestHolder {
	h := &latestHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *latestHolder) set(frame Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrReceiverClosed
	}
	h.frame = &frame
	h.cond.Broadcast()
	return nil
}

// Receive blocks until a frame is available. ok is false once closed.
func (h *latestHolder) Receive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.frame == nil && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Frame{}, false
	}
	f := *h.frame
	h.frame = nil
	return f, true
}

// TryReceive returns the latest frame without blocking.
func (h *latestHolder) TryReceive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frame == nil {
		return Frame{}, false
	}
	f := *h.frame
	h.frame = nil
	return f, true
}

func (h *latestHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}
