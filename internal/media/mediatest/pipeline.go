package mediatest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// Pipeline is a fake media.Pipeline.
type Pipeline struct {
	fw   *Framework
	name string
	bus  *Bus

	mu       sync.Mutex
	elements []*Element
	state    media.State
	released int
	eosSent  int
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Add(elements ...media.Element) error {
	for _, el := range elements {
		e, ok := el.(*Element)
		if !ok {
			return fmt.Errorf("mediatest: foreign element %T", el)
		}
		e.mu.Lock()
		if e.parent != nil {
			e.mu.Unlock()
			return fmt.Errorf("mediatest: %s already has a parent", e.name)
		}
		e.parent = p
		e.mu.Unlock()

		p.mu.Lock()
		p.elements = append(p.elements, e)
		p.mu.Unlock()
	}
	return nil
}

func (p *Pipeline) Remove(elements ...media.Element) error {
	for _, el := range elements {
		e, ok := el.(*Element)
		if !ok || e.Parent() != p {
			return fmt.Errorf("mediatest: %s is not in %s", el.Name(), p.name)
		}
		e.unlinkAll()
		e.mu.Lock()
		e.parent = nil
		e.mu.Unlock()

		p.mu.Lock()
		for i, x := range p.elements {
			if x == e {
				p.elements = append(p.elements[:i], p.elements[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}
	return nil
}

func (p *Pipeline) SetState(state media.State) error {
	if state == media.StatePlaying && p.fw.playingFails(p.name) {
		return fmt.Errorf("%w: %s refuses to play", media.ErrStateChange, p.name)
	}

	p.mu.Lock()
	old := p.state
	p.state = state
	elements := append([]*Element(nil), p.elements...)
	p.mu.Unlock()

	var errs []error
	for _, e := range elements {
		if err := e.SetState(state); err != nil {
			errs = append(errs, err)
		}
	}
	if old != state && state != media.StateNull {
		p.bus.post(media.Message{
			Type:     media.MessageStateChanged,
			Source:   p.name,
			OldState: old,
			NewState: state,
		})
	}
	return errors.Join(errs...)
}

func (p *Pipeline) CurrentState() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) SendEOS() bool {
	p.mu.Lock()
	p.eosSent++
	playing := p.state == media.StatePlaying
	elements := append([]*Element(nil), p.elements...)
	p.mu.Unlock()

	if !playing {
		return false
	}
	seen := make(map[*Element]bool)
	for _, e := range elements {
		if !e.hasUpstream() {
			propagateEOS(e, seen)
		}
	}
	p.answerEOS()
	return true
}

func (p *Pipeline) answerEOS() {
	switch p.fw.eosBehavior(p.name) {
	case EOSPost:
		p.bus.post(media.Message{Type: media.MessageEOS, Source: p.name})
	case EOSError:
		p.PostError("internal data stream error")
	}
}

func (p *Pipeline) Bus() (media.Bus, error) {
	if p.fw.busDisabled() {
		return nil, media.ErrNoBus
	}
	return p.bus, nil
}

func (p *Pipeline) Release() {
	p.mu.Lock()
	p.released++
	p.state = media.StateNull
	elements := p.elements
	p.elements = nil
	p.mu.Unlock()

	for _, e := range elements {
		e.mu.Lock()
		e.parent = nil
		e.mu.Unlock()
		e.Release()
	}
	p.bus.Close()
}

// PostError posts a runtime error on the pipeline's bus.
func (p *Pipeline) PostError(text string) {
	p.bus.post(media.Message{
		Type:     media.MessageError,
		Source:   p.name,
		Err:      errors.New(text),
		Category: media.ClassifyError(text, ""),
	})
}

// PostEOS posts an end-of-stream the controller did not ask for.
func (p *Pipeline) PostEOS() {
	p.bus.post(media.Message{Type: media.MessageEOS, Source: p.name})
}

// Released reports how many times Release was called.
func (p *Pipeline) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// EOSSent reports how many times SendEOS was called.
func (p *Pipeline) EOSSent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eosSent
}

// Contains reports whether e is owned by the pipeline.
func (p *Pipeline) Contains(e *Element) bool {
	return e.Parent() == p
}

// ElementNames lists the owned elements in insertion order.
func (p *Pipeline) ElementNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.elements))
	for _, e := range p.elements {
		out = append(out, e.name)
	}
	return out
}

// Bus is a fake media.Bus backed by a slice.
type Bus struct {
	mu     sync.Mutex
	msgs   []media.Message
	closed bool
	notify chan struct{}
}

func newBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

func (b *Bus) post(m media.Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Pop drops non-matching messages ahead of the first match, like a filtered
// timed pop does.
func (b *Bus) Pop(timeout time.Duration, filter media.MessageType) *media.Message {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil
		}
		for len(b.msgs) > 0 {
			m := b.msgs[0]
			b.msgs = b.msgs[1:]
			if m.Type&filter != 0 {
				b.mu.Unlock()
				return &m
			}
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-deadline:
			return nil
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.msgs = nil
}
