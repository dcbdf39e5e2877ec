package mediatest

import (
	"fmt"
	"os"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// Element is a fake media.Element.
type Element struct {
	fw      *Framework
	name    string
	factory string

	mu        sync.Mutex
	props     map[string]any
	state     media.State
	parent    *Pipeline
	pads      map[string]*Pad
	order     []*Pad
	requested int
	padAdded  []func(media.Pad)
	released  int
	file      *os.File
	finalized bool
	frameFn   func(media.Frame)
}

func newElement(fw *Framework, factory, name string) *Element {
	return &Element{
		fw:      fw,
		name:    name,
		factory: factory,
		props:   make(map[string]any),
		pads:    make(map[string]*Pad),
	}
}

func (e *Element) Name() string    { return e.name }
func (e *Element) Factory() string { return e.factory }

func (e *Element) SetProperty(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[name] = value
	return nil
}

func (e *Element) Property(name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	if !ok {
		return nil, fmt.Errorf("mediatest: %s has no property %q", e.name, name)
	}
	return v, nil
}

func (e *Element) SetState(state media.State) error {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	if e.factory != "filesink" {
		return nil
	}
	if state >= media.StatePaused {
		if err := openFile(e); err != nil {
			return fmt.Errorf("%w: %v", media.ErrStateChange, err)
		}
		return nil
	}
	e.closeFile()
	return nil
}

func (e *Element) SyncStateWithParent() error {
	e.mu.Lock()
	parent := e.parent
	e.mu.Unlock()
	if parent == nil {
		return fmt.Errorf("%w: %s has no parent", media.ErrStateChange, e.name)
	}
	return e.SetState(parent.CurrentState())
}

func (e *Element) StaticPad(name string) media.Pad {
	if name != "src" && name != "sink" {
		return nil
	}
	return e.pad(name)
}

func (e *Element) RequestPad(template string) media.Pad {
	if e.factory != "tee" {
		return nil
	}
	e.mu.Lock()
	name := fmt.Sprintf("src_%d", e.requested)
	e.requested++
	e.mu.Unlock()
	return e.pad(name)
}

func (e *Element) ReleaseRequestPad(pad media.Pad) {
	p, ok := pad.(*Pad)
	if !ok || p.owner != e {
		return
	}
	p.unlinkPeer()
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pads, p.name)
	for i, q := range e.order {
		if q == p {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

func (e *Element) Link(dst media.Element) error {
	d, ok := dst.(*Element)
	if !ok {
		return media.ErrLinkFailed
	}
	e.mu.Lock()
	parent := e.parent
	e.mu.Unlock()
	d.mu.Lock()
	dparent := d.parent
	d.mu.Unlock()
	if parent == nil || parent != dparent {
		return fmt.Errorf("%w: %s and %s are not in the same pipeline", media.ErrLinkFailed, e.name, d.name)
	}

	var src media.Pad
	if e.factory == "tee" {
		src = e.RequestPad("src_%u")
	} else {
		src = e.pad("src")
	}
	return src.Link(d.pad("sink"))
}

func (e *Element) OnPadAdded(fn func(pad media.Pad)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.padAdded = append(e.padAdded, fn)
}

// Release drops the element. A file sink that never saw end-of-stream is closed
// without its trailer.
func (e *Element) Release() {
	e.mu.Lock()
	e.released++
	e.mu.Unlock()
	e.closeFile()
}

// EmitPadAdded creates a dynamic source pad and announces it.
func (e *Element) EmitPadAdded(name string) *Pad {
	p := e.pad(name)
	e.mu.Lock()
	fns := append([]func(media.Pad){}, e.padAdded...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
	return p
}

// PushFrame hands a frame to a frame sink.
func (e *Element) PushFrame(f media.Frame) {
	e.mu.Lock()
	fn := e.frameFn
	e.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// Prop returns a property value or nil.
func (e *Element) Prop(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[name]
}

// State returns the element's current state.
func (e *Element) State() media.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Released reports how many times Release was called.
func (e *Element) Released() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// Parent returns the pipeline that owns the element, or nil.
func (e *Element) Parent() *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parent
}

// Downstream returns the names of the elements this element's source pads feed.
func (e *Element) Downstream() []string {
	var out []string
	for _, p := range e.srcPads() {
		if peer := p.Peer(); peer != nil {
			out = append(out, peer.owner.name)
		}
	}
	return out
}

// RequestPads returns the request pads currently handed out by a tee.
func (e *Element) RequestPads() []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Pad
	for _, p := range e.order {
		if p.name != "src" && p.name != "sink" {
			out = append(out, p)
		}
	}
	return out
}

func (e *Element) pad(name string) *Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pads[name]; ok {
		return p
	}
	p := &Pad{owner: e, name: name}
	e.pads[name] = p
	e.order = append(e.order, p)
	return p
}

func (e *Element) srcPads() []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Pad
	for _, p := range e.order {
		if p.name != "sink" {
			out = append(out, p)
		}
	}
	return out
}

func (e *Element) hasUpstream() bool {
	e.mu.Lock()
	p := e.pads["sink"]
	e.mu.Unlock()
	return p != nil && p.Peer() != nil
}

func (e *Element) unlinkAll() {
	e.mu.Lock()
	pads := append([]*Pad(nil), e.order...)
	e.mu.Unlock()
	for _, p := range pads {
		p.unlinkPeer()
	}
}

func (e *Element) closeFile() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file != nil {
		_ = e.file.Close()
		e.file = nil
	}
}

// propagateEOS walks the linked stages from e and finalizes every file sink reached.
func propagateEOS(e *Element, seen map[*Element]bool) {
	if seen[e] {
		return
	}
	seen[e] = true
	if e.factory == "filesink" {
		finalizeFile(e)
	}
	for _, p := range e.srcPads() {
		if peer := p.Peer(); peer != nil {
			propagateEOS(peer.owner, seen)
		}
	}
}

// Pad is a fake media.Pad.
type Pad struct {
	owner *Element
	name  string

	mu       sync.Mutex
	peer     *Pad
	released bool
	probes   int
}

func (p *Pad) Name() string { return p.name }

// Owner returns the element the pad belongs to.
func (p *Pad) Owner() *Element { return p.owner }

// Peer returns the linked pad or nil.
func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// IsReleased reports whether a request pad was given back to its tee.
func (p *Pad) IsReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Probes reports how many idle probes were installed on the pad.
func (p *Pad) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *Pad) Link(sink media.Pad) error {
	s, ok := sink.(*Pad)
	if !ok || s == p {
		return media.ErrLinkFailed
	}
	if p.Peer() != nil || s.Peer() != nil {
		return fmt.Errorf("%w: %s.%s or %s.%s already linked", media.ErrLinkFailed,
			p.owner.name, p.name, s.owner.name, s.name)
	}
	p.mu.Lock()
	p.peer = s
	p.mu.Unlock()
	s.mu.Lock()
	s.peer = p
	s.mu.Unlock()
	return nil
}

func (p *Pad) Unlink(sink media.Pad) error {
	s, ok := sink.(*Pad)
	if !ok || p.Peer() != s {
		return media.ErrLinkFailed
	}
	p.unlinkPeer()
	return nil
}

func (p *Pad) AddIdleProbe(fn func()) {
	p.mu.Lock()
	p.probes++
	p.mu.Unlock()
	p.owner.fw.addProbe(fn)
}

func (p *Pad) SendEOS() bool {
	parent := p.owner.Parent()
	if parent == nil || parent.CurrentState() != media.StatePlaying {
		return false
	}
	propagateEOS(p.owner, make(map[*Element]bool))
	parent.answerEOS()
	return true
}

func (p *Pad) unlinkPeer() {
	p.mu.Lock()
	peer := p.peer
	p.peer = nil
	p.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		peer.peer = nil
		peer.mu.Unlock()
	}
}
