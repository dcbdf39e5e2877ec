// Package mediatest provides an in-memory media framework for tests.
//
// It follows the media contracts closely enough to exercise the controller:
// state changes post bus messages, end-of-stream travels along linked stages and
// finalizes file sinks, tees hand out request pads, and idle probes can be fired
// synchronously, asynchronously or by hand.
package mediatest

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// FinalizedTrailer is appended to a file sink's output when end-of-stream reaches it.
const FinalizedTrailer = "\n#finalized\n"

// EOSBehavior selects how a pipeline reacts to SendEOS.
type EOSBehavior int

const (
	// EOSPost posts end-of-stream on the bus once the event reached the sinks.
	EOSPost EOSBehavior = iota
	// EOSError posts an error instead.
	EOSError
	// EOSSilent never answers.
	EOSSilent
)

// ProbeMode selects when idle probe callbacks run.
type ProbeMode int

const (
	// ProbeAsync runs the callback on a separate goroutine, like a streaming thread.
	ProbeAsync ProbeMode = iota
	// ProbeSync runs the callback inside AddIdleProbe (pad already idle).
	ProbeSync
	// ProbeManual keeps callbacks pending until FireIdleProbes.
	ProbeManual
)

// Framework is a fake media.Framework. The zero value is not usable; call New.
type Framework struct {
	mu          sync.Mutex
	pipelines   []*Pipeline
	elements    []*Element
	failFactory map[string]bool
	failPlaying map[string]bool
	noBus       bool
	failCaps    bool
	eos         map[string]EOSBehavior
	probeMode   ProbeMode
	pending     []func()
}

// New returns an empty fake framework.
func New() *Framework {
	return &Framework{
		failFactory: make(map[string]bool),
		failPlaying: make(map[string]bool),
		eos:         make(map[string]EOSBehavior),
	}
}

// FailFactory makes NewElement fail for the given factory.
func (f *Framework) FailFactory(factory string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFactory[factory] = true
}

// FailPlaying makes pipelines with the given name refuse the playing state.
func (f *Framework) FailPlaying(pipeline string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPlaying[pipeline] = true
}

// SetNoBus makes Pipeline.Bus fail.
func (f *Framework) SetNoBus(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noBus = v
}

// SetFailCaps makes ParseCaps reject every caps string.
func (f *Framework) SetFailCaps(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCaps = v
}

// SetEOSBehavior changes how pipelines with the given name answer SendEOS.
func (f *Framework) SetEOSBehavior(pipeline string, b EOSBehavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eos[pipeline] = b
}

// SetProbeMode changes when idle probe callbacks run.
func (f *Framework) SetProbeMode(m ProbeMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeMode = m
}

// PendingProbes reports how many manual probes are waiting.
func (f *Framework) PendingProbes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// FireIdleProbes runs every pending manual probe concurrently and waits for all
// of them to return.
func (f *Framework) FireIdleProbes() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, fn := range pending {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			<-start
			fn()
		}(fn)
	}
	close(start)
	wg.Wait()
}

// Pipelines returns every pipeline created so far.
func (f *Framework) Pipelines() []*Pipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Pipeline(nil), f.pipelines...)
}

// PipelinesNamed returns the pipelines created with the given name.
func (f *Framework) PipelinesNamed(name string) []*Pipeline {
	var out []*Pipeline
	for _, p := range f.Pipelines() {
		if p.name == name {
			out = append(out, p)
		}
	}
	return out
}

// Elements returns every element created with the given factory.
func (f *Framework) Elements(factory string) []*Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Element
	for _, e := range f.elements {
		if e.factory == factory {
			out = append(out, e)
		}
	}
	return out
}

// NewPipeline implements media.Framework.
func (f *Framework) NewPipeline(name string) (media.Pipeline, error) {
	p := &Pipeline{fw: f, name: name, bus: newBus()}
	f.mu.Lock()
	f.pipelines = append(f.pipelines, p)
	f.mu.Unlock()
	return p, nil
}

// NewElement implements media.Framework.
func (f *Framework) NewElement(factory, name string) (media.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFactory[factory] {
		return nil, fmt.Errorf("mediatest: no such element factory %q", factory)
	}
	if name == "" {
		name = fmt.Sprintf("%s%d", factory, len(f.elements))
	}
	e := newElement(f, factory, name)
	f.elements = append(f.elements, e)
	return e, nil
}

// NewFrameSink implements media.Framework.
func (f *Framework) NewFrameSink(name string, fn func(media.Frame)) (media.Element, error) {
	el, err := f.NewElement("appsink", name)
	if err != nil {
		return nil, err
	}
	e := el.(*Element)
	e.frameFn = fn
	return e, nil
}

// ParseCaps implements media.Framework. Anything without a media type is malformed.
func (f *Framework) ParseCaps(caps string) (media.Caps, error) {
	f.mu.Lock()
	fail := f.failCaps
	f.mu.Unlock()

	head, _, _ := strings.Cut(caps, ",")
	if fail || !strings.Contains(head, "/") || strings.ContainsAny(head, " !") {
		return nil, fmt.Errorf("mediatest: malformed caps %q", caps)
	}
	return Caps(caps), nil
}

func (f *Framework) eosBehavior(pipeline string) EOSBehavior {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eos[pipeline]
}

func (f *Framework) playingFails(pipeline string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failPlaying[pipeline]
}

func (f *Framework) busDisabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noBus
}

func (f *Framework) addProbe(fn func()) {
	f.mu.Lock()
	mode := f.probeMode
	if mode == ProbeManual {
		f.pending = append(f.pending, fn)
	}
	f.mu.Unlock()

	switch mode {
	case ProbeSync:
		fn()
	case ProbeAsync:
		go fn()
	}
}

// Caps is the fake parsed caps.
type Caps string

func (c Caps) String() string { return string(c) }

// finalizeFile appends the trailer and closes the sink's file.
func finalizeFile(e *Element) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil || e.finalized {
		return
	}
	_, _ = e.file.WriteString(FinalizedTrailer)
	_ = e.file.Close()
	e.file = nil
	e.finalized = true
}

func openFile(e *Element) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file != nil || e.finalized {
		return nil
	}
	location, _ := e.props["location"].(string)
	if location == "" {
		return fmt.Errorf("mediatest: filesink %s has no location", e.name)
	}
	file, err := os.Create(location)
	if err != nil {
		return err
	}
	e.file = file
	return nil
}
