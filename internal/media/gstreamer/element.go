package gstreamer

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

type element struct {
	e       *gst.Element
	factory string
	logger  *slog.Logger
}

func (el *element) Name() string    { return el.e.GetName() }
func (el *element) Factory() string { return el.factory }

// SetProperty converts parsed caps back to their go-gst form before setting.
func (el *element) SetProperty(name string, value any) error {
	if c, ok := value.(capsValue); ok {
		value = c.c
	}
	if err := el.e.SetProperty(name, value); err != nil {
		return fmt.Errorf("set %s.%s: %w", el.Name(), name, err)
	}
	return nil
}

// Property returns structure-valued properties (jitter buffer stats) as maps.
func (el *element) Property(name string) (any, error) {
	v, err := el.e.GetProperty(name)
	if err != nil {
		return nil, fmt.Errorf("get %s.%s: %w", el.Name(), name, err)
	}
	if s, ok := v.(*gst.Structure); ok && s != nil {
		return s.Values(), nil
	}
	return v, nil
}

func (el *element) SetState(state media.State) error {
	if err := el.e.SetState(toGstState(state)); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrStateChange, el.Name(), state, err)
	}
	return nil
}

func (el *element) SyncStateWithParent() error {
	if !el.e.SyncStateWithParent() {
		return fmt.Errorf("%w: %s could not sync with parent", media.ErrStateChange, el.Name())
	}
	return nil
}

func (el *element) StaticPad(name string) media.Pad {
	p := el.e.GetStaticPad(name)
	if p == nil {
		return nil
	}
	return &pad{p: p, logger: el.logger}
}

func (el *element) RequestPad(template string) media.Pad {
	p := el.e.GetRequestPad(template)
	if p == nil {
		return nil
	}
	return &pad{p: p, logger: el.logger}
}

func (el *element) ReleaseRequestPad(p media.Pad) {
	gp, ok := p.(*pad)
	if !ok {
		return
	}
	el.e.ReleaseRequestPad(gp.p)
}

func (el *element) Link(dst media.Element) error {
	d, err := unwrap(dst)
	if err != nil {
		return err
	}
	if err := el.e.Link(d); err != nil {
		return fmt.Errorf("%w: %v", media.ErrLinkFailed, err)
	}
	return nil
}

// OnPadAdded connects fn to the element's pad-added signal. fn runs on a
// GStreamer streaming thread.
func (el *element) OnPadAdded(fn func(media.Pad)) {
	_, err := el.e.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		el.logger.Debug("gstreamer: pad-added signal received",
			"element", self.GetName(),
			"pad", srcPad.GetName(),
		)
		fn(&pad{p: srcPad, logger: el.logger})
	})
	if err != nil {
		el.logger.Error("gstreamer: failed to connect pad-added",
			"element", el.Name(),
			"error", err,
		)
	}
}

// Release forces the element to NULL. The GObject reference itself is dropped
// by go-gst's finalizer once nothing holds the wrapper.
func (el *element) Release() {
	el.e.SetState(gst.StateNull)
}

type pad struct {
	p      *gst.Pad
	logger *slog.Logger
}

func (p *pad) Name() string { return p.p.GetName() }

func (p *pad) Link(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok {
		return media.ErrLinkFailed
	}
	if ret := p.p.Link(s.p); ret != gst.PadLinkOK {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrLinkFailed, p.Name(), s.Name(), ret)
	}
	return nil
}

func (p *pad) Unlink(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok || !p.p.Unlink(s.p) {
		return media.ErrLinkFailed
	}
	return nil
}

// AddIdleProbe keeps the probe installed after fn returns, so the pad stays
// blocked until the caller releases it.
func (p *pad) AddIdleProbe(fn func()) {
	p.p.AddProbe(gst.PadProbeTypeIdle, func(*gst.Pad, *gst.PadProbeInfo) gst.PadProbeReturn {
		fn()
		return gst.PadProbeOK
	})
}

func (p *pad) SendEOS() bool {
	return p.p.SendEvent(gst.NewEOSEvent())
}
