// Package gstreamer implements the media contracts on top of go-gst.
//
// Only this package imports GStreamer. Elements and pipelines are wrapped so
// the controller can drive them through the media interfaces; ownership of the
// underlying GObjects stays with go-gst's finalizers.
package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

var initOnce sync.Once

// Framework is the go-gst backed media.Framework.
type Framework struct {
	logger *slog.Logger
}

// New initializes GStreamer (once per process) and returns a framework.
func New() *Framework {
	initOnce.Do(func() { gst.Init(nil) })
	return &Framework{logger: logging.GetLogger("gstreamer")}
}

// Available checks that GStreamer is installed and can create elements.
//
// This is a fail-fast validation run by the composition root before the
// receiver is wired.
func Available() error {
	initOnce.Do(func() { gst.Init(nil) })

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// NewPipeline implements media.Framework.
func (f *Framework) NewPipeline(name string) (media.Pipeline, error) {
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline %q: %w", name, err)
	}
	return &pipeline{p: p, logger: f.logger}, nil
}

// NewElement implements media.Framework.
func (f *Framework) NewElement(factory, name string) (media.Element, error) {
	var (
		e   *gst.Element
		err error
	)
	if name == "" {
		e, err = gst.NewElement(factory)
	} else {
		e, err = gst.NewElementWithName(factory, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	return &element{e: e, factory: factory, logger: f.logger}, nil
}

// ParseCaps implements media.Framework.
func (f *Framework) ParseCaps(caps string) (media.Caps, error) {
	c := gst.NewCapsFromString(caps)
	if c == nil || c.Instance() == nil {
		return nil, errors.New("gstreamer: caps string could not be parsed")
	}
	return capsValue{c: c}, nil
}

type capsValue struct {
	c *gst.Caps
}

func (c capsValue) String() string { return c.c.String() }

func toGstState(s media.State) gst.State {
	switch s {
	case media.StateReady:
		return gst.StateReady
	case media.StatePaused:
		return gst.StatePaused
	case media.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) media.State {
	switch s {
	case gst.StateReady:
		return media.StateReady
	case gst.StatePaused:
		return media.StatePaused
	case gst.StatePlaying:
		return media.StatePlaying
	default:
		return media.StateNull
	}
}

// unwrap returns the go-gst element behind a media.Element created by this package.
func unwrap(el media.Element) (*gst.Element, error) {
	switch e := el.(type) {
	case *element:
		return e.e, nil
	case *frameSink:
		return e.e, nil
	default:
		return nil, fmt.Errorf("gstreamer: foreign element %T", el)
	}
}
