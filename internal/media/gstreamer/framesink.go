package gstreamer

import (
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// frameSink is an appsink that hands decoded samples to a Go callback.
type frameSink struct {
	*element
	sink *app.Sink
	fn   func(media.Frame)
}

// NewFrameSink implements media.Framework.
//
// The sink keeps only the latest buffer and never syncs against the clock:
// the surface cares about freshness, not presentation timing.
func (f *Framework) NewFrameSink(name string, fn func(media.Frame)) (media.Element, error) {
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	if name != "" {
		sink.SetProperty("name", name)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	fs := &frameSink{
		element: &element{e: sink.Element, factory: "appsink", logger: f.logger},
		sink:    sink,
		fn:      fn,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: fs.onNewSample,
	})
	return fs, nil
}

// onNewSample is called by GStreamer when a decoded frame is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer to read pixel data
//  3. Copies data (GStreamer will reuse the buffer)
//  4. Hands the frame to the registered callback
//
// A single bad sample never ends the stream: it is skipped with FlowOK.
func (fs *frameSink) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		fs.logger.Warn("gstreamer: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		fs.logger.Warn("gstreamer: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		fs.logger.Warn("gstreamer: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	width, height := sampleSize(sample)
	fs.fn(media.Frame{
		Data:      frameData,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	})
	return gst.FlowOK
}

// sampleSize reads width and height from the sample caps, zero when unknown.
func sampleSize(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0
	}
	var width, height int
	if v, err := st.GetValue("width"); err == nil {
		width, _ = v.(int)
	}
	if v, err := st.GetValue("height"); err == nil {
		height, _ = v.(int)
	}
	return width, height
}
