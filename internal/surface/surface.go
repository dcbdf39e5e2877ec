// Package surface is the destination for decoded frames. It owns the frame
// sink at the end of the receiving graph, keeps the freshness clock the health
// monitor reads, and fans frames out to in-process consumers. Drawing frames
// is left to those consumers.
package surface

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/metrics"
)

// SinkName is the name of the frame sink element.
const SinkName = "video-sink"

// AppSurface implements the receiver's surface on top of a framework frame sink.
type AppSurface struct {
	sink   media.Element
	bus    *framebus.Bus
	logger *slog.Logger

	lastFrame atomic.Int64 // unix nanoseconds, 0 = never
	sequence  atomic.Uint64
}

// New creates the surface and its frame sink. The sink survives graph
// rebuilds; it is released by Close.
func New(fw media.Framework) (*AppSurface, error) {
	s := &AppSurface{
		bus:    framebus.New(),
		logger: logging.GetLogger("surface"),
	}
	sink, err := fw.NewFrameSink(SinkName, s.onFrame)
	if err != nil {
		return nil, err
	}
	s.sink = sink
	return s, nil
}

// Sink returns the frame sink the graph ends in.
func (s *AppSurface) Sink() media.Element { return s.sink }

// Frames returns the bus decoded frames are published on.
func (s *AppSurface) Frames() *framebus.Bus { return s.bus }

// LastFrame returns when the last frame arrived, zero if none has.
func (s *AppSurface) LastFrame() time.Time {
	ns := s.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetLastFrame overrides the freshness clock.
func (s *AppSurface) SetLastFrame(t time.Time) {
	if t.IsZero() {
		s.lastFrame.Store(0)
		return
	}
	s.lastFrame.Store(t.UnixNano())
}

// FrameCount returns how many frames arrived so far.
func (s *AppSurface) FrameCount() uint64 { return s.sequence.Load() }

// Close shuts the frame bus and releases the sink. The sink must not be part
// of a graph anymore.
func (s *AppSurface) Close() {
	s.bus.Close()
	if s.sink != nil {
		s.sink.Release()
	}
}

// onFrame runs on the framework's streaming thread.
func (s *AppSurface) onFrame(f media.Frame) {
	at := f.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	s.lastFrame.Store(at.UnixNano())
	seq := s.sequence.Add(1)
	metrics.IncFramesDecoded()

	frame := framebus.Frame{
		Data:      f.Data,
		Width:     f.Width,
		Height:    f.Height,
		Sequence:  seq,
		TraceID:   uuid.NewString(),
		Timestamp: at,
	}
	s.bus.Publish(frame)

	if seq == 1 {
		s.logger.Info("surface: first frame received", "width", f.Width, "height", f.Height, "trace_id", frame.TraceID)
	}
}
