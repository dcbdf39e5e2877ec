package pipeline

import (
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// Handle owns a built graph. Every stage it contains is released exactly once,
// by Release, through the graph.
type Handle struct {
	pipeline media.Pipeline
	endpoint endpoint.Endpoint
	bus      media.Bus
	logger   *slog.Logger

	source      media.Element
	jitter      media.Element
	demux       media.Element
	parser      media.Element
	tee         media.Element
	decodeQueue media.Element
	decoder     media.Element
	outputQueue media.Element
	sink        media.Element

	releaseOnce sync.Once
}

func (h *Handle) Pipeline() media.Pipeline    { return h.pipeline }
func (h *Handle) Endpoint() endpoint.Endpoint { return h.endpoint }
func (h *Handle) Tee() media.Element          { return h.tee }
func (h *Handle) Sink() media.Element         { return h.sink }
func (h *Handle) Source() media.Element       { return h.source }

// JitterBuffer returns the datagram jitter buffer, nil for other transports.
func (h *Handle) JitterBuffer() media.Element { return h.jitter }

// Bus returns the graph's bus, nil when it could not be acquired.
func (h *Handle) Bus() media.Bus { return h.bus }

// Add moves extra stages into the graph. They are released with it.
func (h *Handle) Add(elements ...media.Element) error {
	return h.pipeline.Add(elements...)
}

// Remove takes stages out of the graph. The caller owns them afterwards.
func (h *Handle) Remove(elements ...media.Element) error {
	return h.pipeline.Remove(elements...)
}

// Detach takes the sink out of the graph so that releasing the graph leaves it
// intact for the next build.
func (h *Handle) Detach(sink media.Element) error {
	return h.pipeline.Remove(sink)
}

// LinkOnPadAdded links src's next announced pad to dst's sink pad. A pad that
// does not fit (an audio stream on a demuxer, a second video pad) is logged and
// left unlinked.
func (h *Handle) LinkOnPadAdded(src, dst media.Element) {
	src.OnPadAdded(func(pad media.Pad) {
		sinkPad := dst.StaticPad("sink")
		if sinkPad == nil {
			h.logger.Error("pipeline: pad-added target has no sink pad",
				"src", src.Name(),
				"dst", dst.Name(),
			)
			return
		}
		if err := pad.Link(sinkPad); err != nil {
			h.logger.Warn("pipeline: failed to link dynamic pad",
				"src", src.Name(),
				"src_pad", pad.Name(),
				"dst", dst.Name(),
				"error", err,
			)
			return
		}
		h.logger.Debug("pipeline: dynamic pad linked",
			"src", src.Name(),
			"src_pad", pad.Name(),
			"dst", dst.Name(),
		)
	})
}

// Release closes the bus and destroys the graph with every stage it still
// owns. Further calls do nothing.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		if h.bus != nil {
			h.bus.Close()
		}
		h.pipeline.Release()
	})
}
