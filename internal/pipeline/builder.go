// Package pipeline builds the receiving graph for an endpoint and owns it
// through a single Handle.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// Name is the name of the main receiving pipeline.
const Name = "receiver"

// RTPH264Caps describes the H.264 RTP payload expected on a datagram source.
const RTPH264Caps = "application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)H264"

const (
	// sessionLatencyMS is the RTSP source's own jitter buffer.
	sessionLatencyMS = 17
	// sessionTimeoutUS is how long the RTSP source waits for UDP data before
	// falling back to TCP, in microseconds.
	sessionTimeoutUS = uint64(5000000)
)

// Stage names reported in BuildError.
const (
	StagePipeline     = "pipeline"
	StageCaps         = "caps"
	StageSource       = "source"
	StageJitterBuffer = "jitter-buffer"
	StageDemux        = "demux"
	StageParser       = "parser"
	StageTee          = "tee"
	StageDecodeQueue  = "decode-queue"
	StageDecoder      = "decoder"
	StageOutputQueue  = "output-queue"
	StageAdd          = "add"
	StageLink         = "link"
)

// Build creates the graph for ep, feeding decoded frames into sink.
//
// Graph structure by transport:
//
//	datagram:      udpsrc → rtpjitterbuffer → rtph264depay → h264parse → tee → queue → avdec_h264 → queue → sink
//	stream-socket: tcpclientsrc → tsdemux ⇢ h264parse → tee → queue → avdec_h264 → queue → sink
//	session:       rtspsrc ⇢ rtph264depay → h264parse → tee → queue → avdec_h264 → queue → sink
//
// ⇢ marks a link made when the upstream stage announces its output pad.
//
// The graph is built but NOT started. Stages created before a failure are
// released one by one; once they belong to the graph, releasing the graph takes
// them along. The sink is never released: it belongs to the caller.
func Build(fw media.Framework, ep endpoint.Endpoint, sink media.Element) (*Handle, error) {
	return build(fw, ep, sink, logging.GetLogger("pipeline"))
}

func build(fw media.Framework, ep endpoint.Endpoint, sink media.Element, logger *slog.Logger) (h *Handle, err error) {
	p, err := fw.NewPipeline(Name)
	if err != nil {
		return nil, buildErr(StagePipeline, err)
	}

	b := &builder{fw: fw, logger: logger}
	h = &Handle{pipeline: p, sink: sink, endpoint: ep, logger: logger}

	defer func() {
		if err == nil {
			return
		}
		b.releaseLoose()
		if b.added {
			if derr := p.Remove(sink); derr != nil {
				logger.Warn("pipeline: failed to detach sink after build failure", "error", derr)
			}
		}
		p.Release()
		logger.Error("pipeline: build failed", "endpoint", ep.URI, "error", err)
	}()

	if h.source, err = b.source(ep); err != nil {
		return nil, err
	}

	switch ep.Transport {
	case endpoint.Datagram:
		if h.jitter, err = b.make("rtpjitterbuffer", "rtp-jitter-buffer", StageJitterBuffer); err != nil {
			return nil, err
		}
		latencyMS := uint(2 * ep.Latency.Milliseconds())
		if err = h.jitter.SetProperty("latency", latencyMS); err != nil {
			return nil, buildErr(StageJitterBuffer, err)
		}
		if h.demux, err = b.make("rtph264depay", "rtp-h264-depacketizer", StageDemux); err != nil {
			return nil, err
		}
	case endpoint.StreamSocket:
		if h.demux, err = b.make("tsdemux", "mpeg2-ts-demuxer", StageDemux); err != nil {
			return nil, err
		}
	default:
		if h.demux, err = b.make("rtph264depay", "rtp-h264-depacketizer", StageDemux); err != nil {
			return nil, err
		}
	}

	if h.parser, err = b.make("h264parse", "h264-parser", StageParser); err != nil {
		return nil, err
	}
	if h.tee, err = b.make("tee", "tee", StageTee); err != nil {
		return nil, err
	}
	if h.decodeQueue, err = b.make("queue", "decode-queue", StageDecodeQueue); err != nil {
		return nil, err
	}
	if h.decoder, err = b.make("avdec_h264", "h264-decoder", StageDecoder); err != nil {
		return nil, err
	}
	if h.outputQueue, err = b.make("queue", "output-queue", StageOutputQueue); err != nil {
		return nil, err
	}

	if err = b.addAll(p, sink); err != nil {
		return nil, err
	}

	if err = h.link(); err != nil {
		return nil, buildErr(StageLink, err)
	}

	if h.bus, err = p.Bus(); err != nil {
		logger.Warn("pipeline: bus not available, monitoring disabled", "error", err)
		h.bus, err = nil, nil
	}

	logger.Info("pipeline: graph built",
		"transport", ep.Transport.String(),
		"uri", ep.URI,
		"latency", ep.Latency,
	)
	return h, nil
}

// link wires the stages for the handle's transport.
func (h *Handle) link() error {
	tail := []media.Element{h.parser, h.tee, h.decodeQueue, h.decoder, h.outputQueue, h.sink}

	switch h.endpoint.Transport {
	case endpoint.Datagram:
		return media.LinkMany(append([]media.Element{h.source, h.jitter, h.demux}, tail...)...)

	case endpoint.StreamSocket:
		if err := h.source.Link(h.demux); err != nil {
			return fmt.Errorf("%s -> %s: %w", h.source.Name(), h.demux.Name(), err)
		}
		if err := media.LinkMany(tail...); err != nil {
			return err
		}
		h.LinkOnPadAdded(h.demux, h.parser)
		return nil

	default:
		h.LinkOnPadAdded(h.source, h.demux)
		return media.LinkMany(append([]media.Element{h.demux}, tail...)...)
	}
}

// builder tracks stages that do not belong to the graph yet.
type builder struct {
	fw     media.Framework
	logger *slog.Logger
	loose  []media.Element
	added  bool
}

func (b *builder) make(factory, name, stage string) (media.Element, error) {
	e, err := b.fw.NewElement(factory, name)
	if err != nil {
		return nil, buildErr(stage, err)
	}
	b.loose = append(b.loose, e)
	return e, nil
}

func (b *builder) source(ep endpoint.Endpoint) (media.Element, error) {
	switch ep.Transport {
	case endpoint.Datagram:
		caps, err := b.fw.ParseCaps(RTPH264Caps)
		if err != nil {
			return nil, buildErr(StageCaps, fmt.Errorf("%w: %v", ErrMalformedCaps, err))
		}
		src, err := b.make("udpsrc", "udp-source", StageSource)
		if err != nil {
			return nil, err
		}
		if err := setProperties(src, "uri", ep.URI, "caps", caps); err != nil {
			return nil, buildErr(StageSource, err)
		}
		return src, nil

	case endpoint.StreamSocket:
		src, err := b.make("tcpclientsrc", "tcpclient-source", StageSource)
		if err != nil {
			return nil, err
		}
		if err := setProperties(src, "host", ep.Host, "port", ep.Port); err != nil {
			return nil, buildErr(StageSource, err)
		}
		return src, nil

	default:
		src, err := b.make("rtspsrc", "rtsp-source", StageSource)
		if err != nil {
			return nil, err
		}
		if err := setProperties(src,
			"location", ep.URI,
			"latency", uint(sessionLatencyMS),
			"udp-reconnect", true,
			"timeout", sessionTimeoutUS,
		); err != nil {
			return nil, buildErr(StageSource, err)
		}
		return src, nil
	}
}

// addAll moves the loose stages and the sink into p. After a failure, stages
// already added stay with the graph and the rest remain loose.
func (b *builder) addAll(p media.Pipeline, sink media.Element) error {
	for len(b.loose) > 0 {
		if err := p.Add(b.loose[0]); err != nil {
			return buildErr(StageAdd, err)
		}
		b.loose = b.loose[1:]
		b.added = true
	}
	if err := p.Add(sink); err != nil {
		return buildErr(StageAdd, err)
	}
	return nil
}

func (b *builder) releaseLoose() {
	for _, e := range b.loose {
		e.Release()
	}
	b.loose = nil
}

func setProperties(e media.Element, kv ...any) error {
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		if err := e.SetProperty(name, kv[i+1]); err != nil {
			return err
		}
	}
	return nil
}
