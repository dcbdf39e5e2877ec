package videoreceiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/probe"
)

// Teardown reasons, exported as metric labels.
const (
	reasonStop        = "stop"
	reasonError       = "error"
	reasonEOS         = "unexpected-eos"
	reasonStartFailed = "start-failed"
	reasonForced      = "forced"
)

// busEvent is a bus message together with the pipeline that posted it. Events
// from a pipeline that is no longer current are dropped.
type busEvent struct {
	pipeline media.Pipeline
	msg      media.Message
}

// busWatcher pumps one pipeline's bus into the loop.
type busWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the watcher and waits for it, so the bus is no longer read
// when the caller releases it.
func (w *busWatcher) stop() {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

// watch polls bus with a short timeout for responsive shutdown and forwards
// every message to the loop.
func (r *Receiver) watch(p media.Pipeline, bus media.Bus) *busWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &busWatcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg := bus.Pop(busPollInterval, media.MessageAll)
			if msg == nil {
				continue
			}
			select {
			case r.msgs <- busEvent{pipeline: p, msg: *msg}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return w
}

// start builds and plays the graph.
//
// This method:
//  1. Does nothing while starting, running or stopping
//  2. Fails fast without an endpoint or a surface
//  3. Defers to the prober while a connection-oriented server is unconfirmed
//  4. Builds the graph, starts its bus watcher and sets it playing
func (r *Receiver) start() error {
	switch st := r.State(); st {
	case StateStarting, StateRunning, StateStopping:
		r.logger.Debug("receiver: start ignored", "state", st.String())
		return nil
	}

	ep := r.current.Load()
	if ep == nil {
		r.logger.Error("receiver: start failed, no uri configured")
		return ErrNoEndpoint
	}
	if r.surface == nil || r.surface.Sink() == nil {
		r.logger.Error("receiver: start failed, no destination surface")
		return ErrNoSurface
	}

	if ep.Transport.NeedsProbe() && !r.serverPresent {
		r.setState(StateStarting)
		r.armProbe(*ep)
		return nil
	}
	return r.play(*ep)
}

// play builds the graph for ep and sets it playing. It leaves the receiver
// Running on success and Idle on failure, whatever state it was called in.
func (r *Receiver) play(ep endpoint.Endpoint) error {
	h, err := pipeline.Build(r.fw, ep, r.surface.Sink())
	if err != nil {
		metrics.IncPipelineStart(ep.Transport.String(), false)
		var be *pipeline.BuildError
		if errors.As(err, &be) && be.Fatal() {
			r.buildFatal = true
			r.logger.Error("receiver: graph cannot be built for this endpoint, automatic restart disabled",
				"uri", ep.URI,
				"stage", be.Stage,
				"error", err,
			)
		}
		r.serverPresent = false
		r.setState(StateIdle)
		return fmt.Errorf("videoreceiver: %w", err)
	}

	r.handle = h
	r.stopping = false
	r.buildFatal = false
	if bus := h.Bus(); bus != nil {
		r.mainWatch = r.watch(h.Pipeline(), bus)
	}

	if err := h.Pipeline().SetState(media.StatePlaying); err != nil {
		metrics.IncPipelineStart(ep.Transport.String(), false)
		r.logger.Error("receiver: failed to start pipeline", "uri", ep.URI, "error", err)
		r.teardown(reasonStartFailed)
		return fmt.Errorf("videoreceiver: failed to start pipeline: %w", err)
	}

	metrics.IncPipelineStart(ep.Transport.String(), true)
	r.setState(StateRunning)
	r.logger.Info("receiver: pipeline started",
		"uri", ep.URI,
		"transport", ep.Transport.String(),
		"latency", ep.Latency,
	)
	return nil
}

func (r *Receiver) armProbe(ep endpoint.Endpoint) {
	r.logger.Info("receiver: waiting for server", "address", ep.Address())
	r.prober.Arm(ep, func(res probe.Result) {
		metrics.IncProbeAttempt(res.String())
		if res != probe.Connected {
			return
		}
		r.post(func() { r.onServerPresent(ep) })
	})
}

// onServerPresent resumes a pending start once the probe reached the server.
func (r *Receiver) onServerPresent(ep endpoint.Endpoint) {
	cur := r.current.Load()
	if r.shuttingDown || r.State() != StateStarting || cur == nil || cur.URI != ep.URI {
		r.logger.Debug("receiver: stale probe result dropped", "uri", ep.URI)
		return
	}
	r.serverPresent = true
	if err := r.play(*cur); err != nil {
		r.logger.Error("receiver: start after probe failed", "uri", ep.URI, "error", err)
	}
}

// stop is the universal cancellation path. It is safe in every state.
//
// This method:
//  1. Without a graph, cancels a pending probe and returns to Idle
//  2. While recording, finalizes the recording first and stops afterwards
//  3. Tears a graph that never reached playing down immediately
//  4. Otherwise sends end-of-stream and waits for it, bounded by the stop timeout
func (r *Receiver) stop() {
	if r.handle == nil {
		r.prober.Cancel()
		if r.State() == StateStarting {
			r.logger.Info("receiver: pending start cancelled")
			r.setState(StateIdle)
		}
		return
	}
	if r.stopping || r.stopAfterDrain {
		r.logger.Debug("receiver: already stopping")
		return
	}

	if r.branch != nil {
		r.logger.Info("receiver: stop requested while recording, finalizing recording first")
		r.stopAfterDrain = true
		r.setState(StateStopping)
		if err := r.stopRecording(); err != nil {
			r.logger.Debug("receiver: recording already stopping", "error", err)
		}
		return
	}

	if !r.Streaming() {
		r.teardown(reasonStop)
		return
	}

	r.stopping = true
	r.setState(StateStopping)

	p := r.handle.Pipeline()
	if !p.SendEOS() || r.mainWatch == nil {
		r.logger.Warn("receiver: end-of-stream not deliverable, tearing down",
			"bus", r.mainWatch != nil,
		)
		r.teardown(reasonStop)
		return
	}

	reason := r.awaitEOS(p)
	if reason == reasonForced {
		r.logger.Warn("receiver: no end-of-stream within timeout, forcing teardown", "timeout", r.stopTimeout)
	}
	r.teardown(reason)
}

// awaitEOS blocks the loop until the main graph reports end-of-stream or an
// error and returns the matching teardown reason. Messages from other
// pipelines are kept for later.
func (r *Receiver) awaitEOS(p media.Pipeline) string {
	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-r.msgs:
			if ev.pipeline != p {
				r.deferred = append(r.deferred, ev)
				continue
			}
			switch ev.msg.Type {
			case media.MessageEOS:
				r.logger.Debug("receiver: end of stream received")
				return reasonStop
			case media.MessageError:
				r.logGraphError(ev.msg)
				return reasonError
			case media.MessageStateChanged:
				r.onStateChanged(ev.msg)
			}
		case <-timer.C:
			return reasonForced
		}
	}
}

// teardown releases the graph and resets every per-graph flag. The recording
// tap is released before the graph.
func (r *Receiver) teardown(reason string) {
	h := r.handle
	if h == nil {
		return
	}

	// The graph goes away regardless; a finalized recording must not stop it again.
	r.stopAfterDrain = false
	if b := r.branch; b != nil && !b.Detached() {
		b.Quiesce()
		r.detachBranch(b)
	}

	r.mainWatch.stop()
	r.mainWatch = nil

	if err := h.Pipeline().SetState(media.StateNull); err != nil {
		r.logger.Warn("receiver: failed to stop pipeline", "error", err)
	}
	if err := h.Detach(h.Sink()); err != nil {
		r.logger.Warn("receiver: failed to detach sink", "error", err)
	}
	h.Release()
	r.handle = nil

	r.serverPresent = false
	r.stopping = false
	r.setStreaming(false)
	if r.monitor.Active() {
		r.monitor.Reset()
		r.setVideoRunning(false)
	}

	metrics.IncTeardown(reason)
	r.logger.Info("receiver: pipeline torn down", "reason", reason, "uri", h.Endpoint().URI)
	r.setState(StateIdle)
}

func (r *Receiver) handleBus(ev busEvent) {
	switch {
	case r.handle != nil && ev.pipeline == r.handle.Pipeline():
		r.onMainMessage(ev.msg)
	case r.branch != nil && r.branch.Drain() != nil && ev.pipeline == r.branch.Drain():
		r.onDrainMessage(ev.msg)
	default:
		r.logger.Debug("receiver: message from released pipeline dropped",
			"type", ev.msg.Type.String(),
			"source", ev.msg.Source,
		)
	}
}

func (r *Receiver) flushDeferred() {
	for len(r.deferred) > 0 {
		ev := r.deferred[0]
		r.deferred = r.deferred[1:]
		r.handleBus(ev)
	}
}

func (r *Receiver) onMainMessage(msg media.Message) {
	switch msg.Type {
	case media.MessageError:
		r.logGraphError(msg)
		r.teardown(reasonError)
	case media.MessageEOS:
		if r.stopping {
			r.teardown(reasonStop)
			return
		}
		r.logger.Warn("receiver: unexpected end of stream", "uri", r.URI())
		r.teardown(reasonEOS)
	case media.MessageStateChanged:
		r.onStateChanged(msg)
	}
}

// onStateChanged caches whether the graph itself is playing. Element state
// changes are ignored.
func (r *Receiver) onStateChanged(msg media.Message) {
	if msg.Source != pipeline.Name {
		return
	}
	r.logger.Debug("receiver: pipeline state changed",
		"from", msg.OldState.String(),
		"to", msg.NewState.String(),
	)
	r.setStreaming(msg.NewState == media.StatePlaying)
}

func (r *Receiver) logGraphError(msg media.Message) {
	metrics.IncGraphError(msg.Category.String())
	r.logger.Error("receiver: pipeline error",
		"error", msg.Err,
		"debug", msg.Debug,
		"category", msg.Category.String(),
		"source", msg.Source,
		"uri", r.URI(),
	)
}

func (r *Receiver) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	if old == s {
		return
	}

	all := make([]string, len(States))
	for i, st := range States {
		all[i] = st.String()
	}
	metrics.SetState(s.String(), all)

	r.logger.Debug("receiver: state changed", "from", old.String(), "to", s.String())
	r.events.Publish(events.StateChangedEvent{
		From:      old.String(),
		To:        s.String(),
		URI:       r.URI(),
		Timestamp: time.Now(),
	})
}

func (r *Receiver) setStreaming(v bool) {
	if r.streaming.Swap(v) == v {
		return
	}
	r.events.Publish(events.StreamingChangedEvent{Streaming: v, Timestamp: time.Now()})
}

func (r *Receiver) setVideoRunning(v bool) {
	if r.videoRunning.Swap(v) == v {
		return
	}
	r.logger.Info("receiver: video running changed", "running", v)
	r.events.Publish(events.VideoRunningChangedEvent{Running: v, Timestamp: time.Now()})
}
