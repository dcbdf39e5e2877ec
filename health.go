package videoreceiver

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/metrics"
)

// tick runs the health monitor once and carries out its decision.
func (r *Receiver) tick(now time.Time) {
	r.checkDrain(now)

	if r.handle != nil {
		if _, err := r.stats.Poll(r.handle.JitterBuffer()); err != nil {
			r.logger.Debug("receiver: jitter stats unavailable", "error", err)
		}
	}

	st := r.State()
	in := health.Input{
		Busy:        st == StateStarting || st == StateStopping,
		Idle:        st == StateIdle,
		Streaming:   r.Streaming(),
		HasEndpoint: r.current.Load() != nil,
		Timeout:     r.settings.RTSPTimeout(),
	}
	if r.surface != nil {
		in.LastFrame = r.surface.LastFrame()
	}

	d := r.monitor.Tick(now, in)
	if d.BecameActive {
		if r.surface != nil {
			r.surface.SetLastFrame(now)
		}
		r.setVideoRunning(true)
	}
	if d.BecameInactive {
		r.setVideoRunning(false)
	}
	if r.monitor.Active() {
		metrics.SetFrameAge(d.FrameAge)
	}

	switch d.Action {
	case health.Stop:
		r.logger.Warn("receiver: no frame within timeout, stopping stream",
			"frame_age", d.FrameAge,
			"timeout", in.Timeout,
		)
		r.stop()
	case health.Start:
		if r.buildFatal {
			r.logger.Debug("receiver: restart skipped, last build failed permanently")
			return
		}
		if err := r.start(); err != nil {
			r.logger.Debug("receiver: restart failed", "error", err)
		}
	}
}
