package videoreceiver

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
)

func (r *Receiver) setURI(uri string) error {
	if uri == "" {
		if r.State() == StateStarting {
			r.prober.Cancel()
			r.setState(StateIdle)
		}
		r.serverPresent = false
		r.buildFatal = false
		r.current.Store(nil)
		r.logger.Info("receiver: uri cleared")
		return nil
	}
	ep, err := endpoint.Parse(uri, r.latency)
	if err != nil {
		return err
	}
	r.applyEndpoint(ep)
	return nil
}

func (r *Receiver) setLatency(d time.Duration) error {
	if d < 0 {
		d = 0
	}
	r.latency = d
	if cur := r.current.Load(); cur != nil {
		ep := *cur
		ep.Latency = d
		r.current.Store(&ep)
	}
	return nil
}

// applyEndpoint takes effect on the next start. A pending probe for the old
// endpoint is cancelled.
func (r *Receiver) applyEndpoint(ep endpoint.Endpoint) {
	if cur := r.current.Load(); cur != nil && cur.URI != ep.URI {
		r.serverPresent = false
		if r.State() == StateStarting {
			r.prober.Cancel()
			r.setState(StateIdle)
		}
	}
	r.buildFatal = false
	r.latency = ep.Latency
	r.current.Store(&ep)
	r.logger.Info("receiver: endpoint set",
		"uri", ep.URI,
		"transport", ep.Transport.String(),
		"latency", ep.Latency,
	)
}

// switchSource restarts the stream on the selector's current node.
func (r *Receiver) switchSource() error {
	if r.selector == nil {
		return nil
	}
	node, ok := r.selector.Current()
	if !ok {
		return nil
	}
	ep, err := node.Endpoint()
	if err != nil {
		return err
	}
	if ep.Latency <= 0 {
		ep.Latency = r.latency
	}

	r.logger.Info("receiver: switching source", "node", node.Name, "uri", ep.URI)
	r.stop()
	r.applyEndpoint(ep)
	return r.start()
}
