// Package probe checks that a connection-oriented stream server is listening
// before the receiver commits graph resources to it.
//
// The RTSP source gives up after its first failed connect and never tries
// again, so reachability is established here with a bare TCP connect that is
// retried on a timer until it succeeds or is cancelled.
package probe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
)

// Result is the outcome of one connection attempt.
type Result int

const (
	Failed Result = iota
	Connected
)

func (r Result) String() string {
	if r == Connected {
		return "connected"
	}
	return "failed"
}

// Config contains the probe timing.
type Config struct {
	InitialDelay  time.Duration // First attempt after arming (default: 100ms)
	RetryInterval time.Duration // Delay after a failed attempt (default: 5s)
	DialTimeout   time.Duration // Bound on a single connect (default: 5s)
}

// DefaultConfig returns the default probe timing.
func DefaultConfig() Config {
	return Config{
		InitialDelay:  100 * time.Millisecond,
		RetryInterval: 5 * time.Second,
		DialTimeout:   5 * time.Second,
	}
}

// Dialer opens the test connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober owns a single outstanding retry timer.
type Prober struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a prober. A nil dialer uses net.Dialer.
func New(cfg Config, dialer Dialer) *Prober {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Prober{cfg: cfg, dialer: dialer, logger: logging.GetLogger("probe")}
}

// Arm starts probing ep, replacing any previous probe. report is called after
// every attempt from the prober's goroutine; after Connected the probe stops.
// Datagram endpoints have no handshake and are never probed.
func (p *Prober) Arm(ep endpoint.Endpoint, report func(Result)) {
	if !ep.Transport.NeedsProbe() {
		p.logger.Debug("probe: transport has no handshake, not probing", "uri", ep.URI)
		return
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Debug("probe: armed", "address", ep.Address(), "delay", p.cfg.InitialDelay)
	go p.run(ctx, gen, ep, report)
}

// Cancel disarms the outstanding timer. Results of the cancelled probe are
// dropped.
func (p *Prober) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.gen++
	}
}

// Armed reports whether a probe is outstanding.
func (p *Prober) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close cancels any probe and waits for its goroutine to exit.
func (p *Prober) Close() {
	p.Cancel()
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context, gen uint64, ep endpoint.Endpoint, report func(Result)) {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := p.dial(ctx, ep)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			p.logger.Info("probe: server present", "address", ep.Address(), "attempts", attempt)
			if p.finish(gen) {
				report(Connected)
			}
			return
		}

		p.logger.Debug("probe: server not present, retrying",
			"address", ep.Address(),
			"attempt", attempt,
			"retry_in", p.cfg.RetryInterval,
			"error", err,
		)
		if !p.current(gen) {
			return
		}
		report(Failed)
		timer.Reset(p.cfg.RetryInterval)
	}
}

func (p *Prober) dial(ctx context.Context, ep endpoint.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

func (p *Prober) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// finish disarms the probe that just succeeded, unless it was replaced.
func (p *Prober) finish(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return true
}
