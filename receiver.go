package videoreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
)

const (
	defaultLatency     = 20 * time.Millisecond
	defaultStopTimeout = 10 * time.Second
	busPollInterval    = 50 * time.Millisecond
)

// Receiver drives one media graph through its lifecycle.
//
// Fields below the loop marker belong to the goroutine running Run and are
// never touched elsewhere. Accessors read the atomic snapshot instead.
type Receiver struct {
	// Collaborators
	fw       media.Framework
	surface  Surface
	settings Settings
	selector SourceSelector
	events   *events.Bus
	prober   *probe.Prober
	recorder *recording.Manager
	stats    *health.StatsPoller
	logger   *slog.Logger

	// Timing
	stopTimeout    time.Duration
	healthInterval time.Duration

	// Mailbox
	mu      sync.Mutex
	queue   []func()
	closing bool
	wake    chan struct{}
	msgs    chan busEvent
	started atomic.Bool
	done    chan struct{}

	// Snapshot for accessors
	state        atomic.Int32
	streaming    atomic.Bool
	recording    atomic.Bool
	videoRunning atomic.Bool
	current      atomic.Pointer[endpoint.Endpoint]
	location     atomic.Pointer[string]

	// --- loop ---
	latency        time.Duration
	handle         *pipeline.Handle
	mainWatch      *busWatcher
	branch         *recording.Branch
	drainWatch     *busWatcher
	drainDeadline  time.Time
	monitor        health.Monitor
	serverPresent  bool
	stopping       bool
	stopAfterDrain bool
	shuttingDown   bool
	buildFatal     bool
	deferred       []busEvent
}

// New creates a receiver. The receiver does nothing until Run is called.
func New(opts Options) (*Receiver, error) {
	if opts.Framework == nil {
		return nil, errors.New("videoreceiver: framework is required")
	}
	if opts.Settings == nil {
		opts.Settings = config.NewStore(nil)
	}
	if opts.Latency <= 0 {
		opts.Latency = defaultLatency
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = health.DefaultInterval
	}

	r := &Receiver{
		fw:             opts.Framework,
		surface:        opts.Surface,
		settings:       opts.Settings,
		selector:       opts.Selector,
		events:         opts.Events,
		prober:         probe.New(opts.Probe, opts.Dialer),
		recorder:       recording.NewManager(opts.Framework),
		stats:          health.NewStatsPoller(),
		logger:         logging.GetLogger("receiver"),
		stopTimeout:    opts.StopTimeout,
		healthInterval: opts.HealthInterval,
		wake:           make(chan struct{}, 1),
		msgs:           make(chan busEvent, 16),
		done:           make(chan struct{}),
		latency:        opts.Latency,
	}

	if opts.URI != "" {
		ep, err := endpoint.Parse(opts.URI, opts.Latency)
		if err != nil {
			return nil, fmt.Errorf("videoreceiver: invalid uri: %w", err)
		}
		r.current.Store(&ep)
	}
	return r, nil
}

// Run owns the receiver until ctx is cancelled. On cancellation the graph is
// stopped, a recording in progress is finalized and Run returns nil.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("videoreceiver: Run called twice")
	}
	defer close(r.done)

	ticker := time.NewTicker(r.healthInterval)
	defer ticker.Stop()

	r.logger.Info("receiver: loop started",
		"uri", r.URI(),
		"stop_timeout", r.stopTimeout,
		"health_interval", r.healthInterval,
	)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			r.logger.Info("receiver: loop stopped")
			return nil
		case <-r.wake:
			r.runMailbox()
		case ev := <-r.msgs:
			r.handleBus(ev)
		case now := <-ticker.C:
			r.tick(now)
		}
		r.flushDeferred()
	}
}

// post queues fn for the loop. It reports false once the receiver is closing.
func (r *Receiver) post(fn func()) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for its result.
func (r *Receiver) do(fn func() error) error {
	errc := make(chan error, 1)
	ok := r.post(func() {
		if r.shuttingDown {
			errc <- ErrClosed
			return
		}
		errc <- fn()
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-r.done:
		return ErrClosed
	}
}

func (r *Receiver) runMailbox() {
	for {
		r.mu.Lock()
		queue := r.queue
		r.queue = nil
		r.mu.Unlock()
		if len(queue) == 0 {
			return
		}
		for _, fn := range queue {
			fn()
		}
	}
}

// shutdown stops the graph and keeps serving bus messages and internal posts
// until the graph and any recording are gone, bounded by the stop timeout.
func (r *Receiver) shutdown() {
	r.shuttingDown = true
	r.prober.Cancel()
	r.stop()

	deadline := time.NewTimer(r.stopTimeout)
	defer deadline.Stop()

	for r.handle != nil || r.branch != nil {
		r.flushDeferred()
		if r.handle == nil && r.branch == nil {
			break
		}
		select {
		case <-r.wake:
			r.runMailbox()
		case ev := <-r.msgs:
			r.handleBus(ev)
		case <-deadline.C:
			r.logger.Warn("receiver: shutdown timed out, forcing teardown",
				"timeout", r.stopTimeout,
				"recording", r.branch != nil,
			)
			r.teardown(reasonForced)
			if r.branch != nil {
				r.finalizeBranch(false)
			}
		}
	}

	r.mu.Lock()
	r.closing = true
	r.queue = nil
	r.mu.Unlock()
	r.prober.Close()
}

// State returns the current lifecycle state.
func (r *Receiver) State() State { return State(r.state.Load()) }

// Streaming reports whether the graph is in the playing state.
func (r *Receiver) Streaming() bool { return r.streaming.Load() }

// Recording reports whether a recording is active.
func (r *Receiver) Recording() bool { return r.recording.Load() }

// VideoRunning reports whether the health monitor considers frames to be flowing.
func (r *Receiver) VideoRunning() bool { return r.videoRunning.Load() }

// Endpoint returns the configured endpoint.
func (r *Receiver) Endpoint() (endpoint.Endpoint, bool) {
	ep := r.current.Load()
	if ep == nil {
		return endpoint.Endpoint{}, false
	}
	return *ep, true
}

// URI returns the configured stream URI, empty when none is set.
func (r *Receiver) URI() string {
	if ep := r.current.Load(); ep != nil {
		return ep.URI
	}
	return ""
}

// Status returns a snapshot of the receiver.
func (r *Receiver) Status() Status {
	s := Status{
		State:        r.State(),
		URI:          r.URI(),
		Streaming:    r.Streaming(),
		Recording:    r.Recording(),
		VideoRunning: r.VideoRunning(),
	}
	if loc := r.location.Load(); loc != nil {
		s.Location = *loc
	}
	return s
}

// Start builds and plays a graph for the configured endpoint. It does nothing
// while starting or running. A connection-oriented endpoint whose server has
// not answered yet leaves the receiver Starting until the probe succeeds.
func (r *Receiver) Start() error {
	return r.do(r.start)
}

// Stop ends the stream. A recording in progress is finalized first. Stop
// waits for the graph's end-of-stream, at most the stop timeout.
func (r *Receiver) Stop() error {
	return r.do(func() error {
		r.stop()
		return nil
	})
}

// StartRecording attaches a recording branch to the running graph.
func (r *Receiver) StartRecording() error {
	return r.do(r.startRecording)
}

// StopRecording begins detaching the recording branch. The file is finalized
// asynchronously; Recording reports false once it is.
func (r *Receiver) StopRecording() error {
	return r.do(r.stopRecording)
}

// SetURI replaces the endpoint used by the next start. An empty uri clears it.
func (r *Receiver) SetURI(uri string) error {
	return r.do(func() error { return r.setURI(uri) })
}

// SetLatency replaces the expected network latency used by the next start.
func (r *Receiver) SetLatency(d time.Duration) error {
	return r.do(func() error { return r.setLatency(d) })
}

// SwitchSource applies the selector's current node and restarts the stream on it.
func (r *Receiver) SwitchSource() error {
	return r.do(r.switchSource)
}

// Next moves the selector to the next source.
func (r *Receiver) Next() {
	if r.selector != nil {
		r.selector.SelectNext()
	}
}

// Previous moves the selector to the previous source.
func (r *Receiver) Previous() {
	if r.selector != nil {
		r.selector.SelectPrevious()
	}
}
