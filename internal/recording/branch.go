// Package recording attaches a file-writing branch to a running graph and
// later moves it into a short-lived drain pipeline, where end-of-stream
// finalizes the container without touching the live decode path.
//
// Branch structure:
//
//	tee ─(tap)→ queue → h264parse → <muxer> → filesink
package recording

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

// DrainName is the name of the pipeline that hosts a detached branch.
const DrainName = "recording-drain"

// TapTemplate is the tee's request pad template.
const TapTemplate = "src_%u"

// Host is the live graph a branch is attached to.
type Host interface {
	Tee() media.Element
	Add(elements ...media.Element) error
	Remove(elements ...media.Element) error
}

// Branch is one recording. It lives from Attach until Finalize.
type Branch struct {
	ID        string
	Location  string
	Format    Format
	StartedAt time.Time

	tee    media.Element
	tap    media.Pad
	queue  media.Element
	parser media.Element
	mux    media.Element
	sink   media.Element

	quiescing atomic.Bool
	detached  bool
	drain     media.Pipeline
	drainBus  media.Bus
}

// Quiesce flips the branch into quiescing. Only the first caller gets true.
func (b *Branch) Quiesce() bool {
	return b.quiescing.CompareAndSwap(false, true)
}

// Quiescing reports whether detachment has begun.
func (b *Branch) Quiescing() bool { return b.quiescing.Load() }

// Tap returns the tee pad feeding the branch, nil once detached.
func (b *Branch) Tap() media.Pad { return b.tap }

// Detached reports whether the branch has left the live graph.
func (b *Branch) Detached() bool { return b.detached }

// Drain returns the drain pipeline, nil before detachment.
func (b *Branch) Drain() media.Pipeline { return b.drain }

// DrainBus returns the drain pipeline's bus, nil when it could not be acquired.
func (b *Branch) DrainBus() media.Bus { return b.drainBus }

func (b *Branch) stages() []media.Element {
	return []media.Element{b.queue, b.parser, b.mux, b.sink}
}

// Manager performs the graph surgery. It keeps no state of its own; callers
// serialize calls per branch.
type Manager struct {
	fw     media.Framework
	logger *slog.Logger
}

// NewManager returns a manager creating stages with fw.
func NewManager(fw media.Framework) *Manager {
	return &Manager{fw: fw, logger: logging.GetLogger("recording")}
}

// Attach adds a recording branch writing to location to the live graph.
//
// This method:
//  1. Requests a tap from the tee
//  2. Creates queue, parser, muxer and file sink
//  3. Adds them to the graph, links them and syncs their state with it
//  4. Links the tap to the queue
//
// Any failure releases what was made, tap included, and leaves the graph as it was.
func (m *Manager) Attach(h Host, f Format, location string) (*Branch, error) {
	tee := h.Tee()
	tap := tee.RequestPad(TapTemplate)
	if tap == nil {
		return nil, fmt.Errorf("recording: tee refused a pad: %w", media.ErrNoPad)
	}

	b := &Branch{
		ID:        uuid.NewString(),
		Location:  location,
		Format:    f,
		StartedAt: time.Now(),
		tee:       tee,
		tap:       tap,
	}

	var made []media.Element
	fail := func(err error) (*Branch, error) {
		for _, e := range made {
			e.Release()
		}
		tee.ReleaseRequestPad(tap)
		m.logger.Error("recording: failed to attach branch", "location", location, "error", err)
		return nil, err
	}

	for _, s := range []struct {
		factory string
		dst     *media.Element
	}{
		{"queue", &b.queue},
		{"h264parse", &b.parser},
		{f.Muxer, &b.mux},
		{"filesink", &b.sink},
	} {
		e, err := m.fw.NewElement(s.factory, "")
		if err != nil {
			return fail(fmt.Errorf("recording: create %s: %w", s.factory, err))
		}
		*s.dst = e
		made = append(made, e)
	}

	if err := b.sink.SetProperty("location", location); err != nil {
		return fail(err)
	}

	if err := h.Add(made...); err != nil {
		_ = h.Remove(made...)
		return fail(fmt.Errorf("recording: add branch: %w", err))
	}

	if err := m.wire(b); err != nil {
		_ = h.Remove(made...)
		return fail(err)
	}

	m.logger.Info("recording: branch attached",
		"id", b.ID,
		"location", location,
		"muxer", f.Muxer,
		"tap", tap.Name(),
	)
	return b, nil
}

func (m *Manager) wire(b *Branch) error {
	if err := media.LinkMany(b.stages()...); err != nil {
		return fmt.Errorf("recording: link branch: %w", err)
	}
	for _, e := range b.stages() {
		if err := e.SyncStateWithParent(); err != nil {
			return fmt.Errorf("recording: sync %s: %w", e.Name(), err)
		}
	}
	sinkPad := b.queue.StaticPad("sink")
	if sinkPad == nil {
		return fmt.Errorf("recording: queue has no sink pad: %w", media.ErrNoPad)
	}
	if err := b.tap.Link(sinkPad); err != nil {
		return fmt.Errorf("recording: link tap: %w", err)
	}
	return nil
}

// Detach moves the branch out of the live graph into a drain pipeline and sends
// end-of-stream into it, so the muxer flushes and writes its index.
//
// This method:
//  1. Removes the four stages from the live graph
//  2. Releases the tap back to the tee
//  3. Creates the drain pipeline, adds and re-links the same stages
//  4. Sets it playing and sends end-of-stream at the queue
//
// It runs once per branch; later calls return nil. On error the branch is left
// for Finalize, which cleans up whatever exists.
func (m *Manager) Detach(h Host, b *Branch) error {
	if b.detached {
		return nil
	}
	b.detached = true

	if err := h.Remove(b.stages()...); err != nil {
		m.logger.Warn("recording: failed to remove branch from graph", "id", b.ID, "error", err)
	}
	b.tee.ReleaseRequestPad(b.tap)
	b.tap = nil

	drain, err := m.fw.NewPipeline(DrainName)
	if err != nil {
		return fmt.Errorf("recording: create drain pipeline: %w", err)
	}
	b.drain = drain

	if err := drain.Add(b.stages()...); err != nil {
		return fmt.Errorf("recording: add branch to drain: %w", err)
	}
	if err := media.LinkMany(b.stages()...); err != nil {
		return fmt.Errorf("recording: relink branch: %w", err)
	}

	if b.drainBus, err = drain.Bus(); err != nil {
		m.logger.Warn("recording: drain bus not available", "id", b.ID, "error", err)
		b.drainBus = nil
	}

	if err := drain.SetState(media.StatePlaying); err != nil {
		return fmt.Errorf("recording: start drain: %w", err)
	}

	sinkPad := b.queue.StaticPad("sink")
	if sinkPad == nil || !sinkPad.SendEOS() {
		return errors.New("recording: end-of-stream not accepted by drain")
	}

	m.logger.Info("recording: branch detached, draining", "id", b.ID, "location", b.Location)
	return nil
}

// Finalize tears the branch down once the drain pipeline reported end-of-stream
// or an error. It is safe on a branch that never finished Detach.
func (m *Manager) Finalize(b *Branch) {
	if b.tap != nil {
		b.tee.ReleaseRequestPad(b.tap)
		b.tap = nil
	}

	if b.drain != nil {
		if err := b.drain.Remove(b.stages()...); err != nil {
			m.logger.Debug("recording: stages already out of drain", "id", b.ID, "error", err)
		}
		if err := b.drain.SetState(media.StateNull); err != nil {
			m.logger.Warn("recording: failed to stop drain", "id", b.ID, "error", err)
		}
	}
	for _, e := range b.stages() {
		if err := e.SetState(media.StateNull); err != nil {
			m.logger.Warn("recording: failed to stop stage", "stage", e.Name(), "error", err)
		}
	}
	if b.drainBus != nil {
		b.drainBus.Close()
		b.drainBus = nil
	}
	if b.drain != nil {
		b.drain.Release()
		b.drain = nil
	}
	for _, e := range b.stages() {
		e.Release()
	}

	m.logger.Info("recording: branch finalized",
		"id", b.ID,
		"location", b.Location,
		"duration", time.Since(b.StartedAt),
	)
}
