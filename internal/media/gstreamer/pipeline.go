package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
)

type pipeline struct {
	p      *gst.Pipeline
	logger *slog.Logger
}

func (pl *pipeline) Name() string { return pl.p.GetName() }

func (pl *pipeline) Add(elements ...media.Element) error {
	for _, el := range elements {
		e, err := unwrap(el)
		if err != nil {
			return err
		}
		if err := pl.p.Add(e); err != nil {
			return fmt.Errorf("add %s to %s: %w", el.Name(), pl.Name(), err)
		}
	}
	return nil
}

func (pl *pipeline) Remove(elements ...media.Element) error {
	var errs []error
	for _, el := range elements {
		e, err := unwrap(el)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := pl.p.Remove(e); err != nil {
			errs = append(errs, fmt.Errorf("remove %s from %s: %w", el.Name(), pl.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (pl *pipeline) SetState(state media.State) error {
	if err := pl.p.SetState(toGstState(state)); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrStateChange, pl.Name(), state, err)
	}
	return nil
}

func (pl *pipeline) CurrentState() media.State {
	return fromGstState(pl.p.GetCurrentState())
}

func (pl *pipeline) SendEOS() bool {
	return pl.p.SendEvent(gst.NewEOSEvent())
}

func (pl *pipeline) Bus() (media.Bus, error) {
	b := pl.p.GetPipelineBus()
	if b == nil {
		return nil, media.ErrNoBus
	}
	return &bus{b: b, pipeline: pl.Name()}, nil
}

// Release forces the pipeline to NULL, which also takes every child with it.
func (pl *pipeline) Release() {
	if err := pl.p.SetState(gst.StateNull); err != nil {
		pl.logger.Warn("gstreamer: failed to set pipeline to NULL",
			"pipeline", pl.Name(),
			"error", err,
		)
	}
}

// pollInterval bounds a single TimedPopFiltered call so Close is noticed
// promptly by waiters.
const pollInterval = 50 * time.Millisecond

type bus struct {
	b        *gst.Bus
	pipeline string
	closed   atomic.Bool
}

func (b *bus) Pop(timeout time.Duration, filter media.MessageType) *media.Message {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for !b.closed.Load() {
		wait := pollInterval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return nil
			}
			if left < wait {
				wait = left
			}
		}

		msg := b.b.TimedPopFiltered(wait, toGstMessageType(filter))
		if msg == nil {
			continue
		}
		if m := convertMessage(msg); m != nil {
			return m
		}
	}
	return nil
}

func (b *bus) Close() {
	b.closed.Store(true)
}

func toGstMessageType(filter media.MessageType) gst.MessageType {
	var t gst.MessageType
	if filter&media.MessageEOS != 0 {
		t |= gst.MessageEOS
	}
	if filter&media.MessageError != 0 {
		t |= gst.MessageError
	}
	if filter&media.MessageStateChanged != 0 {
		t |= gst.MessageStateChanged
	}
	return t
}

// convertMessage copies what the receiver needs out of a go-gst message and
// classifies errors for telemetry.
func convertMessage(msg *gst.Message) *media.Message {
	switch msg.Type() {
	case gst.MessageEOS:
		return &media.Message{Type: media.MessageEOS, Source: msg.Source()}

	case gst.MessageError:
		gerr := msg.ParseError()
		if gerr == nil {
			return &media.Message{
				Type:   media.MessageError,
				Source: msg.Source(),
				Err:    errors.New("unknown pipeline error"),
			}
		}
		return &media.Message{
			Type:     media.MessageError,
			Source:   msg.Source(),
			Err:      errors.New(gerr.Error()),
			Debug:    gerr.DebugString(),
			Category: media.ClassifyError(gerr.Error(), gerr.DebugString()),
		}

	case gst.MessageStateChanged:
		old, new := msg.ParseStateChanged()
		return &media.Message{
			Type:     media.MessageStateChanged,
			Source:   msg.Source(),
			OldState: fromGstState(old),
			NewState: fromGstState(new),
		}
	}
	return nil
}
