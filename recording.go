package videoreceiver

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/retention"
)

// startRecording validates the settings, makes room on disk and attaches a
// branch to the live graph. Configuration problems are reported to the user
// before anything is allocated.
func (r *Receiver) startRecording() error {
	if r.handle == nil || r.stopping || r.stopAfterDrain {
		r.logger.Debug("receiver: start recording ignored, no running pipeline")
		return ErrNotRunning
	}
	if r.branch != nil {
		r.logger.Debug("receiver: start recording ignored, already recording")
		return ErrAlreadyRecording
	}

	format, err := recording.FormatAt(r.settings.RecordingFormat())
	if err != nil {
		r.userMessage("Invalid video format defined.")
		return err
	}
	dir := r.settings.SavePath()
	if err := recording.PrepareDir(dir); err != nil {
		r.userMessage("Unable to record video. Video save path must be specified in Settings.")
		return err
	}

	r.enforceRetention(dir)

	location := recording.FileName(dir, format, time.Now())
	b, err := r.recorder.Attach(r.handle, format, location)
	if err != nil {
		return fmt.Errorf("videoreceiver: %w", err)
	}

	r.branch = b
	metrics.IncRecordingStarted()
	r.setRecording(true, b)
	r.logger.Info("receiver: recording started", "id", b.ID, "location", b.Location)
	return nil
}

// stopRecording installs an idle probe on the tap. Whichever probe callback
// flips the branch to quiescing first posts the detach; the tap stays blocked
// until the detach releases it.
func (r *Receiver) stopRecording() error {
	b := r.branch
	if b == nil || b.Detached() {
		return ErrNotRecording
	}
	tap := b.Tap()
	if tap == nil {
		return ErrNotRecording
	}

	r.logger.Info("receiver: stopping recording", "id", b.ID)
	r.drainDeadline = time.Now().Add(r.stopTimeout)
	tap.AddIdleProbe(func() {
		if !b.Quiesce() {
			return
		}
		r.post(func() { r.detachBranch(b) })
	})
	return nil
}

// detachBranch moves b into the drain pipeline and watches the drain's bus.
// A branch that cannot be drained is finalized at once.
func (r *Receiver) detachBranch(b *recording.Branch) {
	if r.branch != b || b.Detached() || r.handle == nil {
		return
	}

	if err := r.recorder.Detach(r.handle, b); err != nil {
		r.logger.Error("receiver: recording drain failed, finalizing now", "id", b.ID, "error", err)
		r.finalizeBranch(false)
		return
	}
	bus := b.DrainBus()
	if bus == nil {
		r.logger.Warn("receiver: recording drain has no bus, finalizing now", "id", b.ID)
		r.finalizeBranch(false)
		return
	}
	r.drainWatch = r.watch(b.Drain(), bus)
	r.drainDeadline = time.Now().Add(r.stopTimeout)
}

func (r *Receiver) onDrainMessage(msg media.Message) {
	switch msg.Type {
	case media.MessageEOS:
		r.finalizeBranch(true)
	case media.MessageError:
		r.logger.Warn("receiver: recording drain error",
			"error", msg.Err,
			"category", msg.Category.String(),
			"source", msg.Source,
		)
		metrics.IncGraphError(msg.Category.String())
		r.finalizeBranch(false)
	}
}

// finalizeBranch releases the drain and the branch, then continues a stop
// that was waiting for the recording.
func (r *Receiver) finalizeBranch(clean bool) {
	b := r.branch
	if b == nil {
		return
	}

	r.drainWatch.stop()
	r.drainWatch = nil
	r.recorder.Finalize(b)
	r.branch = nil
	r.drainDeadline = time.Time{}

	metrics.IncRecordingFinalized(clean)
	r.setRecording(false, b)
	r.events.Publish(events.RecordingFinalizedEvent{
		ID:        b.ID,
		Location:  b.Location,
		Duration:  time.Since(b.StartedAt),
		Clean:     clean,
		Timestamp: time.Now(),
	})

	if r.stopAfterDrain {
		r.stopAfterDrain = false
		r.stop()
	}
}

// checkDrain bounds both halves of stopping a recording. A tap that never went
// idle is detached anyway; a drain that never reported back is finalized.
func (r *Receiver) checkDrain(now time.Time) {
	b := r.branch
	if b == nil || r.drainDeadline.IsZero() || now.Before(r.drainDeadline) {
		return
	}
	if !b.Detached() {
		r.logger.Warn("receiver: recording tap never went idle, detaching anyway",
			"id", b.ID,
			"timeout", r.stopTimeout,
		)
		r.drainDeadline = time.Time{}
		b.Quiesce()
		if r.handle == nil {
			r.finalizeBranch(false)
			return
		}
		r.detachBranch(b)
		return
	}
	r.logger.Warn("receiver: recording drain timed out, forcing finalization",
		"id", r.branch.ID,
		"timeout", r.stopTimeout,
	)
	r.finalizeBranch(false)
}

// enforceRetention deletes the oldest recordings until the directory fits the
// configured quota.
func (r *Receiver) enforceRetention(dir string) {
	policy := retention.PolicyFromMegabytes(r.settings.StorageLimitEnabled(), r.settings.MaxVideoSizeMB())
	if !policy.Enabled {
		return
	}

	res, err := retention.Enforce(dir, policy.MaxBytes)
	if err != nil {
		r.logger.Warn("receiver: retention failed", "dir", dir, "error", err)
		return
	}
	if len(res.Evicted) == 0 {
		return
	}

	metrics.AddEvicted(len(res.Evicted), res.EvictedBytes)
	r.events.Publish(events.FilesEvictedEvent{
		Paths:     res.Evicted,
		Bytes:     res.EvictedBytes,
		Remaining: res.TotalBytes,
		Timestamp: time.Now(),
	})
}

func (r *Receiver) userMessage(text string) {
	r.logger.Warn("receiver: " + text)
	r.events.Publish(events.UserMessageEvent{Message: text, Timestamp: time.Now()})
}

func (r *Receiver) setRecording(v bool, b *recording.Branch) {
	if v {
		loc := b.Location
		r.location.Store(&loc)
	} else {
		r.location.Store(nil)
	}
	if r.recording.Swap(v) == v {
		return
	}
	r.events.Publish(events.RecordingChangedEvent{
		Recording: v,
		ID:        b.ID,
		Location:  b.Location,
		Timestamp: time.Now(),
	})
}
