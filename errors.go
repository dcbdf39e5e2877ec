package videoreceiver

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
)

var (
	// ErrNoEndpoint is returned by Start when no URI is configured.
	ErrNoEndpoint = errors.New("videoreceiver: no endpoint configured")
	// ErrNoSurface is returned by Start when there is no surface to decode into.
	ErrNoSurface = errors.New("videoreceiver: no destination surface")
	// ErrNotRunning is returned by StartRecording without a live graph.
	ErrNotRunning = errors.New("videoreceiver: pipeline not running")
	// ErrAlreadyRecording is returned by StartRecording while a recording is active.
	ErrAlreadyRecording = errors.New("videoreceiver: already recording")
	// ErrNotRecording is returned by StopRecording without an active recording.
	ErrNotRecording = errors.New("videoreceiver: not recording")
	// ErrClosed is returned once Run has returned.
	ErrClosed = errors.New("videoreceiver: receiver closed")

	// ErrInvalidFormat is returned when the recording format index is out of range.
	ErrInvalidFormat = recording.ErrInvalidFormat
	// ErrNoSavePath is returned when recording is requested without a save path.
	ErrNoSavePath = recording.ErrNoSavePath
)
