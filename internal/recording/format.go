package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrInvalidFormat is returned for a recording format index outside Formats.
	ErrInvalidFormat = errors.New("recording: invalid recording format")
	// ErrNoSavePath is returned when no save path is configured.
	ErrNoSavePath = errors.New("recording: save path not configured")
)

// Format pairs a container extension with the muxer that writes it.
type Format struct {
	Ext   string
	Muxer string
}

// Formats is indexed by the configured recording format.
var Formats = []Format{
	{Ext: "mkv", Muxer: "matroskamux"},
	{Ext: "mov", Muxer: "qtmux"},
	{Ext: "mp4", Muxer: "mp4mux"},
}

// FormatAt returns the format for a configured index.
func FormatAt(index int) (Format, error) {
	if index < 0 || index >= len(Formats) {
		return Format{}, fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidFormat, index, len(Formats)-1)
	}
	return Formats[index], nil
}

// Extensions lists the extensions of every recognized recording.
func Extensions() []string {
	out := make([]string, len(Formats))
	for i, f := range Formats {
		out[i] = f.Ext
	}
	return out
}

// FileLayout is the timestamp layout of recording file names.
const FileLayout = "2006-01-02_15.04.05"

// FileName returns <dir>/<YYYY-MM-DD_hh.mm.ss>.<ext> for a recording started at t.
func FileName(dir string, f Format, t time.Time) string {
	return filepath.Join(dir, t.Format(FileLayout)+"."+f.Ext)
}

// PrepareDir checks the save path and creates it when missing.
func PrepareDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrNoSavePath
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recording: unable to create save path %q: %w", dir, err)
	}
	return nil
}
