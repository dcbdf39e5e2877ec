// Package retention keeps the recordings directory under a byte quota by
// deleting the oldest recordings first.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
)

// Policy is the storage quota read from the settings.
type Policy struct {
	Enabled  bool
	MaxBytes int64
}

// PolicyFromMegabytes converts a megabyte setting into a policy.
func PolicyFromMegabytes(enabled bool, mb int) Policy {
	return Policy{Enabled: enabled, MaxBytes: int64(mb) * 1024 * 1024}
}

// Result captures a single enforcement pass.
type Result struct {
	Files        int      // recognized recordings left after the pass
	TotalBytes   int64    // their combined size
	Evicted      []string // deleted paths, oldest first
	EvictedBytes int64
	Errors       int
}

type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

// Enforce deletes recordings from dir, oldest first, until their combined size
// is at most maxBytes or none are left. Only files with a recording extension
// are considered. Recordings with the same modification time keep directory
// order. A file that cannot be deleted is skipped and counted in Errors.
func Enforce(dir string, maxBytes int64) (Result, error) {
	return enforce(dir, maxBytes, logging.GetLogger("retention"))
}

func enforce(dir string, maxBytes int64, logger *slog.Logger) (Result, error) {
	var res Result

	if strings.TrimSpace(dir) == "" {
		return res, nil
	}
	if maxBytes < 0 {
		return res, fmt.Errorf("retention: negative quota %d", maxBytes)
	}

	files, errs, err := list(dir)
	res.Errors += errs
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("retention: list %s: %w", dir, err)
	}

	// Newest first; eviction walks from the tail.
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	for _, f := range files {
		res.TotalBytes += f.size
	}
	res.Files = len(files)

	for i := len(files) - 1; i >= 0 && res.TotalBytes > maxBytes; i-- {
		f := files[i]
		if err := os.Remove(f.path); err != nil {
			logger.Warn("retention: failed to delete recording", "path", f.path, "error", err)
			res.Errors++
			continue
		}
		res.TotalBytes -= f.size
		res.Files--
		res.Evicted = append(res.Evicted, f.path)
		res.EvictedBytes += f.size
		logger.Info("retention: recording evicted",
			"path", f.path,
			"size", f.size,
			"total", res.TotalBytes,
			"max", maxBytes,
		)
	}

	if res.TotalBytes > maxBytes {
		logger.Warn("retention: quota still exceeded", "total", res.TotalBytes, "max", maxBytes)
	}
	return res, nil
}

func list(dir string) ([]candidate, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var (
		out  []candidate
		errs int
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !recognized(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs++
			continue
		}
		out = append(out, candidate{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return out, errs, nil
}

func recognized(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	for _, want := range recording.Extensions() {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
