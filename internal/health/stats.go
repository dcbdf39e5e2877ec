package health

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/metrics"
)

// JitterStats is one reading of a jitter buffer.
type JitterStats struct {
	Pushed     uint64
	Lost       uint64
	Late       uint64
	Duplicates uint64
	Percent    int
}

// StatsPoller reads jitter buffer statistics and exports them.
type StatsPoller struct {
	logger *slog.Logger
}

// NewStatsPoller returns a poller logging under "health".
func NewStatsPoller() *StatsPoller {
	return &StatsPoller{logger: logging.GetLogger("health")}
}

// Poll reads the buffer's stats structure and fill level and publishes them to
// metrics. A nil element (no datagram graph) is not an error.
func (p *StatsPoller) Poll(jitter media.Element) (JitterStats, error) {
	var s JitterStats
	if jitter == nil {
		return s, nil
	}

	raw, err := jitter.Property("stats")
	if err != nil {
		return s, fmt.Errorf("health: read jitter stats: %w", err)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return s, fmt.Errorf("health: unexpected jitter stats type %T", raw)
	}
	s.Pushed = toUint(fields["num-pushed"])
	s.Lost = toUint(fields["num-lost"])
	s.Late = toUint(fields["num-late"])
	s.Duplicates = toUint(fields["num-duplicates"])

	if v, err := jitter.Property("percent"); err == nil {
		s.Percent = int(toUint(v))
	}

	metrics.SetJitterStat(metrics.JitterPushed, s.Pushed)
	metrics.SetJitterStat(metrics.JitterLost, s.Lost)
	metrics.SetJitterStat(metrics.JitterLate, s.Late)
	metrics.SetJitterStat(metrics.JitterDuplicates, s.Duplicates)
	metrics.SetJitterPercent(s.Percent)

	p.logger.Debug("health: jitter buffer",
		"pushed", s.Pushed,
		"lost", s.Lost,
		"late", s.Late,
		"duplicates", s.Duplicates,
		"percent", s.Percent,
	)
	return s, nil
}

func toUint(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case uint:
		return uint64(n)
	case uint32:
		return uint64(n)
	case int:
		if n > 0 {
			return uint64(n)
		}
	case int64:
		if n > 0 {
			return uint64(n)
		}
	case int32:
		if n > 0 {
			return uint64(n)
		}
	}
	return 0
}
