// Package config loads the receiver configuration from YAML or TOML and keeps
// the current copy for concurrent readers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/source"
)

// Config represents the complete receiver configuration
type Config struct {
	Video   VideoConfig    `yaml:"video" toml:"video"`
	Stream  StreamConfig   `yaml:"stream" toml:"stream"`
	Sources []SourceConfig `yaml:"sources" toml:"sources"`
	Logging logging.Config `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics" toml:"metrics"`
	MQTT    MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
}

// VideoConfig contains the recording and freshness settings
type VideoConfig struct {
	StorageLimitEnabled bool   `yaml:"storage_limit_enabled" toml:"storage_limit_enabled"`
	MaxVideoSizeMB      int    `yaml:"max_video_size_mb" toml:"max_video_size_mb"`
	RecordingFormat     int    `yaml:"recording_format" toml:"recording_format"` // 0 mkv, 1 mov, 2 mp4
	SavePath            string `yaml:"save_path" toml:"save_path"`
	RTSPTimeoutS        int    `yaml:"rtsp_timeout_s" toml:"rtsp_timeout_s"` // frame freshness limit
}

// StreamConfig contains the default endpoint and controller timing
type StreamConfig struct {
	URI          string `yaml:"uri" toml:"uri"`
	LatencyMS    int    `yaml:"latency_ms" toml:"latency_ms"`         // expected network latency
	StopTimeoutS int    `yaml:"stop_timeout_s" toml:"stop_timeout_s"` // bound on waiting for end-of-stream
	ProbeRetryS  int    `yaml:"probe_retry_s" toml:"probe_retry_s"`   // delay between reachability probes
}

// SourceConfig is one selectable stream source
type SourceConfig struct {
	Name       string `yaml:"name" toml:"name"`
	URI        string `yaml:"uri" toml:"uri"`
	TargetPort int    `yaml:"target_port" toml:"target_port"`
	LatencyMS  int    `yaml:"latency_ms" toml:"latency_ms"`
}

// MetricsConfig contains the health/metrics HTTP server settings
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// MQTTConfig contains the optional status publisher settings
type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Topic    string `yaml:"topic" toml:"topic"`
	QoS      byte   `yaml:"qos" toml:"qos"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Video: VideoConfig{
			StorageLimitEnabled: false,
			MaxVideoSizeMB:      10240,
			RecordingFormat:     0,
			RTSPTimeoutS:        2,
		},
		Stream: StreamConfig{
			LatencyMS:    20,
			StopTimeoutS: 10,
			ProbeRetryS:  5,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Listen: ":9102"},
	}
}

// Load reads a configuration file. Files ending in .toml are parsed as TOML,
// everything else as YAML. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Latency returns the default expected latency.
func (c *Config) Latency() time.Duration {
	return time.Duration(c.Stream.LatencyMS) * time.Millisecond
}

// StopTimeout returns the bound on waiting for end-of-stream.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Stream.StopTimeoutS) * time.Second
}

// ProbeRetry returns the delay between reachability probes.
func (c *Config) ProbeRetry() time.Duration {
	return time.Duration(c.Stream.ProbeRetryS) * time.Second
}

// Nodes converts the configured sources for the selector.
func (c *Config) Nodes() []source.Node {
	nodes := make([]source.Node, 0, len(c.Sources))
	for _, s := range c.Sources {
		nodes = append(nodes, source.Node{
			Name:       s.Name,
			URI:        s.URI,
			TargetPort: s.TargetPort,
			Latency:    time.Duration(s.LatencyMS) * time.Millisecond,
		})
	}
	return nodes
}
