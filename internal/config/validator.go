package config

import (
	"fmt"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.Video.MaxVideoSizeMB < 0 {
		return fmt.Errorf("video.max_video_size_mb must be >= 0")
	}
	if _, err := recording.FormatAt(cfg.Video.RecordingFormat); err != nil {
		return fmt.Errorf("video.recording_format: %w", err)
	}
	if cfg.Video.RTSPTimeoutS < 0 {
		return fmt.Errorf("video.rtsp_timeout_s must be >= 0")
	}

	if cfg.Stream.LatencyMS < 0 {
		return fmt.Errorf("stream.latency_ms must be >= 0")
	}
	if cfg.Stream.StopTimeoutS <= 0 {
		cfg.Stream.StopTimeoutS = 10
	}
	if cfg.Stream.ProbeRetryS <= 0 {
		cfg.Stream.ProbeRetryS = 5
	}
	if cfg.Stream.URI != "" {
		if _, err := endpoint.Parse(cfg.Stream.URI, 0); err != nil {
			return fmt.Errorf("stream.uri: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name '%s'", i, s.Name)
		}
		seen[s.Name] = true

		if s.URI == "" && (s.TargetPort <= 0 || s.TargetPort > 65535) {
			return fmt.Errorf("source '%s': either uri or target_port (1-65535) is required", s.Name)
		}
		if s.URI != "" {
			if _, err := endpoint.Parse(s.URI, 0); err != nil {
				return fmt.Errorf("source '%s': %w", s.Name, err)
			}
		}
		if s.LatencyMS < 0 {
			return fmt.Errorf("source '%s': latency_ms must be >= 0", s.Name)
		}
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", cfg.Logging.Format)
	}

	// MQTT is optional; default the identity when a broker is set
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "video-receiver"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("video-receiver/%s/status", cfg.MQTT.ClientID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}
