package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const yamlConfig = `
video:
  storage_limit_enabled: true
  max_video_size_mb: 512
  recording_format: 2
  save_path: /var/lib/video
  rtsp_timeout_s: 5
stream:
  uri: rtsp://camera.local:8554/live
  latency_ms: 40
sources:
  - name: drone
    target_port: 5600
  - name: gate
    uri: rtsp://gate.local/live
    latency_ms: 100
logging:
  level: debug
  format: json
  modules:
    probe: warn
mqtt:
  broker: tcp://broker:1883
`

const tomlConfig = `
[video]
storage_limit_enabled = true
max_video_size_mb = 256
recording_format = 1
save_path = "/data"

[stream]
uri = "udp://0.0.0.0:5600"

[[sources]]
name = "yard"
uri = "tcp://10.0.0.9:5000"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "receiver.yaml", yamlConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Video.StorageLimitEnabled)
	assert.Equal(t, 512, cfg.Video.MaxVideoSizeMB)
	assert.Equal(t, 2, cfg.Video.RecordingFormat)
	assert.Equal(t, "/var/lib/video", cfg.Video.SavePath)
	assert.Equal(t, 40*time.Millisecond, cfg.Latency())
	assert.Equal(t, 10*time.Second, cfg.StopTimeout(), "default kept")
	assert.Equal(t, 5*time.Second, cfg.ProbeRetry(), "default kept")
	assert.Equal(t, "warn", cfg.Logging.Modules["probe"])

	nodes := cfg.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, 5600, nodes[0].TargetPort)
	assert.Equal(t, 100*time.Millisecond, nodes[1].Latency)

	assert.Equal(t, "video-receiver", cfg.MQTT.ClientID)
	assert.Equal(t, "video-receiver/video-receiver/status", cfg.MQTT.Topic)
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "receiver.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Video.MaxVideoSizeMB)
	assert.Equal(t, 1, cfg.Video.RecordingFormat)
	assert.Equal(t, "udp://0.0.0.0:5600", cfg.Stream.URI)
	assert.Equal(t, 20*time.Millisecond, cfg.Latency(), "default latency")
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "yard", cfg.Sources[0].Name)
	assert.Empty(t, cfg.MQTT.Topic, "no broker, no MQTT defaults")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "video: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[video\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"format out of range", func(c *Config) { c.Video.RecordingFormat = 3 }, true},
		{"negative size", func(c *Config) { c.Video.MaxVideoSizeMB = -1 }, true},
		{"negative latency", func(c *Config) { c.Stream.LatencyMS = -5 }, true},
		{"udp without port", func(c *Config) { c.Stream.URI = "udp://0.0.0.0" }, true},
		{"source without name", func(c *Config) { c.Sources = []SourceConfig{{URI: "rtsp://x/y"}} }, true},
		{"source without uri or port", func(c *Config) { c.Sources = []SourceConfig{{Name: "a"}} }, true},
		{"duplicate source", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "a", TargetPort: 1}, {Name: "a", TargetPort: 2}}
		}, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad qos", func(c *Config) { c.MQTT = MQTTConfig{Broker: "tcp://b:1883", QoS: 3} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	cfg := Default()
	cfg.Video.RecordingFormat = 7
	assert.ErrorIs(t, Validate(cfg), recording.ErrInvalidFormat)
}

func TestStore(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, 10240, s.MaxVideoSizeMB())
	assert.Equal(t, 2*time.Second, s.RTSPTimeout())

	next := Default()
	next.Video.SavePath = "/data"
	next.Video.StorageLimitEnabled = true
	next.Video.RecordingFormat = 1
	prev := s.Swap(next)

	assert.Equal(t, "", prev.Video.SavePath)
	assert.Equal(t, "/data", s.SavePath())
	assert.True(t, s.StorageLimitEnabled())
	assert.Equal(t, 1, s.RecordingFormat())
}

func TestWatcher_ReloadsIntoStore(t *testing.T) {
	path := writeFile(t, "receiver.yaml", yamlConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	w := NewWatcher(path, slog.Default(), WithDebounce(20*time.Millisecond))
	w.ReloadInto(store)
	require.NoError(t, w.Start())
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte("video:\n  save_path: /reloaded\n"), 0o644))

	require.Eventually(t, func() bool {
		return store.SavePath() == "/reloaded"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_KeepsPreviousOnError(t *testing.T) {
	path := writeFile(t, "receiver.yaml", yamlConfig)
	store := NewStore(nil)
	store.Swap(&Config{Video: VideoConfig{SavePath: "/kept"}})

	var failures atomic.Int32
	w := NewWatcher(path, slog.Default(),
		WithDebounce(10*time.Millisecond),
		WithLoader(func(string) (*Config, error) { return nil, errors.New("broken") }),
		WithErrorHandler(func(error) { failures.Add(1) }),
	)
	w.ReloadInto(store)
	require.NoError(t, w.Start())
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	require.Eventually(t, func() bool { return failures.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/kept", store.SavePath())
}
