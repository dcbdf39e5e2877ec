package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	videoreceiver "github.com/e7canasta/orion-care-sensor/modules/video-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/source"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/surface"
)

const (
	// Status records allowed per second towards the broker, and their burst.
	mqttRate  = 10
	mqttBurst = 20
)

type options struct {
	configPath  string
	logLevel    string
	metricsAddr string
	record      bool
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "video-receiver",
		Short: "Receive, supervise and record a live H.264 stream",
		Long: `Receives an RTSP, UDP/RTP or TCP/MPEG-TS H.264 stream, decodes it, restarts it when ` +
			`frames stop arriving and records it to disk. Health and Prometheus metrics are served over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "Path to configuration file (.yaml or .toml)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Override health/metrics listen address")
	cmd.Flags().BoolVar(&o.record, "record", false, "Start recording as soon as the stream plays")
	return cmd
}

func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Listen = o.metricsAddr
	}
	return cfg, nil
}

// initialURI is the configured stream URI, or the first source when none is set.
func initialURI(cfg *config.Config, sel *source.Selector) (string, error) {
	if cfg.Stream.URI != "" {
		return cfg.Stream.URI, nil
	}
	node, ok := sel.Current()
	if !ok {
		return "", nil
	}
	ep, err := node.Endpoint()
	if err != nil {
		return "", err
	}
	return ep.URI, nil
}

func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Initialize(cfg.Logging)
	logger := logging.GetLogger("main")
	logger.Info("starting video-receiver",
		"config", o.configPath,
		"log_level", cfg.Logging.Level,
		"metrics", cfg.Metrics.Listen,
		"record", o.record,
	)

	if err := gstreamer.Available(); err != nil {
		logger.Error("gstreamer check failed", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw := gstreamer.New()
	surf, err := surface.New(fw)
	if err != nil {
		return fmt.Errorf("failed to create surface: %w", err)
	}
	defer surf.Close()

	store := config.NewStore(cfg)
	selector := source.NewSelector(cfg.Nodes())
	bus := events.New()
	defer bus.Close()

	uri, err := initialURI(cfg, selector)
	if err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	receiver, err := videoreceiver.New(videoreceiver.Options{
		Framework:   fw,
		Surface:     surf,
		Settings:    store,
		Selector:    selector,
		Events:      bus,
		URI:         uri,
		Latency:     cfg.Latency(),
		Probe:       probe.Config{RetryInterval: cfg.ProbeRetry()},
		StopTimeout: cfg.StopTimeout(),
	})
	if err != nil {
		return err
	}

	if o.configPath != "" {
		watcher := config.NewWatcher(o.configPath, logging.GetLogger("config"))
		watcher.ReloadInto(store)
		watcher.OnReload(func(next *config.Config) {
			selector.Replace(next.Nodes())
			logging.Initialize(next.Logging)
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	if cfg.MQTT.Broker != "" {
		client, err := emitter.Connect(ctx, cfg.MQTT)
		if err != nil {
			logger.Warn("mqtt status publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer client.Disconnect()
			detach := emitter.New(cfg.MQTT, client, mqttRate, mqttBurst).Attach(bus)
			defer detach()
		}
	}

	if o.record {
		unsub := bus.Subscribe(func(ev events.StreamingChangedEvent) {
			if !ev.Streaming || receiver.Recording() {
				return
			}
			if err := receiver.StartRecording(); err != nil && !errors.Is(err, videoreceiver.ErrAlreadyRecording) {
				logger.Warn("automatic recording failed", "error", err)
			}
		})
		defer unsub()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiver.Run(gctx)
	})
	g.Go(func() error {
		return serveHTTP(gctx, cfg.Metrics.Listen, newRouter(receiver))
	})
	g.Go(func() error {
		if err := receiver.Start(); err != nil {
			logger.Warn("initial start failed, the health monitor will retry", "error", err)
		}
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Debug("systemd notify failed", "error", err)
		} else if ok {
			logger.Debug("systemd notified ready")
		}
		return nil
	})

	err = g.Wait()
	logger.Info("video-receiver stopped", "error", err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
