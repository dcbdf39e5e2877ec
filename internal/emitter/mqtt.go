// Package emitter publishes receiver status records to an MQTT broker.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
)

// ErrRateLimited is returned when a record is dropped to protect the broker.
var ErrRateLimited = errors.New("emitter: rate limited")

// Publisher sends one payload. The MQTT client adapter satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Record is the msgpack envelope of every status message.
type Record struct {
	Kind   string    `msgpack:"kind"`
	SentAt time.Time `msgpack:"sent_at"`
	Event  any       `msgpack:"event"`
}

// Stats contains emitter statistics
type Stats struct {
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// Emitter turns bus events into MQTT status records.
type Emitter struct {
	topic   string
	qos     byte
	pub     Publisher
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	published map[string]uint64
	dropped   uint64
	errors    uint64
}

// New returns an emitter publishing under cfg.Topic. At most perSecond records
// are sent per second, with bursts up to burst.
func New(cfg config.MQTTConfig, pub Publisher, perSecond float64, burst int) *Emitter {
	return &Emitter{
		topic:     cfg.Topic,
		qos:       cfg.QoS,
		pub:       pub,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:    logging.GetLogger("emitter"),
		published: make(map[string]uint64),
	}
}

// Attach subscribes to the receiver's events. The returned function
// unsubscribes every handler.
func (e *Emitter) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(ev events.StateChangedEvent) { e.emit("state", ev) }),
		bus.Subscribe(func(ev events.StreamingChangedEvent) { e.emit("streaming", ev) }),
		bus.Subscribe(func(ev events.VideoRunningChangedEvent) { e.emit("video_running", ev) }),
		bus.Subscribe(func(ev events.RecordingChangedEvent) { e.emit("recording", ev) }),
		bus.Subscribe(func(ev events.RecordingFinalizedEvent) { e.emit("recording_finalized", ev) }),
		bus.Subscribe(func(ev events.FilesEvictedEvent) { e.emit("files_evicted", ev) }),
		bus.Subscribe(func(ev events.UserMessageEvent) { e.emit("user_message", ev) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (e *Emitter) emit(kind string, ev any) {
	if err := e.Emit(kind, ev); err != nil && !errors.Is(err, ErrRateLimited) {
		e.logger.Warn("emitter: publish failed", "kind", kind, "error", err)
	}
}

// Emit encodes ev and publishes it to <topic>/<kind>.
func (e *Emitter) Emit(kind string, ev any) error {
	if !e.limiter.Allow() {
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		return ErrRateLimited
	}

	payload, err := msgpack.Marshal(Record{Kind: kind, SentAt: time.Now(), Event: ev})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	topic := e.topic + "/" + kind
	if err := e.pub.Publish(topic, e.qos, payload); err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("emitter: status published", "topic", topic, "size", len(payload))
	return nil
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Dropped: e.dropped, Errors: e.errors}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Client is a Publisher backed by a paho MQTT client.
type Client struct {
	client mqtt.Client
	broker string
	logger *slog.Logger
}

// Connect establishes connection to the MQTT broker. The client reconnects on
// its own after a lost connection.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	logger := logging.GetLogger("emitter")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("emitter: mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
			"max_retry_interval", "30s",
		)
	}

	c := &Client{client: mqtt.NewClient(opts), broker: cfg.Broker, logger: logger}
	logger.Info("emitter: connecting to mqtt broker", "broker", cfg.Broker)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return c, nil
}

// Publish implements Publisher.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect closes the MQTT connection
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("emitter: mqtt disconnected", "broker", c.broker)
	}
}
