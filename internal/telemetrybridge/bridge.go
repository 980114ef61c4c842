// Package telemetrybridge republishes decoded telemetry values onto an
// MQTT broker. It is a one-way publish-only bridge: the uplink/downlink
// engines are the authority on state, MQTT is an observability sink, not
// a control path.
package telemetrybridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openairlink/airlink/internal/config"
	"github.com/openairlink/airlink/libs/substream"
)

// Reading is one telemetry slot update, JSON-encoded for publication.
type Reading struct {
	ID    uint8  `json:"id"`
	Kind  uint8  `json:"kind"`
	Value uint32 `json:"value"`
	At    string `json:"at"`
}

// Bridge holds a persistent MQTT connection and publishes telemetry
// readings to cfg.Topic, suffixed by direction and slot id.
type Bridge struct {
	client mqtt.Client
	topic  string
	log    *slog.Logger
}

// Open connects to the broker named in cfg. The connection auto
// reconnects per cfg.AutoReconnect; Open blocks only for the initial
// handshake.
func Open(cfg *config.MQTT) (*Bridge, error) {
	log := slog.With("func", "telemetrybridge.Open", "params", "(*config.MQTT)", "return", "(*Bridge, error)", "package", "telemetrybridge")
	log.Info("connecting to MQTT broker", "address", cfg.BrokerAddress, "port", cfg.BrokerPort)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerAddress, cfg.BrokerPort)).
		SetClientID("airlink").
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(cfg.AutoReconnect).
		SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("telemetrybridge: connect to %s:%d timed out", cfg.BrokerAddress, cfg.BrokerPort)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetrybridge: connect: %w", err)
	}

	log.Info("MQTT connected")
	return &Bridge{client: client, topic: cfg.Topic, log: log}, nil
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// publishes to drain.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

// PublishUplink republishes a TX-side telemetry slot (handset state:
// battery, RSSI, etc.) under <topic>/uplink/<id>.
func (b *Bridge) PublishUplink(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
	b.publish("uplink", id, kind, value, now)
}

// PublishDownlink republishes an RX-side telemetry slot (FC state
// relayed over the air link) under <topic>/downlink/<id>.
func (b *Bridge) PublishDownlink(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
	b.publish("downlink", id, kind, value, now)
}

func (b *Bridge) publish(direction string, id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
	reading := Reading{ID: id, Kind: uint8(kind), Value: value, At: now.UTC().Format(time.RFC3339Nano)}
	payload, err := json.Marshal(reading)
	if err != nil {
		b.log.Warn("failed to encode telemetry reading", "error", err)
		return
	}
	topic := fmt.Sprintf("%s/%s/%d", b.topic, direction, id)
	token := b.client.Publish(topic, 0, false, payload)
	if token.WaitTimeout(time.Second) && token.Error() != nil {
		b.log.Warn("failed to publish telemetry reading", "topic", topic, "error", token.Error())
	}
}
