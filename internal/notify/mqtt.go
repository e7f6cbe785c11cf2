// Package notify publishes stored sightings to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"platewatch/internal/domain/anpr"
)

const publishTimeout = 2 * time.Second

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTNotifier publishes each sighting as JSON to <prefix>/sightings.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	qos    byte
	log    zerolog.Logger
}

// Connect dials the broker. A bare host:port broker gets the tcp scheme.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*MQTTNotifier, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	log = log.With().Str("component", "mqtt").Str("broker", broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newNotifier(client, cfg, log), nil
}

func newNotifier(client mqtt.Client, cfg Config, log zerolog.Logger) *MQTTNotifier {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTNotifier{
		client: client,
		topic:  prefix + "/sightings",
		qos:    cfg.QoS,
		log:    log,
	}
}

func (n *MQTTNotifier) Notify(ctx context.Context, s anpr.Sighting) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sighting: %w", err)
	}

	token := n.client.Publish(n.topic, n.qos, false, payload)
	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	n.log.Debug().
		Str("topic", n.topic).
		Int64("sighting_id", s.ID).
		Int("size", len(payload)).
		Msg("sighting published")
	return nil
}

func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
		n.log.Info().Msg("mqtt disconnected")
	}
}
