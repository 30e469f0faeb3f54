// Package telemetry publishes gateway status and protocol events to an
// MQTT broker. All messages are JSON and carry host metadata so a fleet
// of gateways can share one broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/config"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	topicStatus = "status" // periodic heartbeat snapshots
	topicEvents = "events" // republished bus events
	topicAdmin  = "admin"  // lifecycle messages (startup, shutdown)
)

// busEvents are the event types republished to the broker.
var busEvents = []events.EventType{
	events.EventSessionEstablished,
	events.EventSessionClosed,
	events.EventSessionReplaced,
	events.EventLoginAttempt,
	events.EventLoginSuccess,
	events.EventLoginFailure,
	events.EventAccountCreated,
	events.EventClusterStatus,
	events.EventPlayerCount,
}

// Publisher owns the MQTT connection. When telemetry is disabled in the
// config every method is a no-op, so callers never need to branch.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.EventBus
	client mqtt.Client
	logger zerolog.Logger
	prefix string

	// metadata is included in every published message.
	metadata map[string]interface{}
}

// NewPublisher builds the MQTT client from config. The connection is not
// opened until Start. The event bus may be nil; then only heartbeats and
// lifecycle messages are published.
func NewPublisher(cfg config.MQTTConfig, serverName, version string, bus *events.EventBus) (*Publisher, error) {
	p := &Publisher{
		cfg:    cfg,
		bus:    bus,
		logger: log.With().Str("component", "telemetry").Logger(),
		prefix: cfg.TopicPrefix,
	}
	if p.prefix == "" {
		p.prefix = "galaxygate"
	}
	if !cfg.Enabled {
		return p, nil
	}

	sysInfo := util.GetSystemInfo()
	p.metadata = map[string]interface{}{
		"server":   serverName,
		"hostname": sysInfo.Hostname,
		"platform": sysInfo.Platform,
		"version":  version,
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("galaxygate-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Start connects to the broker, announces startup, and begins forwarding
// bus events. It returns nil immediately when telemetry is disabled.
func (p *Publisher) Start() error {
	if p.client == nil {
		p.logger.Debug().Msg("telemetry disabled")
		return nil
	}

	p.logger.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Bool("tls", p.cfg.UseTLS).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.subscribeEvents()
	p.publish(p.topic(topicAdmin), map[string]interface{}{"event": "startup"})
	return nil
}

// Stop announces shutdown and closes the connection.
func (p *Publisher) Stop() {
	if p.client == nil {
		return
	}
	p.PublishShutdown()
	p.client.Disconnect(5000)
	p.logger.Info().Msg("MQTT disconnected")
}

// Enabled reports whether telemetry is configured on.
func (p *Publisher) Enabled() bool {
	return p.client != nil
}

// Connected reports whether the broker connection is up.
func (p *Publisher) Connected() bool {
	return p.client != nil && p.client.IsConnected()
}

// PublishStatus sends a heartbeat snapshot to the status topic. The
// scheduler calls this on its heartbeat interval.
func (p *Publisher) PublishStatus(payload interface{}) {
	p.publish(p.topic(topicStatus), payload)
}

// PublishShutdown sends a final lifecycle message before disconnect.
func (p *Publisher) PublishShutdown() {
	p.publish(p.topic(topicAdmin), map[string]interface{}{"event": "shutdown"})
}

// subscribeEvents forwards protocol and login events to the events topic
// and routed notifications to their own topics.
func (p *Publisher) subscribeEvents() {
	if p.bus == nil {
		return
	}
	for _, t := range busEvents {
		t := t
		p.bus.Subscribe(t, "telemetry."+string(t), func(ctx context.Context, event events.Event) error {
			p.publish(p.topic(topicEvents), map[string]interface{}{
				"event":   string(event.Type),
				"source":  event.Source,
				"payload": event.Payload,
			})
			return nil
		})
	}
	p.bus.Subscribe(events.EventNotifyMQTT, "telemetry.notify", p.onNotify)
}

// onNotify publishes a pre-routed notification, such as a degraded health
// check, to the topic named in its payload.
func (p *Publisher) onNotify(ctx context.Context, event events.Event) error {
	notify, ok := event.Payload.(events.NotifyMQTTPayload)
	if !ok {
		p.logger.Warn().Str("source", event.Source).Msg("notify event with unexpected payload")
		return nil
	}
	p.publish(p.topic(notify.Topic), notify.Data)
	return nil
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// publish sends a JSON message at QoS 1. Failures are logged, never
// propagated; telemetry must not stall the gateway.
func (p *Publisher) publish(topic string, payload interface{}) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(p.buildMessage(payload))
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage wraps a payload with host metadata and a timestamp.
func (p *Publisher) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
