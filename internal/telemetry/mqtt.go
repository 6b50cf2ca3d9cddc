// Package telemetry publishes battle events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicBattleState  = "battle/state"
	TopicBattleTurn   = "battle/turn"
	TopicBattleResult = "battle/result"
	TopicPeers        = "peers"
	TopicChat         = "chat"
	TopicStatus       = "status"
	TopicAdmin        = "admin"
)

var eventTopics = map[events.EventType]string{
	events.EventBattleStarted:   TopicBattleState,
	events.EventStateChanged:    TopicBattleState,
	events.EventDiscrepancy:     TopicBattleState,
	events.EventMoveAnnounced:   TopicBattleTurn,
	events.EventDamageDealt:     TopicBattleTurn,
	events.EventTurnChanged:     TopicBattleTurn,
	events.EventGameOver:        TopicBattleResult,
	events.EventPeerJoined:      TopicPeers,
	events.EventPeerUnreachable: TopicPeers,
	events.EventSpectatorJoined: TopicPeers,
	events.EventSpectatorLeft:   TopicPeers,
	events.EventChatMessage:     TopicChat,
	events.EventHeartbeat:       TopicStatus,
}

const handlerName = "mqtt"

// Publisher forwards bus events to MQTT as JSON at QoS 1.
type Publisher struct {
	mu sync.Mutex

	prefix   string
	broker   string
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// metadata is included in every message.
	metadata map[string]interface{}
}

// NewPublisher builds a publisher from the MQTT config section.
func NewPublisher(cfg config.MQTTConfig, role string, eventBus *events.EventBus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, errors.New("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
	opts.AddBroker(broker)

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("pokeproto-%s-%s", role, sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates in MQTT CA file %s", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		opts.SetTLSConfig(tlsConfig)
	}

	logger := util.ComponentLogger("mqtt")
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info().Str("broker", broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p := newPublisher(mqtt.NewClient(opts), cfg.TopicPrefix, role, eventBus)
	p.broker = broker
	p.metadata["hostname"] = sysInfo.Hostname
	return p, nil
}

func newPublisher(client mqtt.Client, prefix, role string, eventBus *events.EventBus) *Publisher {
	return &Publisher{
		prefix:   prefix,
		eventBus: eventBus,
		client:   client,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"role": role,
		},
	}
}

// Start connects to the broker, forwards events until ctx is cancelled,
// then announces shutdown and disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	p.logger.Info().Str("broker", p.broker).Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.subscribeEvents()

	<-ctx.Done()

	p.unsubscribeEvents()
	p.PublishShutdown()
	p.client.Disconnect(2000)
	p.logger.Info().Msg("MQTT disconnected")

	return nil
}

func (p *Publisher) subscribeEvents() {
	for t := range eventTopics {
		p.eventBus.Subscribe(t, handlerName, p.onEvent)
	}
}

func (p *Publisher) unsubscribeEvents() {
	for t := range eventTopics {
		p.eventBus.Unsubscribe(t, handlerName)
	}
}

func (p *Publisher) onEvent(ctx context.Context, event events.Event) error {
	topic, ok := eventTopics[event.Type]
	if !ok {
		return nil
	}
	p.publish(topic, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// Topic joins the prefix and a topic suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (p *Publisher) publish(topic string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(p.buildMessage(payload))
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	full := p.Topic(topic)
	token := p.client.Publish(full, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (p *Publisher) buildMessage(payload interface{}) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the broker.
func (p *Publisher) PublishShutdown() {
	p.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
