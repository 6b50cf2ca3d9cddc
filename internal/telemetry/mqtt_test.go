package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/events"
)

type doneToken struct {
	mqtt.Token
}

func (doneToken) Wait() bool   { return true }
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	qos   byte
	data  []byte
}

// fakeClient records publishes. Unused mqtt.Client methods panic through
// the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, data: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestPublishesBattleEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	client := &fakeClient{}
	p := newPublisher(client, "pokeproto", "host", bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.HandlerCount(events.EventGameOver) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.EmitSync(ctx, events.Event{
		Type:    events.EventGameOver,
		Payload: events.GameOverPayload{BattleID: "b1", Winner: "Pikachu", Loser: "Eevee", Reason: events.ReasonFainted, Turns: 3},
	})
	bus.EmitSync(ctx, events.Event{Type: events.EventDamageDealt, Payload: events.DamageDealtPayload{BattleID: "b1", Damage: 12}})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs := client.sent()
	if len(msgs) != 3 {
		t.Fatalf("published %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0].topic != "pokeproto/battle/result" || msgs[0].qos != 1 {
		t.Fatalf("first message = %s qos %d", msgs[0].topic, msgs[0].qos)
	}
	if msgs[1].topic != "pokeproto/battle/turn" {
		t.Fatalf("second topic = %s", msgs[1].topic)
	}
	if msgs[2].topic != "pokeproto/admin" {
		t.Fatalf("shutdown topic = %s", msgs[2].topic)
	}

	var body struct {
		Role    string `json:"role"`
		Payload struct {
			Event   string `json:"event"`
			Payload struct {
				Winner string `json:"winner"`
				Reason string `json:"reason"`
			} `json:"payload"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msgs[0].data, &body); err != nil {
		t.Fatal(err)
	}
	if body.Role != "host" || body.Payload.Event != "game_over" ||
		body.Payload.Payload.Winner != "Pikachu" || body.Payload.Payload.Reason != "fainted" {
		t.Fatalf("body = %+v", body)
	}

	if bus.HandlerCount(events.EventGameOver) != 0 {
		t.Fatal("publisher still subscribed after stop")
	}
}

func TestNothingPublishedWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, "", "joiner", events.NewEventBus())
	p.publish(TopicStatus, map[string]string{"x": "y"})
	if len(client.sent()) != 0 {
		t.Fatal("published while disconnected")
	}
	if p.Topic(TopicStatus) != "status" {
		t.Fatalf("Topic = %s", p.Topic(TopicStatus))
	}
}

func TestNewPublisherDisabled(t *testing.T) {
	if _, err := NewPublisher(config.MQTTConfig{}, "host", events.NewEventBus()); err == nil {
		t.Fatal("expected error for disabled MQTT")
	}
}
