// Package eventbus provides topic based publish/subscribe between the engine components.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/dukex/flowrule/pkg/events"
)

type Event interface {
	GetType() events.EventType
	GetTenantID() string
}

// Message is a delivered event.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type EventSubscriber interface {
	// Subscribe delivers every message of topic to handler until the returned
	// function is called or ctx is done.
	Subscribe(ctx context.Context, topic string, handler EventHandler) (func(), error)
}

type EventHandler func(ctx context.Context, msg *Message) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Emit publishes a typed event on the topic named after its type, keyed by tenant.
func Emit(ctx context.Context, publisher EventPublisher, event Event) error {
	return publisher.Publish(ctx, string(event.GetType()), event.GetTenantID(), event)
}
