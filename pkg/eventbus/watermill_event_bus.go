package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrule/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends payload as JSON. Raw []byte and json.RawMessage payloads are sent as is.
func (eb *WatermillEventBus) Publish(ctx context.Context, topic, key string, payload any) error {
	var (
		data []byte
		err  error
	)

	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
		}
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), data)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, topic)
	msg.SetContext(ctx)

	err = eb.publisher.Publish(topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe consumes topic in a goroutine. Handler errors are logged and the
// message is acked so a poison message never blocks the topic.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	messages, err := eb.subscriber.Subscribe(subCtx, topic)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	eb.wg.Add(1)

	go func() {
		defer eb.wg.Done()

		for msg := range messages {
			delivered := &Message{
				ID:      msg.UUID,
				Topic:   topic,
				Key:     msg.Metadata.Get(events.EventMetadataKey),
				Payload: msg.Payload,
			}

			err := handler(subCtx, delivered)
			if err != nil {
				eb.logger.ErrorContext(subCtx, "Event handler failed", "topic", topic, "message_id", msg.UUID, "error", err)
			}

			msg.Ack()
		}
	}()

	return cancel, nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	err = eb.subscriber.Close()
	if err != nil {
		return err
	}

	eb.wg.Wait()

	return nil
}
