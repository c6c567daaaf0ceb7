package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher emits domain events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Envelope) error
	Close() error
}

// KafkaPublisher writes envelopes to a Kafka topic keyed by order id so all
// events for one order land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher over the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("events: topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}, nil
}

// Publish implements the Publisher interface.
func (p *KafkaPublisher) Publish(ctx context.Context, event Envelope) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements the Publisher interface.
func (NopPublisher) Publish(context.Context, Envelope) error { return nil }

// Close implements the Publisher interface.
func (NopPublisher) Close() error { return nil }
