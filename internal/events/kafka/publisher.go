package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements events.Publisher using Kafka
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{writer: writer, topic: topic}
}

// Publish writes the event keyed by migration filename so events for one file stay ordered
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Filename),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to Kafka topic %s: %w", p.topic, err)
	}

	logger.Debugf("Published %s for %s to Kafka topic %s", event.Type, event.Filename, p.topic)
	return nil
}

// Close closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
