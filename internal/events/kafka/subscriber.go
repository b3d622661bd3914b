package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber implements events.Subscriber using a Kafka consumer group
type Subscriber struct {
	reader messageReader
	topic  string
}

// NewSubscriber creates a subscriber in consumer group groupID
func NewSubscriber(brokers []string, topic, groupID string) *Subscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Subscriber{reader: reader, topic: topic}
}

// Subscribe reads events until ctx is done. Messages are committed after the
// handler succeeds; undecodable messages are committed and skipped.
func (s *Subscriber) Subscribe(ctx context.Context, handler events.Handler) error {
	logger.Infof("Subscribing to migration events on Kafka topic %s", s.topic)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		var event events.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Errorf("Failed to decode event from Kafka message at offset %d: %v", msg.Offset, err)
			s.commit(ctx, msg)
			continue
		}

		if err := handler(ctx, &event); err != nil {
			logger.Errorf("Failed to handle %s for %s: %v", event.Type, event.Filename, err)
			continue
		}
		s.commit(ctx, msg)
	}
}

func (s *Subscriber) commit(ctx context.Context, msg kafka.Message) {
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		logger.Warnf("Failed to commit Kafka offset %d: %v", msg.Offset, err)
	}
}

// Close closes the reader
func (s *Subscriber) Close() error {
	return s.reader.Close()
}
