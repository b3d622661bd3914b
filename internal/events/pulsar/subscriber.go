package pulsar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// Subscriber implements events.Subscriber using a Pulsar subscription
type Subscriber struct {
	client   pulsar.Client
	consumer pulsar.Consumer
	topic    string
}

// NewSubscriber subscribes to topic. Agents sharing subscriptionName split
// the events between them; give each agent its own name to receive all of them.
func NewSubscriber(url, topic, subscriptionName string) (*Subscriber, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pulsar client: %w", err)
	}

	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		SubscriptionName: subscriptionName,
		Type:             pulsar.Shared,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Pulsar consumer: %w", err)
	}

	return &Subscriber{client: client, consumer: consumer, topic: topic}, nil
}

// Subscribe receives events until ctx is done. Handler failures are nacked
// for redelivery; undecodable messages are acked and dropped.
func (s *Subscriber) Subscribe(ctx context.Context, handler events.Handler) error {
	logger.Infof("Subscribing to migration events on Pulsar topic %s", s.topic)

	for {
		msg, err := s.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive message from Pulsar: %w", err)
		}

		var event events.Event
		if err := json.Unmarshal(msg.Payload(), &event); err != nil {
			logger.Errorf("Failed to decode event from Pulsar message %v: %v", msg.ID(), err)
			s.ack(msg)
			continue
		}

		if err := handler(ctx, &event); err != nil {
			logger.Errorf("Failed to handle %s for %s: %v", event.Type, event.Filename, err)
			s.consumer.Nack(msg)
			continue
		}
		s.ack(msg)
	}
}

func (s *Subscriber) ack(msg pulsar.Message) {
	if err := s.consumer.Ack(msg); err != nil {
		logger.Warnf("Failed to acknowledge Pulsar message %v: %v", msg.ID(), err)
	}
}

// Close closes the consumer and the client
func (s *Subscriber) Close() error {
	s.consumer.Close()
	s.client.Close()
	return nil
}
