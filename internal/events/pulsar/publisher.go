package pulsar

import (
	"context"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// Publisher implements events.Publisher using Pulsar
type Publisher struct {
	client   pulsar.Client
	producer pulsar.Producer
	topic    string
}

// NewPublisher creates a new Pulsar publisher
func NewPublisher(url, topic string) (*Publisher, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pulsar client: %w", err)
	}

	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic: topic,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Pulsar producer: %w", err)
	}

	return &Publisher{
		client:   client,
		producer: producer,
		topic:    topic,
	}, nil
}

// Publish sends the event keyed by migration filename
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.producer.Send(ctx, &pulsar.ProducerMessage{
		Key:     event.Filename,
		Payload: payload,
		Properties: map[string]string{
			"type": string(event.Type),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to Pulsar topic %s: %w", p.topic, err)
	}

	logger.Debugf("Published %s for %s to Pulsar topic %s", event.Type, event.Filename, p.topic)
	return nil
}

// Close closes the producer and client
func (p *Publisher) Close() error {
	p.producer.Close()
	p.client.Close()
	return nil
}
