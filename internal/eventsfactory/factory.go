package eventsfactory

import (
	"fmt"
	"strings"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events/kafka"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events/pulsar"
)

// Config holds configuration for creating a publisher
type Config struct {
	Type         string   // "", "none", "kafka" or "pulsar"
	KafkaBrokers []string // Kafka broker addresses
	KafkaTopic   string   // Kafka topic name
	PulsarURL    string   // Pulsar service URL
	PulsarTopic  string   // Pulsar topic name

	KafkaGroupID       string // consumer group used by NewSubscriber
	PulsarSubscription string // subscription name used by NewSubscriber
}

const defaultTopic = "dbagent-migrations"

// NewPublisher creates a publisher based on the configuration. An empty type
// disables events.
func NewPublisher(config *Config) (events.Publisher, error) {
	if config == nil {
		return events.Noop{}, nil
	}

	switch strings.ToLower(config.Type) {
	case "", "none":
		return events.Noop{}, nil

	case "kafka":
		if len(config.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required")
		}
		if config.KafkaTopic == "" {
			config.KafkaTopic = defaultTopic
		}
		return kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic), nil

	case "pulsar":
		if config.PulsarURL == "" {
			return nil, fmt.Errorf("pulsar URL is required")
		}
		if config.PulsarTopic == "" {
			config.PulsarTopic = defaultTopic
		}
		return pulsar.NewPublisher(config.PulsarURL, config.PulsarTopic)

	default:
		return nil, fmt.Errorf("unsupported events type: %s (supported: kafka, pulsar)", config.Type)
	}
}

// NewSubscriber creates a subscriber for the configured broker. It returns
// events.ErrDisabled when no broker is configured.
func NewSubscriber(config *Config) (events.Subscriber, error) {
	if config == nil {
		return nil, events.ErrDisabled
	}

	switch strings.ToLower(config.Type) {
	case "", "none":
		return nil, events.ErrDisabled

	case "kafka":
		if len(config.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required")
		}
		if config.KafkaGroupID == "" {
			return nil, fmt.Errorf("kafka group id is required to subscribe")
		}
		topic := config.KafkaTopic
		if topic == "" {
			topic = defaultTopic
		}
		return kafka.NewSubscriber(config.KafkaBrokers, topic, config.KafkaGroupID), nil

	case "pulsar":
		if config.PulsarURL == "" {
			return nil, fmt.Errorf("pulsar URL is required")
		}
		if config.PulsarSubscription == "" {
			return nil, fmt.Errorf("pulsar subscription is required to subscribe")
		}
		topic := config.PulsarTopic
		if topic == "" {
			topic = defaultTopic
		}
		return pulsar.NewSubscriber(config.PulsarURL, topic, config.PulsarSubscription)

	default:
		return nil, fmt.Errorf("unsupported events type: %s (supported: kafka, pulsar)", config.Type)
	}
}
