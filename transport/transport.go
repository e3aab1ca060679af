// Package transport defines how taskflow obtains a Watermill publisher and
// subscriber pair for the configured broker. Each broker lives in its own
// sub-package and registers a Builder with the DefaultRegistry from init.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Caps overrides the registry capabilities when delivery semantics
	// depend on configuration. Registry.Build fills it in when nil.
	Caps *Capabilities
}

// Close closes the publisher and then the subscriber, returning the first error.
func (t Transport) Close() error {
	var firstErr error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes only the settings transports need, so sub-packages do not
// depend on the full runtime config.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSJetStream() bool
	GetNATSQueueGroup() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS SQS
	GetAWSRegion() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// QueueIntrospector is implemented by subscribers that can count messages
// still waiting on a queue. The SQL-backed queues implement it.
type QueueIntrospector interface {
	GetPendingCount(ctx context.Context, topic string) (int64, error)
}

// Starter is implemented by subscribers that must begin serving only after
// every handler has subscribed, such as the HTTP webhook subscriber. The
// runtime calls Start once the router is running.
type Starter interface {
	Start(ctx context.Context) error
}
