package transport

// Capabilities describes how a broker delivers work. The RPC worker and the
// pipeline stages rely on competing consumers and redelivery, so the runtime
// logs a warning when the selected transport lacks them.
type Capabilities struct {
	// Name is the registry key of the transport.
	Name string

	// CompetingConsumers means several subscribers on one queue share the
	// messages instead of each receiving a copy.
	CompetingConsumers bool

	// Durable means queued messages survive a broker or process restart.
	Durable bool

	// SupportsAck and SupportsNack report explicit acknowledgement and redelivery.
	SupportsAck  bool
	SupportsNack bool

	SupportsOrdering bool

	// MaxMessageSize in bytes, 0 when unknown or unlimited.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack plus nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SuitableForWorkQueues reports whether the transport can spread a queue over
// many workers and redeliver unacknowledged messages.
func (c Capabilities) SuitableForWorkQueues() bool {
	return c.CompetingConsumers && c.SupportsReliableDelivery()
}

// Known capability sets, registered by the transport sub-packages.
var (
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		CompetingConsumers: false,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsOrdering:   true,
		MaxMessageSize:     1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		CompetingConsumers: true,
		MaxMessageSize:     1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:               "nats",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
		MaxMessageSize:     1048576,
	}

	AWSCapabilities = Capabilities{
		Name:               "aws",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		MaxMessageSize:     262144,
	}

	SQLiteCapabilities = Capabilities{
		Name:               "sqlite",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}

	PostgresCapabilities = Capabilities{
		Name:               "postgres",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
