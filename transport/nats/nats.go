// Package nats provides the NATS transport. Workers subscribe through a queue
// group so each subject behaves like a work queue; JetStream can be enabled for
// durable delivery.
package nats

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/taskflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// DefaultQueueGroup is used when the config does not name one.
const DefaultQueueGroup = "taskflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

func connectOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("taskflow"),
		natsgo.MaxReconnects(-1),
	}
}

// Build creates a NATS transport. With JetStream enabled, streams are
// provisioned automatically and topic names are rewritten to valid stream names.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("nats: URL is required")
	}
	useJetStream := cfg.GetNATSJetStream()
	queueGroup := cfg.GetNATSQueueGroup()
	if queueGroup == "" {
		queueGroup = DefaultQueueGroup
	}

	marshaler := &nats.NATSMarshaler{}
	jsConfig := nats.JetStreamConfig{
		Disabled:      !useJetStream,
		AutoProvision: useJetStream,
		DurablePrefix: queueGroup,
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectOptions(),
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: queueGroup,
			NatsOptions:      connectOptions(),
			Unmarshaler:      marshaler,
			JetStream:        jsConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("nats subscriber: %w", err)
	}

	caps := CapabilitiesFor(cfg)
	tr := transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Caps:       &caps,
	}
	if useJetStream {
		return transport.RenameTopics(tr, StreamName), nil
	}
	return tr, nil
}

// Capabilities reports core NATS capabilities. JetStream deployments get
// NATSJetStreamCapabilities from CapabilitiesFor.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// CapabilitiesFor picks the capability set matching the config.
func CapabilitiesFor(cfg transport.Config) transport.Capabilities {
	if cfg != nil && cfg.GetNATSJetStream() {
		return transport.NATSJetStreamCapabilities
	}
	return transport.NATSCapabilities
}

// StreamName maps a dotted queue name onto a valid JetStream stream name.
func StreamName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(topic)
}
