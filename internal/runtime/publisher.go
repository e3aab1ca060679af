package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// Producer emits payloads onto the configured transport.
type Producer interface {
	PublishJSON(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) error
	PublishRaw(ctx context.Context, topic string, payload []byte, metadata metadatapkg.Metadata) error
}

// NewMessageFromJSON encodes event and stamps its Go type into the schema header.
func NewMessageFromJSON(event any, metadata metadatapkg.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := NewRawMessage(payload, metadata)
	msg.Metadata.Set(metadatapkg.KeyEventSchema, fmt.Sprintf("%T", event))
	return msg, nil
}

// NewRawMessage wraps already encoded bytes, for forwarding a payload unchanged.
func NewRawMessage(payload []byte, metadata metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	return msg
}

// PublishJSON encodes event and publishes it to topic.
func PublishJSON(ctx context.Context, publisher message.Publisher, topic string, event any, metadata metadatapkg.Metadata) error {
	msg, err := NewMessageFromJSON(event, metadata)
	if err != nil {
		return err
	}
	return publish(ctx, publisher, topic, msg)
}

// PublishRaw publishes payload to topic without re-encoding it.
func PublishRaw(ctx context.Context, publisher message.Publisher, topic string, payload []byte, metadata metadatapkg.Metadata) error {
	if len(payload) == 0 {
		return errspkg.ErrEventPayloadRequired
	}
	return publish(ctx, publisher, topic, NewRawMessage(payload, metadata))
}

func publish(ctx context.Context, publisher message.Publisher, topic string, msg *message.Message) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishJSON emits the event using the Service publisher so HTTP handlers can
// create events without touching the internal Watermill APIs directly.
func (s *Service) PublishJSON(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("task service is nil")
	}
	return PublishJSON(ctx, s.publisher, topic, event, metadata)
}

func (s *Service) PublishRaw(ctx context.Context, topic string, payload []byte, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("task service is nil")
	}
	return PublishRaw(ctx, s.publisher, topic, payload, metadata)
}
