package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// JSONHandlerRegistration wires a typed JSON handler to the router.
type JSONHandlerRegistration[T any, O any] struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      JSONMessageHandler[T, O]
}

// JSONMessageContext exposes the decoded payload, the raw bytes it came from,
// and the message metadata.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
	Raw     []byte
}

// JSONMessageOutput represents an event emitted by a JSON handler.
type JSONMessageOutput[T any] struct {
	Message  T
	Metadata metadatapkg.Metadata
}

// NoOutput is the output type of handlers that never emit onto PublishQueue.
type NoOutput = *struct{}

// JSONMessageHandler processes a JSON payload and returns the events to publish.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) ([]JSONMessageOutput[O], error)

type validator interface {
	Validate() error
}

// BuildJSONHandler converts a typed JSON handler into a Watermill handler.
// T must be a pointer type. When it implements Validate() error, the payload
// is validated before the handler runs. Decode and validation failures are
// returned as malformed payload errors and never reach the handler.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		typed := prototypeFactory()

		if err := jsoncodec.Unmarshal(msg.Payload, typed); err != nil {
			return nil, errspkg.Malformed(msg.Payload, fmt.Errorf("unmarshal JSON payload: %w", err))
		}
		if v, ok := any(typed).(validator); ok {
			if err := v.Validate(); err != nil {
				return nil, errspkg.Malformed(msg.Payload, err)
			}
		}

		md := metadatapkg.FromWatermill(msg.Metadata)
		ctx := JSONMessageContext[T]{
			MessageContextBase: MessageContextBase{
				Metadata: md,
				Logger:   logger.With(loggingpkg.LogFields{"message_uuid": msg.UUID}),
			},
			Payload: typed,
			Raw:     msg.Payload,
		}

		outgoing, err := handler(msg.Context(), ctx)
		if err != nil {
			return nil, err
		}

		return convertJSONOutputs(outgoing, md)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func convertJSONOutputs[T any](outputs []JSONMessageOutput[T], fallback metadatapkg.Metadata) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		if v := reflect.ValueOf(out.Message); !v.IsValid() || v.IsZero() {
			return nil, errors.New("json handler emitted zero-value message")
		}

		payload, err := jsoncodec.Marshal(out.Message)
		if err != nil {
			return nil, err
		}

		metadata := out.Metadata
		if metadata == nil {
			metadata = fallback
		}
		metadata = metadata.With(metadatapkg.KeyEventSchema, fmt.Sprintf("%T", out.Message))

		msg := message.NewMessage(idspkg.CreateULID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(metadata)
		result[i] = msg
	}

	return result, nil
}
