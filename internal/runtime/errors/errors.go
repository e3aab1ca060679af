package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired             = sterrors.New("taskflow: service is required")
	ErrHandlerRequired             = sterrors.New("taskflow: handler function is required")
	ErrConsumeQueueRequired        = sterrors.New("taskflow: consume queue is required")
	ErrHandlerNameRequired         = sterrors.New("taskflow: handler name is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("taskflow: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("taskflow: consume message type must be a pointer")
	ErrPublisherRequired           = sterrors.New("taskflow: publisher is required")
	ErrTopicRequired               = sterrors.New("taskflow: topic is required")
	ErrEventPayloadRequired        = sterrors.New("taskflow: event payload is required")
	ErrConfigRequired              = sterrors.New("taskflow: configuration is required")
	ErrLoggerRequired              = sterrors.New("taskflow: logger is required")
	ErrStoreRequired               = sterrors.New("taskflow: store is required")
	ErrRegistryRequired            = sterrors.New("taskflow: correlation registry is required")
)

// Domain errors surfaced by the codec, the RPC layer and the stores.
var (
	ErrMalformedPayload = sterrors.New("taskflow: malformed payload")
	ErrDuplicateToken   = sterrors.New("taskflow: correlation token already pending")
	ErrUnmatchedReply   = sterrors.New("taskflow: reply does not match a pending call")
	ErrRPCTimeout       = sterrors.New("taskflow: rpc call timed out")
	ErrRPCTransport     = sterrors.New("taskflow: rpc transport failure")
	ErrRecordNotFound   = sterrors.New("taskflow: work record not found")
)

// MalformedPayloadError carries the rejected bytes alongside the decode failure.
// It matches ErrMalformedPayload and the underlying cause with errors.Is.
type MalformedPayloadError struct {
	Payload []byte
	Err     error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err == nil {
		return ErrMalformedPayload.Error()
	}
	return fmt.Sprintf("%s: %v", ErrMalformedPayload.Error(), e.Err)
}

func (e *MalformedPayloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedPayload}
	}
	return []error{ErrMalformedPayload, e.Err}
}

// Malformed wraps err so that it is routed to the rejection queue.
func Malformed(payload []byte, err error) error {
	return &MalformedPayloadError{Payload: payload, Err: err}
}

// IsMalformed reports whether err marks a payload that can never be processed.
func IsMalformed(err error) bool {
	return sterrors.Is(err, ErrMalformedPayload)
}

// Transport wraps a broker failure observed while issuing an RPC call.
func Transport(err error) error {
	return fmt.Errorf("%w: %w", ErrRPCTransport, err)
}

// ConfigValidationError is returned when a Config fails validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "taskflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
