// Package codec defines the wire payloads exchanged over the broker and their
// strict JSON decoding. Every payload decodes through a wire struct with
// pointer fields, so a missing or null required field is distinguishable from
// a zero value. Decoding failures are wrapped as malformed payloads and routed
// to the rejection queue by the runtime.
package codec

import (
	"fmt"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// Validator is implemented by every payload type in this package.
type Validator interface {
	Validate() error
}

// Encode serialises a payload. Output is deterministic for a given value.
func Encode(v any) ([]byte, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// MustEncode is Encode for payloads built in-process, which cannot fail.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses data into T and validates it. Any failure is a
// MalformedPayloadError carrying the original bytes.
func Decode[T any, PT interface {
	*T
	Validator
}](data []byte) (T, error) {
	var out T
	if err := jsoncodec.Unmarshal(data, PT(&out)); err != nil {
		return out, errspkg.Malformed(data, err)
	}
	if err := PT(&out).Validate(); err != nil {
		return out, errspkg.Malformed(data, err)
	}
	return out, nil
}

// DecodeWorkRequest decodes an RPC request.
func DecodeWorkRequest(data []byte) (WorkRequest, error) {
	return Decode[WorkRequest](data)
}

// DecodeWorkReply decodes an RPC reply.
func DecodeWorkReply(data []byte) (WorkReply, error) {
	return Decode[WorkReply](data)
}

// DecodeSplitInput decodes a batch submitted to the splitter or chain starter.
func DecodeSplitInput(data []byte) (SplitInput, error) {
	return Decode[SplitInput](data)
}

// DecodePartEnvelope decodes a single split item.
func DecodePartEnvelope(data []byte) (PartEnvelope, error) {
	return Decode[PartEnvelope](data)
}

// DecodePipelineEnvelope decodes a chain continuation.
func DecodePipelineEnvelope(data []byte) (PipelineEnvelope, error) {
	return Decode[PipelineEnvelope](data)
}

func missing(field string) error {
	return fmt.Errorf("%s is required", field)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
