// Package pipeline runs the two multi-stage flows. The split flow fans a batch
// out into one part message per item. The chain flow processes items one at
// a time, and each message carries the whole continuation: the items, the
// cursor and the accumulated result. No stage keeps state between messages.
package pipeline

import (
	"github.com/drblury/taskflow/internal/runtime/codec"
)

// Split turns a batch into one part per item, in order. Only the last part
// carries the raw batch it came from.
func Split(raw []byte, input codec.SplitInput) []codec.PartEnvelope {
	parts := make([]codec.PartEnvelope, len(input.Items))
	for i, item := range input.Items {
		parts[i] = codec.PartEnvelope{Text: item}
	}
	if n := len(parts); n > 0 {
		source := string(raw)
		parts[n-1].SourceEnvelope = &source
	}
	return parts
}

// NewEnvelope starts a chain over items.
func NewEnvelope(items []string) codec.PipelineEnvelope {
	return codec.PipelineEnvelope{
		Items:       append([]string{}, items...),
		Cursor:      0,
		Accumulator: codec.Accumulator{Items: []string{}},
	}
}

// Advance processes items[cursor] into the accumulator and moves the cursor
// on. done reports that next is terminal. env must not be done already.
func Advance(env codec.PipelineEnvelope) (next codec.PipelineEnvelope, done bool) {
	acc := make([]string, len(env.Accumulator.Items), len(env.Accumulator.Items)+1)
	copy(acc, env.Accumulator.Items)

	next = codec.PipelineEnvelope{
		Items:       append([]string{}, env.Items...),
		Cursor:      env.Cursor + 1,
		Accumulator: codec.Accumulator{Items: append(acc, env.Items[env.Cursor])},
	}
	return next, next.Done()
}
