package codec

import (
	"fmt"

	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// WorkRequest asks a worker to process the record with the given id.
type WorkRequest struct {
	WorkID int64 `json:"workId"`
}

type workRequestWire struct {
	WorkID *int64 `json:"workId"`
}

func (r *WorkRequest) UnmarshalJSON(data []byte) error {
	var w workRequestWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.WorkID == nil {
		return missing("workId")
	}
	r.WorkID = *w.WorkID
	return nil
}

func (r *WorkRequest) Validate() error {
	return nil
}

// WorkReply is the answer to exactly one WorkRequest.
type WorkReply struct {
	Result            string `json:"result"`
	ProcessingSeconds int64  `json:"processingSeconds"`
}

type workReplyWire struct {
	Result            *string `json:"result"`
	ProcessingSeconds *int64  `json:"processingSeconds"`
}

func (r *WorkReply) UnmarshalJSON(data []byte) error {
	var w workReplyWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Result == nil {
		return missing("result")
	}
	if w.ProcessingSeconds == nil {
		return missing("processingSeconds")
	}
	r.Result = *w.Result
	r.ProcessingSeconds = *w.ProcessingSeconds
	return nil
}

func (r *WorkReply) Validate() error {
	if r.ProcessingSeconds < 0 {
		return fmt.Errorf("processingSeconds cannot be negative, got %d", r.ProcessingSeconds)
	}
	return nil
}

// SplitInput is a batch of text items.
type SplitInput struct {
	Items []string `json:"items"`
}

type splitInputWire struct {
	Items *[]string `json:"items"`
}

func (s *SplitInput) UnmarshalJSON(data []byte) error {
	var w splitInputWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Items == nil {
		return missing("items")
	}
	s.Items = nonNil(*w.Items)
	return nil
}

func (s SplitInput) MarshalJSON() ([]byte, error) {
	type alias SplitInput
	s.Items = nonNil(s.Items)
	return jsoncodec.Marshal(alias(s))
}

func (s *SplitInput) Validate() error {
	return nil
}

// PartEnvelope carries one split item. SourceEnvelope holds the raw batch and
// is set only on the last item produced from it.
type PartEnvelope struct {
	Text           string  `json:"text"`
	SourceEnvelope *string `json:"sourceEnvelope"`
}

type partEnvelopeWire struct {
	Text           *string `json:"text"`
	SourceEnvelope *string `json:"sourceEnvelope"`
}

func (p *PartEnvelope) UnmarshalJSON(data []byte) error {
	var w partEnvelopeWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Text == nil {
		return missing("text")
	}
	p.Text = *w.Text
	p.SourceEnvelope = w.SourceEnvelope
	return nil
}

func (p *PartEnvelope) Validate() error {
	return nil
}

// IsLast reports whether this part closes its batch.
func (p PartEnvelope) IsLast() bool {
	return p.SourceEnvelope != nil
}

// Accumulator holds the items a chain has processed so far.
type Accumulator struct {
	Items []string `json:"items"`
}

type accumulatorWire struct {
	Items *[]string `json:"items"`
}

func (a *Accumulator) UnmarshalJSON(data []byte) error {
	var w accumulatorWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Items == nil {
		return missing("accumulator.items")
	}
	a.Items = nonNil(*w.Items)
	return nil
}

func (a Accumulator) MarshalJSON() ([]byte, error) {
	type alias Accumulator
	a.Items = nonNil(a.Items)
	return jsoncodec.Marshal(alias(a))
}

// PipelineEnvelope is the whole state of a chain: what to process, where
// processing stands, and what has been produced. Workers keep nothing else.
type PipelineEnvelope struct {
	Items       []string    `json:"items"`
	Cursor      int         `json:"cursor"`
	Accumulator Accumulator `json:"accumulator"`
}

type pipelineEnvelopeWire struct {
	Items       *[]string    `json:"items"`
	Cursor      *int         `json:"cursor"`
	Accumulator *Accumulator `json:"accumulator"`
}

func (e *PipelineEnvelope) UnmarshalJSON(data []byte) error {
	var w pipelineEnvelopeWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Items == nil:
		return missing("items")
	case w.Cursor == nil:
		return missing("cursor")
	case w.Accumulator == nil:
		return missing("accumulator")
	}
	e.Items = nonNil(*w.Items)
	e.Cursor = *w.Cursor
	e.Accumulator = *w.Accumulator
	return nil
}

func (e PipelineEnvelope) MarshalJSON() ([]byte, error) {
	type alias PipelineEnvelope
	e.Items = nonNil(e.Items)
	e.Accumulator.Items = nonNil(e.Accumulator.Items)
	return jsoncodec.Marshal(alias(e))
}

// Validate enforces 0 <= cursor <= len(items) and that the accumulator holds
// exactly the processed prefix length.
func (e *PipelineEnvelope) Validate() error {
	if e.Cursor < 0 || e.Cursor > len(e.Items) {
		return fmt.Errorf("cursor %d out of range [0,%d]", e.Cursor, len(e.Items))
	}
	if len(e.Accumulator.Items) != e.Cursor {
		return fmt.Errorf("accumulator holds %d items, cursor is %d", len(e.Accumulator.Items), e.Cursor)
	}
	return nil
}

// Done reports whether every item has been processed.
func (e PipelineEnvelope) Done() bool {
	return e.Cursor >= len(e.Items)
}
