package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

func TestDecodeWorkRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr string
	}{
		{name: "valid", input: `{"workId":42}`, want: 42},
		{name: "unknown fields ignored", input: `{"extra":true,"workId":7}`, want: 7},
		{name: "missing field", input: `{}`, wantErr: "workId is required"},
		{name: "null field", input: `{"workId":null}`, wantErr: "workId is required"},
		{name: "wrong type", input: `{"workId":"seven"}`},
		{name: "not json", input: `workId=7`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeWorkRequest([]byte(tt.input))
			if tt.want != 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.WorkID)
				return
			}
			require.Error(t, err)
			assert.True(t, errspkg.IsMalformed(err))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestWorkReplyRoundTrip(t *testing.T) {
	reply := WorkReply{Result: "18446744073709551615", ProcessingSeconds: 2}
	data, err := Encode(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"18446744073709551615","processingSeconds":2}`, string(data))

	decoded, err := DecodeWorkReply(data)
	require.NoError(t, err)
	assert.Equal(t, reply, decoded)
}

func TestDecodeWorkReplyRejects(t *testing.T) {
	for _, input := range []string{
		`{"processingSeconds":1}`,
		`{"result":"x"}`,
		`{"result":"x","processingSeconds":-1}`,
		`{"result":1,"processingSeconds":1}`,
	} {
		_, err := DecodeWorkReply([]byte(input))
		assert.True(t, errspkg.IsMalformed(err), input)
	}
}

func TestSplitInput(t *testing.T) {
	in, err := DecodeSplitInput([]byte(`{"items":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, in.Items)

	in, err = DecodeSplitInput([]byte(`{"items":[]}`))
	require.NoError(t, err)
	assert.Empty(t, in.Items)

	_, err = DecodeSplitInput([]byte(`{"texts":["a"]}`))
	assert.ErrorContains(t, err, "items is required")

	assert.JSONEq(t, `{"items":[]}`, string(MustEncode(SplitInput{})))
}

func TestPartEnvelope(t *testing.T) {
	src := `{"items":["a"]}`
	data := MustEncode(PartEnvelope{Text: "a", SourceEnvelope: &src})
	part, err := DecodePartEnvelope(data)
	require.NoError(t, err)
	assert.True(t, part.IsLast())
	assert.Equal(t, src, *part.SourceEnvelope)

	data = MustEncode(PartEnvelope{Text: "b"})
	assert.JSONEq(t, `{"text":"b","sourceEnvelope":null}`, string(data))
	part, err = DecodePartEnvelope(data)
	require.NoError(t, err)
	assert.False(t, part.IsLast())

	_, err = DecodePartEnvelope([]byte(`{"sourceEnvelope":null}`))
	assert.ErrorContains(t, err, "text is required")
}

func TestPipelineEnvelopeRoundTrip(t *testing.T) {
	env := PipelineEnvelope{
		Items:       []string{"a", "b", "c"},
		Cursor:      1,
		Accumulator: Accumulator{Items: []string{"a"}},
	}
	data := MustEncode(env)
	assert.JSONEq(t, `{"items":["a","b","c"],"cursor":1,"accumulator":{"items":["a"]}}`, string(data))

	decoded, err := DecodePipelineEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
	assert.False(t, decoded.Done())
}

func TestPipelineEnvelopeNilSlicesEncodeEmpty(t *testing.T) {
	data := MustEncode(PipelineEnvelope{})
	assert.JSONEq(t, `{"items":[],"cursor":0,"accumulator":{"items":[]}}`, string(data))

	decoded, err := DecodePipelineEnvelope(data)
	require.NoError(t, err)
	assert.True(t, decoded.Done())
}

func TestDecodePipelineEnvelopeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing items", `{"cursor":0,"accumulator":{"items":[]}}`, "items is required"},
		{"missing cursor", `{"items":["a"],"accumulator":{"items":[]}}`, "cursor is required"},
		{"missing accumulator", `{"items":["a"],"cursor":0}`, "accumulator is required"},
		{"missing accumulator items", `{"items":["a"],"cursor":0,"accumulator":{}}`, "accumulator.items is required"},
		{"cursor past end", `{"items":["a"],"cursor":2,"accumulator":{"items":["a","b"]}}`, "out of range"},
		{"negative cursor", `{"items":["a"],"cursor":-1,"accumulator":{"items":[]}}`, "out of range"},
		{"accumulator mismatch", `{"items":["a","b"],"cursor":1,"accumulator":{"items":[]}}`, "accumulator holds 0 items"},
		{"cursor not int", `{"items":["a"],"cursor":"0","accumulator":{"items":[]}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePipelineEnvelope([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errspkg.IsMalformed(err))
			if tt.want != "" {
				assert.ErrorContains(t, err, tt.want)
			}

			var typed *errspkg.MalformedPayloadError
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tt.input, string(typed.Payload))
		})
	}
}

func TestFieldOrderIrrelevant(t *testing.T) {
	a, err := DecodePipelineEnvelope([]byte(`{"accumulator":{"items":[]},"cursor":0,"items":["x"]}`))
	require.NoError(t, err)
	b, err := DecodePipelineEnvelope([]byte(`{"items":["x"],"cursor":0,"accumulator":{"items":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
