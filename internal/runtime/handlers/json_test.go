package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

type jobIn struct {
	ID int `json:"id"`
}

func (j *jobIn) Validate() error {
	if j.ID <= 0 {
		return errors.New("id must be positive")
	}
	return nil
}

type jobOut struct {
	ID   int    `json:"id"`
	Note string `json:"note"`
}

func newMessage(payload string, md message.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), []byte(payload))
	if md != nil {
		msg.Metadata = md
	}
	return msg
}

func TestBuildJSONHandlerProcessesPayload(t *testing.T) {
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*jobIn]) ([]JSONMessageOutput[*jobOut], error) {
		require.NotNil(t, ctx)
		assert.Equal(t, 42, evt.Payload.ID)
		assert.Equal(t, `{"id":42}`, string(evt.Raw))
		assert.Equal(t, "tok", evt.CorrelationID())

		md := evt.CloneMetadata()
		md["processed"] = "true"
		return []JSONMessageOutput[*jobOut]{
			{Message: &jobOut{ID: evt.Payload.ID, Note: "done"}, Metadata: md},
		}, nil
	}, loggingpkg.NewNopServiceLogger())
	require.NoError(t, err)

	produced, err := handler(newMessage(`{"id":42}`, message.Metadata{metadatapkg.KeyCorrelationID: "tok"}))
	require.NoError(t, err)
	require.Len(t, produced, 1)
	assert.Equal(t, "true", produced[0].Metadata.Get("processed"))
	assert.Equal(t, "tok", produced[0].Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, "*handlers.jobOut", produced[0].Metadata.Get(metadatapkg.KeyEventSchema))
	assert.JSONEq(t, `{"id":42,"note":"done"}`, string(produced[0].Payload))
}

func TestBuildJSONHandlerRejectsMalformed(t *testing.T) {
	called := false
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*jobIn]) ([]JSONMessageOutput[NoOutput], error) {
		called = true
		return nil, nil
	}, nil)
	require.NoError(t, err)

	for _, payload := range []string{`{invalid-json`, `{"id":0}`, `{"id":"x"}`} {
		_, err := handler(newMessage(payload, nil))
		require.Error(t, err, payload)
		assert.True(t, errspkg.IsMalformed(err), payload)

		var typed *errspkg.MalformedPayloadError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, payload, string(typed.Payload))
	}
	assert.False(t, called, "malformed payloads must not reach the handler")
}

func TestBuildJSONHandlerHandlerError(t *testing.T) {
	boom := errors.New("handler failed")
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*jobIn]) ([]JSONMessageOutput[NoOutput], error) {
		return nil, boom
	}, nil)
	require.NoError(t, err)

	_, err = handler(newMessage(`{"id":1}`, nil))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errspkg.IsMalformed(err))
}

func TestBuildJSONHandlerNoOutput(t *testing.T) {
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*jobIn]) ([]JSONMessageOutput[NoOutput], error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)

	produced, err := handler(newMessage(`{"id":1}`, nil))
	require.NoError(t, err)
	assert.Nil(t, produced)
}

func TestBuildJSONHandlerValidatesInputs(t *testing.T) {
	_, err := BuildJSONHandler[*jobIn, *jobOut](nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[jobIn]) ([]JSONMessageOutput[*jobOut], error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessagePointerNeeded)
}

func TestJSONPrototypeFactoryValidations(t *testing.T) {
	_, err := jsonPrototypeFactory[any]()
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessageTypeRequired)

	factory, err := jsonPrototypeFactory[*jobIn]()
	require.NoError(t, err)
	assert.NotSame(t, factory(), factory())
}

func TestConvertJSONOutputs(t *testing.T) {
	tests := []struct {
		name     string
		outputs  []JSONMessageOutput[*jobOut]
		fallback metadatapkg.Metadata
		wantErr  bool
		wantMeta string
	}{
		{name: "empty", outputs: nil},
		{name: "nil message", outputs: []JSONMessageOutput[*jobOut]{{}}, wantErr: true},
		{
			name:     "fallback metadata",
			outputs:  []JSONMessageOutput[*jobOut]{{Message: &jobOut{ID: 7}}},
			fallback: metadatapkg.Metadata{"origin": "fallback"},
			wantMeta: "fallback",
		},
		{
			name:     "explicit metadata wins",
			outputs:  []JSONMessageOutput[*jobOut]{{Message: &jobOut{ID: 7}, Metadata: metadatapkg.Metadata{"origin": "explicit"}}},
			fallback: metadatapkg.Metadata{"origin": "fallback"},
			wantMeta: "explicit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := convertJSONOutputs(tt.outputs, tt.fallback)
			if tt.wantErr {
				assert.EqualError(t, err, "json handler emitted zero-value message")
				return
			}
			require.NoError(t, err)
			if tt.wantMeta == "" {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantMeta, msgs[0].Metadata.Get("origin"))
		})
	}
}

func TestConvertJSONOutputsDoesNotMutateFallback(t *testing.T) {
	fallback := metadatapkg.Metadata{"origin": "in"}
	_, err := convertJSONOutputs([]JSONMessageOutput[*jobOut]{{Message: &jobOut{ID: 1}}}, fallback)
	require.NoError(t, err)
	assert.NotContains(t, fallback, metadatapkg.KeyEventSchema)
}
