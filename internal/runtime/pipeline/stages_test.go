package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/store"
	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/channel"
)

func eventOf[T any](payload T, raw []byte) handlerpkg.JSONMessageContext[T] {
	return handlerpkg.JSONMessageContext[T]{
		MessageContextBase: handlerpkg.MessageContextBase{Logger: loggingpkg.NewNopServiceLogger()},
		Payload:            payload,
		Raw:                raw,
	}
}

func auditMessages(t *testing.T, audit store.AuditLog) []string {
	t.Helper()
	entries, err := audit.List(context.Background(), 1000)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Message
	}
	return out
}

func TestStagesRequireAudit(t *testing.T) {
	_, err := NewPartWorker(Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrStoreRequired)
	_, err = NewChainWorker(Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrStoreRequired)
}

func TestSplitterEmitsOnePartPerItem(t *testing.T) {
	raw := []byte(`{"items":["x","y"]}`)
	out, err := NewSplitter(Dependencies{}).Handle(context.Background(), eventOf(&codec.SplitInput{Items: []string{"x", "y"}}, raw))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0].Message.Text)
	assert.False(t, out[0].Message.IsLast())
	assert.Equal(t, string(raw), *out[1].Message.SourceEnvelope)

	out, err = NewSplitter(Dependencies{}).Handle(context.Background(), eventOf(&codec.SplitInput{Items: []string{}}, []byte(`{"items":[]}`)))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPartWorkerAuditsPartAndSource(t *testing.T) {
	audit := store.NewMemory()
	worker, err := NewPartWorker(Dependencies{Audit: audit})
	require.NoError(t, err)

	first := []byte(`{"text":"a","sourceEnvelope":null}`)
	_, err = worker.Handle(context.Background(), eventOf(&codec.PartEnvelope{Text: "a"}, first))
	require.NoError(t, err)

	source := `{"items":["a","b"]}`
	last := codec.MustEncode(codec.PartEnvelope{Text: "b", SourceEnvelope: &source})
	_, err = worker.Handle(context.Background(), eventOf(&codec.PartEnvelope{Text: "b", SourceEnvelope: &source}, last))
	require.NoError(t, err)

	assert.Equal(t, []string{string(first), string(last), source}, auditMessages(t, audit))
}

func TestPartWorkerStallFailure(t *testing.T) {
	audit := store.NewMemory()
	boom := errors.New("interrupted")
	worker, err := NewPartWorker(Dependencies{Audit: audit, Stall: func(context.Context) error { return boom }})
	require.NoError(t, err)

	_, err = worker.Handle(context.Background(), eventOf(&codec.PartEnvelope{Text: "a"}, []byte(`{}`)))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, auditMessages(t, audit))
}

func TestChainStarterBuildsInitialEnvelope(t *testing.T) {
	out, err := NewChainStarter(Dependencies{}).Handle(context.Background(), eventOf(&codec.SplitInput{Items: []string{"a", "b"}}, nil))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, NewEnvelope([]string{"a", "b"}), *out[0].Message)
}

// TestChainWorkerRunsWholeChain feeds every emitted envelope back into the
// worker, as the chain queue would.
func TestChainWorkerRunsWholeChain(t *testing.T) {
	audit := store.NewMemory()
	worker, err := NewChainWorker(Dependencies{Audit: audit})
	require.NoError(t, err)

	env := NewEnvelope([]string{"a", "b", "c"})
	var raws []string
	for {
		raw := codec.MustEncode(env)
		raws = append(raws, string(raw))
		out, err := worker.Handle(context.Background(), eventOf(&env, raw))
		require.NoError(t, err)
		if len(out) == 0 {
			break
		}
		require.Len(t, out, 1)
		env = *out[0].Message
	}

	require.Len(t, raws, 3)
	assert.Equal(t, append(raws, `{"items":["a","b","c"]}`), auditMessages(t, audit))
	assert.JSONEq(t, `{"items":["a","b","c"],"cursor":2,"accumulator":{"items":["a","b"]}}`, raws[2])
}

func TestChainWorkerTerminalEnvelope(t *testing.T) {
	audit := store.NewMemory()
	worker, err := NewChainWorker(Dependencies{Audit: audit, Stall: func(context.Context) error {
		t.Fatal("a terminal envelope is not processed")
		return nil
	}})
	require.NoError(t, err)

	env := NewEnvelope(nil)
	raw := codec.MustEncode(env)
	out, err := worker.Handle(context.Background(), eventOf(&env, raw))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{string(raw), `{"items":[]}`}, auditMessages(t, audit))
}

func TestPipelineOverChannelTransport(t *testing.T) {
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities(channel.TransportName, channel.Build, channel.Capabilities())
	svc, err := runtime.TryNewService(context.Background(), &configpkg.Config{}, loggingpkg.NewNopServiceLogger(), runtime.ServiceDependencies{
		Transports: reg,
	})
	require.NoError(t, err)

	audit := store.NewMemory()
	queues := Queues{
		Stream:     svc.Conf.StreamQueue,
		Part:       svc.Conf.PartQueue,
		ChainEntry: svc.Conf.ChainEntryQueue,
		Chain:      svc.Conf.ChainQueue,
	}
	require.NoError(t, Register(svc, queues, Dependencies{Audit: audit}))
	assert.Len(t, svc.Handlers(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	defer func() {
		cancel()
		<-done
		_ = svc.Close()
	}()
	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not start")
	}

	require.NoError(t, svc.PublishRaw(ctx, queues.ChainEntry, []byte(`{"items":["a","b","c"]}`), nil))
	require.Eventually(t, func() bool {
		msgs := auditMessages(t, audit)
		return len(msgs) == 4 && msgs[3] == `{"items":["a","b","c"]}`
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.PublishRaw(ctx, queues.Stream, []byte(`{"items":["x","y"]}`), nil))
	require.Eventually(t, func() bool {
		msgs := auditMessages(t, audit)
		return len(msgs) == 7 && msgs[6] == `{"items":["x","y"]}`
	}, 5*time.Second, 10*time.Millisecond)
}
