package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transporttest"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// testLogger records entries so tests can assert on what the service logged.
type testLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  loggingpkg.LogFields
}

func newTestLogger() *testLogger {
	return &testLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *testLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &testLogger{mu: l.mu, entries: l.entries, fields: merged}
}

func (l *testLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, err: err, fields: all})
}

func (l *testLogger) Debug(msg string, fields loggingpkg.LogFields) { l.record("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields loggingpkg.LogFields)  { l.record("info", msg, nil, fields) }
func (l *testLogger) Trace(msg string, fields loggingpkg.LogFields) { l.record("trace", msg, nil, fields) }
func (l *testLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *testLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// newTestService builds a Service over recording doubles without the default
// middleware chain.
func newTestService(t *testing.T) (*Service, *transporttest.Publisher, *transporttest.Subscriber) {
	t.Helper()
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	svc, err := TryNewService(context.Background(), &configpkg.Config{}, newTestLogger(), ServiceDependencies{
		Transport:                 &transport.Transport{Publisher: pub, Subscriber: sub},
		DisableDefaultMiddlewares: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, pub, sub
}

// startService runs svc in the background and waits until every handler has
// subscribed. The returned function stops the router and waits for Start to return.
func startService(t *testing.T, svc *Service) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case err := <-done:
		cancel()
		t.Fatalf("service stopped before running: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("service did not start")
	}

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("service stopped with error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("service did not stop")
		}
	}
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
