package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/runtime"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/pacing"
	"github.com/drblury/taskflow/internal/store"
	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/channel"
)

func channelDeps() runtime.ServiceDependencies {
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities(channel.TransportName, channel.Build, channel.Capabilities())
	return runtime.ServiceDependencies{Transports: reg}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:  "channel",
		StallDisabled: true,
		RPCTimeout:    5 * time.Second,
		APIPort:       freePort(t),
	}
}

func handlerNames(svc *runtime.Service) []string {
	var names []string
	for _, h := range svc.Handlers() {
		names = append(names, h.Name)
	}
	return names
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "api", want: RoleAPI},
		{in: " Worker ", want: RoleWorker},
		{in: "all", want: RoleAll},
		{in: "", want: RoleAll},
		{in: "scheduler", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown role")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRegistersHandlersByRole(t *testing.T) {
	tests := []struct {
		role      Role
		want      []string
		hasAPI    bool
		hasWorker bool
	}{
		{role: RoleAPI, want: []string{"rpc_replies"}, hasAPI: true},
		{role: RoleWorker, want: []string{"chain_starter", "chain_worker", "part_worker", "rpc_worker", "splitter"}, hasWorker: true},
		{role: RoleAll, want: []string{"chain_starter", "chain_worker", "part_worker", "rpc_replies", "rpc_worker", "splitter"}, hasAPI: true, hasWorker: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			a, err := New(context.Background(), testConfig(t), loggingpkg.NewNopServiceLogger(), Options{
				Role:         tt.role,
				Dependencies: channelDeps(),
			})
			require.NoError(t, err)
			defer a.Close()

			assert.Equal(t, tt.role, a.Role())
			assert.Equal(t, tt.want, handlerNames(a.Service))
			assert.Equal(t, tt.hasAPI, a.API != nil)
			assert.Equal(t, tt.hasAPI, a.Client != nil)
			assert.Equal(t, tt.hasWorker, a.Worker != nil)
		})
	}
}

func TestNewUnknownStoreDriver(t *testing.T) {
	conf := testConfig(t)
	conf.StoreDriver = "cassandra"
	_, err := New(context.Background(), conf, loggingpkg.NewNopServiceLogger(), Options{Dependencies: channelDeps()})
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestAppServesTasksAndChains(t *testing.T) {
	st := store.NewMemory()
	a, err := New(context.Background(), testConfig(t), loggingpkg.NewNopServiceLogger(), Options{
		Role:  RoleAll,
		Store: st,
		Stall: pacing.NoStall,
		Produce: func(_ context.Context, rec store.WorkRecord) (string, error) {
			return "result-" + strconv.FormatInt(rec.ID, 10), nil
		},
		Dependencies: channelDeps(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
		_ = a.Close()
	}()
	select {
	case <-a.Service.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not start")
	}

	rec := httptest.NewRecorder()
	a.API.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":"result-1","processingSeconds":0}`, rec.Body.String())

	stored, err := st.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.Completed())
	assert.Equal(t, "result-1", stored.Result)

	rec = httptest.NewRecorder()
	a.API.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chains", strings.NewReader(`{"items":["a","b"]}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		entries, err := st.List(context.Background(), 0)
		return err == nil && len(entries) == 3
	}, 5*time.Second, 10*time.Millisecond)

	entries, err := st.List(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["a","b"]}`, entries[0].Message)
}
