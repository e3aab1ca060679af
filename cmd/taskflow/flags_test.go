package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, io.Discard, lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.ConfigPath)
	assert.Equal(t, "all", cfg.Role)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlagsEnvFallbackAndOverride(t *testing.T) {
	env := lookupFrom(map[string]string{
		"TASKFLOW_ROLE":       "worker",
		"TASKFLOW_LOG_FORMAT": "text",
	})

	cfg, err := parseFlags(nil, io.Discard, env)
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Role)
	assert.Equal(t, "text", cfg.LogFormat)

	cfg, err = parseFlags([]string{"-role", "api", "-log-level", "debug"}, io.Discard, env)
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.Role)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseFlagsRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "level", args: []string{"-log-level", "loud"}, wantErr: "invalid log level"},
		{name: "format", args: []string{"-log-format", "xml"}, wantErr: "invalid log format"},
		{name: "missing config", args: []string{"-config", "/does/not/exist.yaml"}, wantErr: "config file not found"},
		{name: "timeout", args: []string{"-shutdown-timeout", "0s"}, wantErr: "shutdown timeout"},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard, lookupFrom(nil))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigAppliesFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pubsub_system: channel\nrpc_queue: from.file\napi_port: 9000\n"), 0o600))
	t.Setenv("TASKFLOW_API_PORT", "9100")

	conf, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "channel", conf.PubSubSystem)
	assert.Equal(t, "from.file", conf.RPCQueue)
	assert.Equal(t, 9100, conf.APIPort)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_DRIVER", "sqlite")
	conf, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conf.StoreDriver)
}
