package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scriptbridge.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "websocket", cfg.Server.Transport)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, "logrus", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Journal.Driver)
	assert.Equal(t, 1000, cfg.Journal.MaxEntries)
	require.NotNil(t, cfg.Journal.ForgetOnClose)
	assert.True(t, *cfg.Journal.ForgetOnClose)
	assert.Equal(t, "Android", cfg.Bootstrap.Constructor)
	assert.Equal(t, "droid_rpc", cfg.Bootstrap.CallBinding)
	assert.Equal(t, "droid_callback", cfg.Bootstrap.EventBinding)
	assert.Equal(t, "javaScript dialog", cfg.Modal.DialogTitle)
}

func TestLoad_JSONWithComments(t *testing.T) {
	path := writeConfig(t, `{
		// serve a single child process
		"server": {"transport": "stdio"},
		"log": {"level": "debug", "format": "zap",},
		"events": {"rate_limit": 20, "burst": 5, "redis_addr": "localhost:6379"},
		"journal": {"driver": "sqlite3", "dsn": "/tmp/calls.db"},
		"bootstrap": {"constructor": "Host"},
		"modal": {"input": "console"},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "zap", cfg.Log.Format)
	assert.Equal(t, 20.0, cfg.Events.RateLimit)
	assert.Equal(t, 5, cfg.Events.Burst)
	assert.Equal(t, "localhost:6379", cfg.Events.RedisAddr)
	assert.Equal(t, "scriptbridge:events", cfg.Events.RedisChannel)
	assert.Equal(t, "sqlite3", cfg.Journal.Driver)
	require.NotNil(t, cfg.Journal.ForgetOnClose)
	assert.False(t, *cfg.Journal.ForgetOnClose)
	assert.Equal(t, "Host", cfg.Bootstrap.Constructor)
	assert.Equal(t, "droid_rpc", cfg.Bootstrap.CallBinding)
	assert.Equal(t, "console", cfg.Modal.Input)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCRIPTBRIDGE_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("SCRIPTBRIDGE_REDIS_ADDR", "redis:6379")
	t.Setenv("SCRIPTBRIDGE_JOURNAL_DSN", "postgres://localhost/bridge")
	t.Setenv("SCRIPTBRIDGE_LOG_LEVEL", "warn")

	path := writeConfig(t, `{"journal": {"driver": "postgres"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "redis:6379", cfg.Events.RedisAddr)
	assert.Equal(t, "postgres://localhost/bridge", cfg.Journal.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: `{"server": `},
		{name: "transport", content: `{"server": {"transport": "carrier-pigeon"}}`},
		{name: "log format", content: `{"log": {"format": "printf"}}`},
		{name: "journal driver", content: `{"journal": {"driver": "mongo"}}`},
		{name: "journal dsn", content: `{"journal": {"driver": "sqlite3"}}`},
		{name: "modal input", content: `{"modal": {"input": "telepathy"}}`},
		{name: "negative rate", content: `{"events": {"rate_limit": -1}}`},
		{name: "negative journal cap", content: `{"journal": {"max_entries": -1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_SlogAndJournalRetention(t *testing.T) {
	path := writeConfig(t, `{
		"log": {"format": "slog"},
		"journal": {"driver": "memory", "max_entries": 0, "forget_on_close": false},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "slog", cfg.Log.Format)
	assert.Equal(t, 0, cfg.Journal.MaxEntries)
	require.NotNil(t, cfg.Journal.ForgetOnClose)
	assert.False(t, *cfg.Journal.ForgetOnClose)
}
