package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Second, cfg.Streams.TelemetryReconnect())
	assert.Equal(t, 3*time.Second, cfg.Streams.CameraReconnect())
	assert.Equal(t, 120, cfg.Buffers.TelemetryPoints)
	assert.Equal(t, 600, cfg.Buffers.LogEntries)
	assert.Equal(t, 4, cfg.Toasts.MaxVisible)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.toml")
	data := `
[server]
base_url = "https://robot.lan:8443"

[toasts]
duration_ms = 2500
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://robot.lan:8443", cfg.Server.BaseURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Toasts.Duration())
	assert.Equal(t, 4, cfg.Toasts.MaxVisible)
	assert.Equal(t, 10, cfg.Polling.DiagnosticsSeconds)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"scheme":    "[server]\nbase_url = \"ftp://robot\"\n",
		"buffer":    "[buffers]\nlog_entries = 0\n",
		"toasts":    "[toasts]\nmax_visible = 0\n",
		"reconnect": "[streams]\ncamera_reconnect_ms = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "opctl.log")
	logger, cleanup, err := LoggingConfig{Output: path}.NewLogger("opctl ")
	require.NoError(t, err)
	logger.Printf("hello")
	cleanup()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "opctl ")
	assert.Contains(t, string(b), "hello")
}
