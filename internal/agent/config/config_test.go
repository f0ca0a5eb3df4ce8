package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops/greenops/pkg/file"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Heartbeat.BackoffMax)
	assert.NotEmpty(t, cfg.TokenFile)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: https://greenops.example.com/
  timeout: 5s
heartbeat:
  interval: 30s
idle:
  probe: xprintidle
`), 0600))

	cfg, err := Load(path, file.NewFileService())
	require.NoError(t, err)

	// Trailing slash is stripped so path joining stays predictable.
	assert.Equal(t, "https://greenops.example.com", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, "xprintidle", cfg.Idle.Probe)
	// Unspecified values still get defaults.
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.BackoffBase)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GREENOPS_SERVER_URL", "http://10.0.0.5:9000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.Server.URL)
}

func TestTokenRoundTrip(t *testing.T) {
	fs := file.NewFileService()
	cfg := &Config{TokenFile: filepath.Join(t.TempDir(), "token")}

	assert.Empty(t, LoadToken(cfg, fs))

	require.NoError(t, SaveToken(cfg, fs, "secret-token"))
	assert.Equal(t, "secret-token", LoadToken(cfg, fs))
}
