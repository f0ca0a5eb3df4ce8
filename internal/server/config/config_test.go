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

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_DefaultsAndValidation(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: test-secret-at-least-32-bytes-long!!
`)

	cfg, err := Load(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "data", cfg.Storage.Path)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, "admin", cfg.Auth.AdminUsername)
	assert.Equal(t, 5, cfg.Auth.LoginRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LoginRateWindow)
	assert.Equal(t, 60*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	_, err := Load(path, file.NewFileService())
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestLoad_ShortSecret(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: too-short
`)

	_, err := Load(path, file.NewFileService())
	assert.ErrorContains(t, err, "too short")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GREENOPS_JWT_SECRET", "env-secret-that-is-32-bytes-long!!!!")
	t.Setenv("GREENOPS_ADMIN_PASSWORD", "env-password")

	path := writeConfig(t, `
auth:
  jwt_secret: file-secret-also-32-bytes-long!!!!!!
`)

	cfg, err := Load(path, file.NewFileService())
	require.NoError(t, err)
	assert.Equal(t, "env-secret-that-is-32-bytes-long!!!!", cfg.Auth.JWTSecret)
	assert.Equal(t, "env-password", cfg.Auth.AdminInitialPassword)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	assert.Error(t, err)
}
