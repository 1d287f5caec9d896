package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeYAML(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, "world", cfg.Gateway.WorldChannel)
	assert.Equal(t, 60*time.Second, cfg.Gateway.HeartbeatTimeout)
	assert.Equal(t, 256, cfg.Gateway.SendBuffer)
	assert.Equal(t, "chat.events", cfg.Events.Exchange)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeYAML(t, `
database:
  mode: sqlite_memory
gateway:
  heartbeat_timeout: 5s
  max_message_len: 42
security:
  jwt_secret: s3cret
  allowed_origins: ["https://game.example"]
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite_memory", cfg.Database.Mode)
	assert.Equal(t, 5*time.Second, cfg.Gateway.HeartbeatTimeout)
	assert.Equal(t, 42, cfg.Gateway.MaxMessageLen)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
	assert.Equal(t, []string{"https://game.example"}, cfg.Security.AllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
