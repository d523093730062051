package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/assistant.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Service.Port)
	assert.Equal(t, 2112, cfg.Service.MetricsPort)
	assert.Equal(t, "global", cfg.Backend.Location)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 256, cfg.Streaming.RingCapacity)
	assert.Equal(t, 24, cfg.Session.TTLHours)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: 9090
backend:
  project: demo-project
  location: us-central1
  timeout_ms: 15000
  agent_ids:
    patient_data_agent: agent-123
redis:
  addr: redis:6379
database:
  enabled: true
  host: db
  port: 5432
  user: app
  password: secret
  name: assistant
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, "demo-project", cfg.Backend.Project)
	assert.Equal(t, "us-central1", cfg.Backend.Location)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, "agent-123", cfg.Backend.AgentIDs["patient_data_agent"])
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t,
		"host=db port=5432 user=app password=secret dbname=assistant sslmode=disable",
		cfg.Database.DSN())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/assistant.yaml")
	t.Setenv("ASSISTANT_REDIS_ADDR", "override:6379")
	t.Setenv("ASSISTANT_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMetricsPortEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/assistant.yaml")
	t.Setenv("METRICS_PORT", "9999")
	assert.Equal(t, 9999, MetricsPort(2112))
}

func TestMetricsPortDefault(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/assistant.yaml")
	t.Setenv("METRICS_PORT", "")
	assert.Equal(t, 2112, MetricsPort(2112))
}

func TestDSNDefaultSSLMode(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Name: "n"}
	assert.Contains(t, d.DSN(), "sslmode=disable")
}
