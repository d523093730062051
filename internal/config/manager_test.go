package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfigManagerLoadsInitialConfigs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_registry.yaml"), []byte(`
agents:
  patient_data_agent:
    metadata:
      display_name: Patient Clinical Data
`), 0o644))

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	cfg, ok := cm.GetConfig("agent_registry.yaml")
	require.True(t, ok)
	assert.Contains(t, cfg, "agents")
}

func TestConfigManagerIgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not config"), 0o644))

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	_, ok := cm.GetConfig("notes.txt")
	assert.False(t, ok)
}

func TestConfigManagerNotifiesHandler(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	var mu sync.Mutex
	var events []ChangeEvent
	cm.RegisterHandler("registry.yaml", func(event ChangeEvent) error {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
		return nil
	})

	require.NoError(t, cm.SetConfig("registry.yaml", map[string]interface{}{
		"agents": map[string]interface{}{},
	}))

	// Handlers run asynchronously.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "programmatic_set", events[0].Action)
	assert.Contains(t, events[0].Config, "agents")
}

func TestConfigManagerValidatorRejects(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	cm.RegisterValidator("registry.yaml", func(cfg map[string]interface{}) error {
		if _, ok := cfg["agents"]; !ok {
			return assert.AnError
		}
		return nil
	})

	err = cm.SetConfig("registry.yaml", map[string]interface{}{"wrong": true})
	assert.Error(t, err)

	err = cm.SetConfig("registry.yaml", map[string]interface{}{"agents": map[string]interface{}{}})
	assert.NoError(t, err)
}

func TestConfigManagerManualReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o644))
	require.NoError(t, cm.ReloadConfig("registry.yaml"))

	cfg, ok := cm.GetConfig("registry.yaml")
	require.True(t, ok)
	assert.Equal(t, 2, cfg["version"])
}
