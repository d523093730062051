package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes one applied configuration change.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"`
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler reacts to a configuration change. Handlers run on their own
// goroutine; a returned error is logged, not propagated.
type ChangeHandler func(event ChangeEvent) error

// ConfigManager watches a directory of YAML and JSON files and pushes
// changes to registered handlers. The agent registry hot-reload path runs
// through it.
type ConfigManager struct {
	configDir string
	watcher   *fsnotify.Watcher
	logger    *zap.Logger

	mu         sync.RWMutex
	configs    map[string]map[string]interface{}
	handlers   map[string][]ChangeHandler
	validators map[string]func(map[string]interface{}) error
	started    bool
	stopCh     chan struct{}
}

// NewConfigManager creates a manager for configDir, creating the directory
// when it does not exist yet.
func NewConfigManager(configDir string, logger *zap.Logger) (*ConfigManager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigManager{
		configDir:  configDir,
		watcher:    watcher,
		logger:     logger,
		configs:    make(map[string]map[string]interface{}),
		handlers:   make(map[string][]ChangeHandler),
		validators: make(map[string]func(map[string]interface{}) error),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start loads the current directory contents and begins watching. The
// initial load and watcher registration happen outside cm.mu because both
// do I/O.
func (cm *ConfigManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.watcher.Add(cm.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := cm.loadAll(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	cm.mu.Lock()
	cm.started = true
	loaded := len(cm.configs)
	cm.mu.Unlock()

	go cm.watchLoop()

	cm.logger.Info("Configuration manager started",
		zap.String("config_dir", cm.configDir),
		zap.Int("loaded_configs", loaded),
	)
	return nil
}

// Stop halts the watcher.
func (cm *ConfigManager) Stop() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.started {
		return nil
	}
	close(cm.stopCh)
	if err := cm.watcher.Close(); err != nil {
		cm.logger.Error("Error closing file watcher", zap.Error(err))
	}
	cm.started = false
	return nil
}

// RegisterHandler subscribes handler to changes of one file.
func (cm *ConfigManager) RegisterHandler(filename string, handler ChangeHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.handlers[filename] = append(cm.handlers[filename], handler)
}

// RegisterValidator gates changes to one file. A failing validator keeps the
// previous config in place.
func (cm *ConfigManager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[filename] = validator
}

// GetConfig returns a copy of the current config for filename.
func (cm *ConfigManager) GetConfig(filename string) (map[string]interface{}, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, ok := cm.configs[filename]
	if !ok {
		return nil, false
	}
	return copyConfig(config), true
}

// SetConfig applies a config directly, bypassing the filesystem. Used by
// tests and administrative tooling.
func (cm *ConfigManager) SetConfig(filename string, config map[string]interface{}) error {
	return cm.apply(filename, config, "programmatic_set")
}

// ReloadConfig re-reads one file from disk.
func (cm *ConfigManager) ReloadConfig(filename string) error {
	return cm.loadFile(filepath.Join(cm.configDir, filename), "manual_reload")
}

// watchLoop feeds filesystem events into the load path.
func (cm *ConfigManager) watchLoop() {
	for {
		select {
		case <-cm.stopCh:
			return
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			cm.handleEvent(event)
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (cm *ConfigManager) handleEvent(event fsnotify.Event) {
	if !isConfigFile(event.Name) {
		return
	}
	filename := filepath.Base(event.Name)

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		cm.forget(filename)
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// Editors often fire several writes in quick succession; give the
		// last one a moment to land.
		time.Sleep(50 * time.Millisecond)
		if err := cm.loadFile(event.Name, "modify"); err != nil {
			cm.logger.Error("Failed to load config file",
				zap.String("file", filename),
				zap.Error(err),
			)
		}
	}
}

// loadAll loads every config file currently in the directory.
func (cm *ConfigManager) loadAll() error {
	return filepath.WalkDir(cm.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return cm.loadFile(path, "initial_load")
	})
}

// loadFile parses one file and applies it.
func (cm *ConfigManager) loadFile(filePath, action string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	config := make(map[string]interface{})
	switch filepath.Ext(filename) {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", filename, err)
		}
	default:
		return fmt.Errorf("unsupported config format for %s", filename)
	}

	return cm.apply(filename, config, action)
}

// apply validates, stores, and announces one config change.
func (cm *ConfigManager) apply(filename string, config map[string]interface{}, action string) error {
	cm.mu.RLock()
	validator := cm.validators[filename]
	cm.mu.RUnlock()

	if validator != nil {
		if err := validator(config); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	cm.mu.Lock()
	cm.configs[filename] = config
	handlers := append([]ChangeHandler(nil), cm.handlers[filename]...)
	cm.mu.Unlock()

	cm.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    action,
		Config:    copyConfig(config),
		Timestamp: time.Now(),
	})

	cm.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(config)),
	)
	return nil
}

// forget drops a removed file's config and announces the deletion with the
// last known contents.
func (cm *ConfigManager) forget(filename string) {
	cm.mu.Lock()
	last := cm.configs[filename]
	delete(cm.configs, filename)
	handlers := append([]ChangeHandler(nil), cm.handlers[filename]...)
	cm.mu.Unlock()

	cm.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    "delete",
		Config:    copyConfig(last),
		Timestamp: time.Now(),
	})

	cm.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// notify fans the event out without holding cm.mu, so a handler may call
// back into the manager.
func (cm *ConfigManager) notify(handlers []ChangeHandler, event ChangeEvent) {
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				cm.logger.Error("Configuration handler error",
					zap.String("filename", event.File),
					zap.String("action", event.Action),
					zap.Error(err),
				)
			}
		}()
	}
}

func copyConfig(config map[string]interface{}) map[string]interface{} {
	if config == nil {
		return nil
	}
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func isConfigFile(filename string) bool {
	switch filepath.Ext(filename) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
