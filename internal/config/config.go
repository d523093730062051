// Package config loads service configuration from YAML with environment
// overrides, and provides a hot-reload manager for auxiliary config files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Session   SessionConfig   `mapstructure:"session"`
}

type ServiceConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
	HealthPort  int `mapstructure:"health_port"`
}

// BackendConfig describes the data chat backend and the data agents the
// orchestrator fronts.
type BackendConfig struct {
	Project   string            `mapstructure:"project"`
	Location  string            `mapstructure:"location"`
	BaseURL   string            `mapstructure:"base_url"`
	AgentIDs  map[string]string `mapstructure:"agent_ids"` // sub-agent name -> backend data agent id
	TimeoutMs int               `mapstructure:"timeout_ms"`
	RateLimit float64           `mapstructure:"rate_limit"` // requests per second
	Burst     int               `mapstructure:"burst"`
}

func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
}

type SessionConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

// Load reads configuration from CONFIG_PATH (default
// /app/config/assistant.yaml), applying defaults and ASSISTANT_* environment
// overrides. A missing file is not an error; defaults and env apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/assistant.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)

	setDefaults(v)

	v.SetEnvPrefix("ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8081)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.health_port", 8081)

	v.SetDefault("backend.location", "global")
	v.SetDefault("backend.timeout_ms", 60000)
	v.SetDefault("backend.rate_limit", 10.0)
	v.SetDefault("backend.burst", 20)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "adk-data-agent")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("session.ttl_hours", 24)
}

// MetricsPort returns the metrics port, honoring a METRICS_PORT env override.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	if cfg, err := Load(); err == nil && cfg.Service.MetricsPort > 0 {
		return cfg.Service.MetricsPort
	}
	return defaultPort
}
