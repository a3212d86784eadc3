// ABOUTME: Configuration loading and defaults for loomtrace
// ABOUTME: Handles YAML config files with XDG-style path resolution

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration for loomtrace.
type Config struct {
	// Service name stamped on published envelopes and logs.
	ServiceName string `yaml:"service_name"`

	// Data directory for the dedup store.
	DataDir string `yaml:"data_dir"`

	// NATS configuration.
	NATS NATSConfig `yaml:"nats"`

	// HTTP server configuration.
	HTTP HTTPConfig `yaml:"http"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Dedup store configuration.
	Dedup DedupConfig `yaml:"dedup"`

	// Scheduler configuration.
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	DLQSubject string `yaml:"dlq_subject"`
	Queue      string `yaml:"queue"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// DedupConfig holds delivery dedup settings.
type DedupConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Retention         time.Duration `yaml:"retention"`
	ExpectedItems     uint          `yaml:"expected_items"`
	FalsePositiveRate float64       `yaml:"false_positive_rate"`
}

// SchedulerConfig holds scheduled job settings.
type SchedulerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns a Config with default values.
// External dependencies (NATS, tracing) are disabled by default for
// standalone single-binary operation.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "loomtrace",
		DataDir:     DefaultDataDir(),
		NATS: NATSConfig{
			// Disabled by default; set URL to enable
			URL:        "",
			Subject:    "loomtrace.events.>",
			DLQSubject: "loomtrace.dlq",
			Queue:      "loomtrace-workers",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:       false, // Disabled by default
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Dedup: DedupConfig{
			Enabled:           true,
			Retention:         24 * time.Hour,
			ExpectedItems:     1_000_000,
			FalsePositiveRate: 0.001,
		},
		Scheduler: SchedulerConfig{
			HeartbeatInterval: time.Minute,
		},
	}
}

// Load reads the config file at path, applying defaults for unset fields.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	// Try XDG_DATA_HOME first.
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "loomtrace")
	}

	// Fall back to home directory.
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/loomtrace"
	}

	return filepath.Join(home, ".local", "share", "loomtrace")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	// Try XDG_CONFIG_HOME first.
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "loomtrace", "config.yaml")
	}

	// Fall back to home directory.
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/loomtrace/config.yaml"
	}

	return filepath.Join(home, ".config", "loomtrace", "config.yaml")
}
