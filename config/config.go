// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the replay service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Replay  ReplayConfig  `yaml:"replay"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OpenTelemetry configuration
	MetricsAddr         string  `yaml:"metrics_addr"` // OTLP endpoint
	MetricsEnabled      bool    `yaml:"metrics_enabled"`
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds log storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`

	// Payload compression at rest: none, s2, zstd
	Compression string `yaml:"compression"`
}

// ReplayConfig holds replay streaming policy.
type ReplayConfig struct {
	// BatchSize bounds how far the scheduler reads ahead of publish
	// progress.
	BatchSize int `yaml:"batch_size"`

	// Retry policy for transient publish failures.
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// PublishRate caps re-publication throughput in messages per
	// second. Zero means unlimited.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`

	// Circuit breaker for destination queues.
	BreakerThreshold    uint32        `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`

	// TransactionHeader, when set, is stamped with a generated UUID
	// onto published messages that carry no transaction.
	TransactionHeader string `yaml:"transaction_header"`

	// TimeIndexInterval thins time-index checkpoints for hot queues.
	// Zero keeps exact resolution.
	TimeIndexInterval time.Duration `yaml:"time_index_interval"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:            ":8084",
			ShutdownTimeout:     10 * time.Second,
			MetricsAddr:         "localhost:4317",
			OtelServiceName:     "rewind",
			OtelServiceVersion:  "0.1.0",
			OtelTraceSampleRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:        "memory",
			BadgerDir:   "data/log",
			Compression: "none",
		},
		Replay: ReplayConfig{
			BatchSize:           256,
			MaxAttempts:         5,
			InitialBackoff:      100 * time.Millisecond,
			MaxBackoff:          5 * time.Second,
			PublishBurst:        64,
			BreakerThreshold:    5,
			BreakerResetTimeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for
// unset fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory":
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Storage.Compression {
	case "", "none", "s2", "zstd":
	default:
		return fmt.Errorf("unknown compression type %q", c.Storage.Compression)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if c.Replay.BatchSize <= 0 {
		return fmt.Errorf("replay.batch_size must be positive")
	}
	if c.Replay.MaxAttempts <= 0 {
		return fmt.Errorf("replay.max_attempts must be positive")
	}
	if c.Server.OtelTraceSampleRate < 0 || c.Server.OtelTraceSampleRate > 1 {
		return fmt.Errorf("server.otel_trace_sample_rate must be in [0,1]")
	}

	return nil
}
