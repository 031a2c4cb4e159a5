package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration for a Drover node
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Bus    BusConfig    `yaml:"bus"`
	Worker WorkerConfig `yaml:"worker"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig controls the HTTP API server
type ServerConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
}

// RedisConfig controls the shared state store connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BusConfig controls the event bus buffers and retention
type BusConfig struct {
	Retention          time.Duration `yaml:"retention"`
	EnableCompression  bool          `yaml:"enable_compression"`
	CompressionMinSize int           `yaml:"compression_min_size"`
}

// WorkerConfig controls the worker runtime
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Profile           string        `yaml:"profile"`
	Concurrency       int           `yaml:"concurrency"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// StreamConfig controls the SSE/WebSocket fan-out layer
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxConnections    int           `yaml:"max_connections"`
	ReplayCount       int           `yaml:"replay_count"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns a configuration with production defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:         ":8000",
			RateLimitPerMinute: 300,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 20,
		},
		Bus: BusConfig{
			Retention:          time.Hour,
			EnableCompression:  false,
			CompressionMinSize: 1024,
		},
		Worker: WorkerConfig{
			Profile:           "gpt-4",
			Concurrency:       4,
			HeartbeatInterval: 10 * time.Second,
			PollInterval:      time.Second,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 30 * time.Second,
			MaxConnections:    500,
			ReplayCount:       10,
		},
		Log: LogConfig{
			Level:      "info",
			JSONOutput: true,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
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

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be non-negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Bus.CompressionMinSize < 0 {
		return fmt.Errorf("bus.compression_min_size must be non-negative")
	}
	if c.Stream.ReplayCount < 0 {
		return fmt.Errorf("stream.replay_count must be non-negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
