// Package config loads broker configuration from the environment, the way
// ws/config.go does for its WebSocket server: caarlos0/env/v11 parses tagged
// struct fields, joho/godotenv optionally layers in a .env file, and an
// explicit Validate pass catches inconsistent values before the queue ever
// starts.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the broker daemon reads at startup.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if unset
type Config struct {
	// Queue identity and transport
	QueueName      string `env:"SCB_QUEUE_NAME" envDefault:"default"`
	WSAddr         string `env:"SCB_WS_ADDR" envDefault:":9090"`
	MetricsAddr    string `env:"SCB_METRICS_ADDR" envDefault:":9091"`
	NATSUrl        string `env:"SCB_NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject    string `env:"SCB_NATS_SUBJECT" envDefault:"scbroker.ingest"`
	NATSStreamName string `env:"SCB_NATS_STREAM" envDefault:"SCBROKER"`

	// Queue limits
	MaxPayloadSize     int           `env:"SCB_MAX_PAYLOAD_SIZE" envDefault:"1048576"`
	RingCapacity       int           `env:"SCB_RING_CAPACITY" envDefault:"10000"`
	TaskQueueCapacity  int           `env:"SCB_TASK_QUEUE_CAPACITY" envDefault:"10"`
	InactivityLimitSec int           `env:"SCB_INACTIVITY_LIMIT_SECONDS" envDefault:"36"`
	SOHIntervalSec     int           `env:"SCB_SOH_INTERVAL_SECONDS" envDefault:"12"`
	TimeoutTick        time.Duration `env:"SCB_TIMEOUT_TICK" envDefault:"1s"`

	PublishOnProcessorError bool `env:"SCB_PUBLISH_ON_PROCESSOR_ERROR" envDefault:"true"`

	// Authentication
	JWTSecret     string        `env:"SCB_JWT_SECRET" envDefault:"change-me"`
	JWTTokenTTL   time.Duration `env:"SCB_JWT_TOKEN_TTL" envDefault:"24h"`
	RequireAuth   bool          `env:"SCB_REQUIRE_AUTH" envDefault:"false"`

	// Resource guard
	MaxConnections     int     `env:"SCB_MAX_CONNECTIONS" envDefault:"2000"`
	CPURejectThreshold float64 `env:"SCB_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"SCB_CPU_PAUSE_THRESHOLD" envDefault:"85.0"`
	MaxConnectRate     float64 `env:"SCB_MAX_CONNECT_RATE" envDefault:"50.0"`

	// Logging
	LogLevel  string `env:"SCB_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SCB_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"SCB_ENVIRONMENT" envDefault:"development"`
}

// Load reads .env (if present), then the process environment, into a
// validated Config. logger is optional; pass nil to suppress load notices.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the broker cannot safely start with.
func (c *Config) Validate() error {
	if c.WSAddr == "" {
		return fmt.Errorf("SCB_WS_ADDR is required")
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("SCB_MAX_PAYLOAD_SIZE must be > 0, got %d", c.MaxPayloadSize)
	}
	if c.RingCapacity <= 0 {
		return fmt.Errorf("SCB_RING_CAPACITY must be > 0, got %d", c.RingCapacity)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("SCB_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("SCB_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("SCB_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("SCB_CPU_PAUSE_THRESHOLD (%.1f) must be >= SCB_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("SCB_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("SCB_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}

// LogFields logs the resolved configuration at startup.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("queue_name", c.QueueName).
		Str("ws_addr", c.WSAddr).
		Str("metrics_addr", c.MetricsAddr).
		Str("nats_url", c.NATSUrl).
		Str("nats_subject", c.NATSSubject).
		Int("max_payload_size", c.MaxPayloadSize).
		Int("ring_capacity", c.RingCapacity).
		Int("inactivity_limit_seconds", c.InactivityLimitSec).
		Int("soh_interval_seconds", c.SOHIntervalSec).
		Bool("publish_on_processor_error", c.PublishOnProcessorError).
		Bool("require_auth", c.RequireAuth).
		Int("max_connections", c.MaxConnections).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("broker configuration loaded")
}
