package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the campaign store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "memory"
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for dispatch locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SecurityConfig holds the credential encryption key. The key is the raw
// 32-byte string, never logged.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// TrackingConfig controls open/click tracking.
type TrackingConfig struct {
	PublicBaseURL      string `yaml:"public_base_url"`
	DefaultRedirectURL string `yaml:"default_redirect_url"`
	RewriteLinks       bool   `yaml:"rewrite_links"`
}

// DispatchConfig holds dispatch loop settings.
type DispatchConfig struct {
	LockBackend        string `yaml:"lock_backend"` // "redis", "postgres" or "none"
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds"`
	SMTPTimeoutSeconds int    `yaml:"smtp_timeout_seconds"`
}

// LockTTL returns the lock TTL as a duration
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SMTPTimeout returns the SMTP dial/command timeout as a duration
func (c DispatchConfig) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSeconds) * time.Second
}

// SchedulerConfig controls the due-campaign poller.
type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	BatchLimit      int  `yaml:"batch_limit"`
}

// Interval returns the polling interval as a duration
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// EventsConfig configures the optional SQS mirror of campaign events.
type EventsConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
	AWSRegion   string `yaml:"aws_region"`
}

// LoggingConfig holds structured logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether recipient addresses are masked in logs. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// ValidationError is returned by Validate. It is fatal at startup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so the binaries can run from environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Dispatch.LockBackend == "" {
		cfg.Dispatch.LockBackend = "none"
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 300
	}
	if cfg.Dispatch.SMTPTimeoutSeconds == 0 {
		cfg.Dispatch.SMTPTimeoutSeconds = 30
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.BatchLimit == 0 {
		cfg.Scheduler.BatchLimit = 5
	}
	if cfg.Events.AWSRegion == "" {
		cfg.Events.AWSRegion = "us-east-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("DATABASE_URL"); ok {
		cfg.Database.URL = v
	}
	if v, ok := get("DATABASE_DRIVER"); ok {
		cfg.Database.Driver = v
	}
	if v, ok := get("REDIS_URL"); ok {
		cfg.Redis.URL = v
		if cfg.Dispatch.LockBackend == "none" {
			cfg.Dispatch.LockBackend = "redis"
		}
	}
	if v, ok := lookup("ENCRYPTION_KEY"); ok && v != "" {
		// taken verbatim: surrounding spaces count toward the 32 bytes
		cfg.Security.EncryptionKey = v
	}
	if v, ok := get("TRACKING_BASE_URL"); ok {
		cfg.Tracking.PublicBaseURL = v
	}
	if v, ok := get("TRACKING_DEFAULT_REDIRECT_URL"); ok {
		cfg.Tracking.DefaultRedirectURL = v
	}
	if v, ok := get("SCHEDULER_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ValidationError{Field: "SCHEDULER_ENABLED", Reason: "must be a boolean"}
		}
		cfg.Scheduler.Enabled = b
	}
	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: "PORT", Reason: "must be an integer"}
		}
		cfg.Server.Port = port
	}
	if v, ok := get("SQS_EVENTS_QUEUE_URL"); ok {
		cfg.Events.SQSQueueURL = v
	}
	if v, ok := get("AWS_REGION"); ok {
		cfg.Events.AWSRegion = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the settings every binary depends on. Any error is fatal
// at startup.
func (cfg *Config) Validate() error {
	if cfg.Security.EncryptionKey == "" {
		return &ValidationError{Field: "security.encryption_key", Reason: "is required (ENCRYPTION_KEY)"}
	}
	if n := len(cfg.Security.EncryptionKey); n != 32 {
		return &ValidationError{Field: "security.encryption_key", Reason: fmt.Sprintf("must be exactly 32 bytes, got %d", n)}
	}
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return &ValidationError{Field: "database.url", Reason: "is required for the postgres driver (DATABASE_URL)"}
		}
	case "memory":
	default:
		return &ValidationError{Field: "database.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Database.Driver)}
	}
	switch cfg.Dispatch.LockBackend {
	case "redis":
		if cfg.Redis.URL == "" {
			return &ValidationError{Field: "redis.url", Reason: "is required for the redis lock backend (REDIS_URL)"}
		}
	case "postgres":
		if cfg.Database.Driver != "postgres" {
			return &ValidationError{Field: "dispatch.lock_backend", Reason: "postgres locks need the postgres driver"}
		}
	case "none":
	default:
		return &ValidationError{Field: "dispatch.lock_backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Dispatch.LockBackend)}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Reason: "must be between 1 and 65535"}
	}
	return nil
}
