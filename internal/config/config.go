// Package config loads settings for the controller, worker and webhook listener
// from an optional yaml file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Storage backend: "postgres" or "memory"
	StoreBackend string `mapstructure:"store_backend"`

	// Database connection string
	DatabaseURL string `mapstructure:"database_url"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"http_port"`

	// Base URL the controller is reachable at, used to build result links in webhooks
	PublicURL string `mapstructure:"public_url"`

	// Run the worker pool and notifier inside the controller process
	EmbeddedWorker bool `mapstructure:"embedded_worker"`

	// Per-caller request rate and burst
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Shared secret required to register models or change their status; empty disables the check
	AdminToken string `mapstructure:"admin_token"`

	// Worker-specific configuration
	WorkerConcurrency       int           `mapstructure:"worker_concurrency"`
	WorkerPollInterval      time.Duration `mapstructure:"worker_poll_interval"`
	WorkerMaxBackoff        time.Duration `mapstructure:"worker_max_backoff"`
	WorkerHeartbeatInterval time.Duration `mapstructure:"worker_heartbeat_interval"`
	WorkerLeaseDuration     time.Duration `mapstructure:"worker_lease_duration"`

	// Model cache
	ModelCacheCapacity int           `mapstructure:"model_cache_capacity"`
	ModelCacheWait     time.Duration `mapstructure:"model_cache_wait"`

	// Execution timeout overrides. AttackTimeout applies to every method when set;
	// AttackTimeouts overrides it per method id.
	AttackTimeout  time.Duration            `mapstructure:"attack_timeout"`
	AttackTimeouts map[string]time.Duration `mapstructure:"attack_timeouts"`

	// Webhook delivery
	WebhookMaxAttempts    int           `mapstructure:"webhook_max_attempts"`
	WebhookInitialBackoff time.Duration `mapstructure:"webhook_initial_backoff"`
	WebhookMaxBackoff     time.Duration `mapstructure:"webhook_max_backoff"`
	WebhookTimeout        time.Duration `mapstructure:"webhook_timeout"`
	WebhookSecret         string        `mapstructure:"webhook_secret"`
	WebhookWorkers        int           `mapstructure:"webhook_workers"`
	WebhookQueueSize      int           `mapstructure:"webhook_queue_size"`

	// Model catalog seeded at startup
	ModelCatalogPath string `mapstructure:"model_catalog_path"`

	// Object storage holding model artifacts
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	// Flaky webhook listener
	ListenerPort        int           `mapstructure:"listener_port"`
	ListenerFailureRate float64       `mapstructure:"listener_failure_rate"`
	ListenerDelay       time.Duration `mapstructure:"listener_delay"`
	ListenerAlwaysFail  bool          `mapstructure:"listener_always_fail"`
	ListenerFailFirst   int           `mapstructure:"listener_fail_first"`

	// OpenTelemetry collector endpoint
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"store_backend":             "STORE_BACKEND",
	"database_url":              "DATABASE_URL",
	"http_port":                 "PORT",
	"public_url":                "PUBLIC_URL",
	"embedded_worker":           "EMBEDDED_WORKER",
	"rate_limit":                "RATE_LIMIT",
	"rate_burst":                "RATE_BURST",
	"admin_token":               "ADMIN_TOKEN",
	"worker_concurrency":        "WORKER_CONCURRENCY",
	"worker_poll_interval":      "WORKER_POLL_INTERVAL",
	"worker_max_backoff":        "WORKER_MAX_BACKOFF",
	"worker_heartbeat_interval": "WORKER_HEARTBEAT_INTERVAL",
	"worker_lease_duration":     "WORKER_LEASE_DURATION",
	"model_cache_capacity":      "MODEL_CACHE_CAPACITY",
	"model_cache_wait":          "MODEL_CACHE_WAIT",
	"attack_timeout":            "ATTACK_TIMEOUT",
	"webhook_max_attempts":      "WEBHOOK_MAX_ATTEMPTS",
	"webhook_initial_backoff":   "WEBHOOK_INITIAL_BACKOFF",
	"webhook_max_backoff":       "WEBHOOK_MAX_BACKOFF",
	"webhook_timeout":           "WEBHOOK_TIMEOUT",
	"webhook_secret":            "WEBHOOK_SECRET",
	"webhook_workers":           "WEBHOOK_WORKERS",
	"webhook_queue_size":        "WEBHOOK_QUEUE_SIZE",
	"model_catalog_path":        "MODEL_CATALOG_PATH",
	"minio_endpoint":            "MINIO_ENDPOINT",
	"minio_access_key":          "MINIO_ACCESS_KEY",
	"minio_secret_key":          "MINIO_SECRET_KEY",
	"minio_use_ssl":             "MINIO_USE_SSL",
	"listener_port":             "LISTENER_PORT",
	"listener_failure_rate":     "LISTENER_FAILURE_RATE",
	"listener_delay":            "LISTENER_DELAY",
	"listener_always_fail":      "LISTENER_ALWAYS_FAIL",
	"listener_fail_first":       "LISTENER_FAIL_FIRST",
	"otel_endpoint":             "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":                 "LOG_LEVEL",
	"log_format":                "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", "postgres")
	v.SetDefault("http_port", 6161)
	v.SetDefault("public_url", "http://localhost:6161")
	v.SetDefault("embedded_worker", false)
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_burst", 40)

	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("worker_lease_duration", 5*time.Minute)

	v.SetDefault("model_cache_capacity", 5)
	v.SetDefault("model_cache_wait", 30*time.Second)
	v.SetDefault("attack_timeout", time.Duration(0))

	v.SetDefault("webhook_max_attempts", 3)
	v.SetDefault("webhook_initial_backoff", time.Second)
	v.SetDefault("webhook_max_backoff", 30*time.Second)
	v.SetDefault("webhook_timeout", 10*time.Second)
	v.SetDefault("webhook_workers", 4)
	v.SetDefault("webhook_queue_size", 256)

	v.SetDefault("listener_port", 8003)
	v.SetDefault("listener_failure_rate", 0.0)
	v.SetDefault("listener_delay", time.Duration(0))

	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration from the yaml file at path (or ./advsandbox.yaml when
// path is empty and the file exists), then the environment, then defaults.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("advsandbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store_backend %q: must be postgres or memory", c.StoreBackend)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.WorkerHeartbeatInterval >= c.WorkerLeaseDuration {
		return fmt.Errorf("worker_heartbeat_interval (%s) must be shorter than worker_lease_duration (%s)",
			c.WorkerHeartbeatInterval, c.WorkerLeaseDuration)
	}
	if c.ModelCacheCapacity < 1 {
		return fmt.Errorf("model_cache_capacity must be at least 1, got %d", c.ModelCacheCapacity)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("webhook_max_attempts must be at least 1, got %d", c.WebhookMaxAttempts)
	}
	if c.ListenerFailureRate < 0 || c.ListenerFailureRate > 1 {
		return fmt.Errorf("listener_failure_rate must be between 0 and 1, got %v", c.ListenerFailureRate)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q: must be json or text", c.LogFormat)
	}
	return nil
}

// TimeoutFor returns the configured execution timeout for a method, or zero
// when the method default applies.
func (c *Config) TimeoutFor(methodID string) time.Duration {
	if d, ok := c.AttackTimeouts[methodID]; ok && d > 0 {
		return d
	}
	return c.AttackTimeout
}
