package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for pushcron.
// Values are loaded from environment variables (and an optional .env file).
type Config struct {
	// StoreDriver: "postgres" or "bolt" (embedded, single node).
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	BoltPath    string `json:"bolt_path"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// PollSchedule is a cron expression for the scheduler tick cadence.
	PollSchedule string `json:"poll_schedule"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	SweepEnabled     bool          `json:"sweep_enabled"`
	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	// SweepThreshold is how long an execution may stay running before it
	// is marked timeout. It must exceed the longest expected fan-out.
	SweepThreshold    time.Duration `json:"-"`
	SweepThresholdStr string        `json:"sweep_threshold"`
	SweepBatchSize    int           `json:"sweep_batch_size"`

	EventBusBufferSize     int           `json:"eventbus_buffer_size"`
	EventBusEmitTimeout    time.Duration `json:"-"`
	EventBusEmitTimeoutStr string        `json:"eventbus_emit_timeout"`
	DispatcherWorkers      int           `json:"dispatcher_workers"`

	FanoutWorkers  int `json:"fanout_workers"`
	PushRatePerSec int `json:"push_rate_per_sec"`

	PushGatewayURL   string `json:"push_gateway_url"`
	PushGatewayToken string `json:"push_gateway_token,omitempty"`
	// PushSigningSecret, when set, HMAC-signs every gateway request body.
	PushSigningSecret string        `json:"push_signing_secret,omitempty"`
	PushTimeout       time.Duration `json:"-"`
	PushTimeoutStr    string        `json:"push_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	TZRefreshInterval    time.Duration `json:"-"`
	TZRefreshIntervalStr string        `json:"tz_refresh_interval"`

	// EventContentFile is a JSON file mapping event names to message content.
	EventContentFile string `json:"event_content_file,omitempty"`

	AdminJWTSecret string   `json:"admin_jwt_secret,omitempty"`
	CORSOrigins    []string `json:"cors_origins,omitempty"`
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first; it never
// overrides variables already set.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		StoreDriver:               os.Getenv("STORE_DRIVER"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		BoltPath:                  os.Getenv("BOLT_PATH"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		LogLevel:                  os.Getenv("LOG_LEVEL"),
		LogFormat:                 os.Getenv("LOG_FORMAT"),
		PollSchedule:              os.Getenv("POLL_SCHEDULE"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		SweepEnabled:              os.Getenv("SWEEP_ENABLED") != "false",
		SweepIntervalStr:          os.Getenv("SWEEP_INTERVAL"),
		SweepThresholdStr:         os.Getenv("SWEEP_THRESHOLD"),
		EventBusEmitTimeoutStr:    os.Getenv("EVENTBUS_EMIT_TIMEOUT"),
		PushGatewayURL:            os.Getenv("PUSH_GATEWAY_URL"),
		PushGatewayToken:          os.Getenv("PUSH_GATEWAY_TOKEN"),
		PushSigningSecret:         os.Getenv("PUSH_SIGNING_SECRET"),
		PushTimeoutStr:            os.Getenv("PUSH_TIMEOUT"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		TZRefreshIntervalStr:      os.Getenv("TZ_REFRESH_INTERVAL"),
		EventContentFile:          os.Getenv("EVENT_CONTENT_FILE"),
		AdminJWTSecret:            os.Getenv("ADMIN_JWT_SECRET"),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	cfg.SweepBatchSize = positiveIntEnv("SWEEP_BATCH_SIZE", 100)
	cfg.EventBusBufferSize = positiveIntEnv("EVENTBUS_BUFFER_SIZE", 100)
	cfg.DispatcherWorkers = positiveIntEnv("DISPATCHER_WORKERS", 4)
	cfg.FanoutWorkers = positiveIntEnv("FANOUT_WORKERS", 8)
	cfg.PushRatePerSec = nonNegativeIntEnv("PUSH_RATE_PER_SEC", 0)
	cfg.DBMaxOpenConns = positiveIntEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveIntEnv("DB_MAX_IDLE_CONNS", 5)
	cfg.CircuitBreakerThreshold = nonNegativeIntEnv("CIRCUIT_BREAKER_THRESHOLD", 10)

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.BoltPath == "" {
		cfg.BoltPath = "data/pushcron.db"
	}
	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "* * * * *"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.SweepThresholdStr == "" {
		cfg.SweepThresholdStr = "30m"
	}
	if cfg.EventBusEmitTimeoutStr == "" {
		cfg.EventBusEmitTimeoutStr = "5s"
	}
	if cfg.PushTimeoutStr == "" {
		cfg.PushTimeoutStr = "10s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "1m"
	}
	if cfg.TZRefreshIntervalStr == "" {
		cfg.TZRefreshIntervalStr = "1h"
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.DBOpTimeout = parseDuration(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = parseDuration(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = parseDuration(cfg.DBConnMaxIdleTimeStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.DispatcherDrainTimeout = parseDuration(cfg.DispatcherDrainTimeoutStr)
	cfg.SweepInterval = parseDuration(cfg.SweepIntervalStr)
	cfg.SweepThreshold = parseDuration(cfg.SweepThresholdStr)
	cfg.EventBusEmitTimeout = parseDuration(cfg.EventBusEmitTimeoutStr)
	cfg.PushTimeout = parseDuration(cfg.PushTimeoutStr)
	cfg.CircuitBreakerCooldown = parseDuration(cfg.CircuitBreakerCooldownStr)
	cfg.TZRefreshInterval = parseDuration(cfg.TZRefreshIntervalStr)

	return cfg
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func positiveIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logrus.Warnf("config: invalid %s %q (must be a positive integer), using default %d", key, v, def)
		return def
	}
	return n
}

func nonNegativeIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logrus.Warnf("config: invalid %s %q (must be a non-negative integer), using default %d", key, v, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.PushGatewayToken = maskSecret(c.PushGatewayToken)
	masked.AdminJWTSecret = maskSecret(c.AdminJWTSecret)
	masked.PushSigningSecret = maskSecret(c.PushSigningSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
