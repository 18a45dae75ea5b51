package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Config holds all configuration for the proxy.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	SourceURL string `json:"source_url"`
	SinkURL   string `json:"sink_url"`
	HTTPAddr  string `json:"http_addr"`
	LogLevel  string `json:"log_level"`

	// SeenBackend: "file" (default), "redis" or "postgres".
	SeenBackend  string `json:"seen_backend"`
	SeenFilePath string `json:"seen_file_path"`
	RedisAddr    string `json:"redis_addr,omitempty"`
	DatabaseURL  string `json:"database_url,omitempty"`

	RetryMaxAttempts    int           `json:"retry_max_attempts"`
	RetryBackoffBase    time.Duration `json:"-"`
	RetryBackoffBaseStr string        `json:"retry_backoff_base"`

	HTTPTimeout    time.Duration `json:"-"`
	HTTPTimeoutStr string        `json:"http_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// RootType is the resource type the inbound event id names.
	RootType string `json:"root_type"`

	// ResourceSpecPath overrides the built-in related-resource pull list
	// with a YAML file of {type, query} entries.
	ResourceSpecPath string `json:"resource_spec_path,omitempty"`

	// ReplicatorWorkers bounds the fan-out over related-resource types.
	// 1 means sequential processing.
	ReplicatorWorkers int `json:"replicator_workers"`

	// CircuitBreakerThreshold: 0 disables the breaker on the sink.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// OpenHIM mediator registration (optional).
	OpenHIMAPIURL   string `json:"openhim_api_url,omitempty"`
	OpenHIMUser     string `json:"openhim_user,omitempty"`
	OpenHIMPassword string `json:"-"`
	CallbackURL     string `json:"callback_url,omitempty"`

	// TLSInsecureSkipVerify disables certificate verification on outbound
	// HTTP. Only for environments with self-signed upstream certs.
	TLSInsecureSkipVerify bool `json:"tls_insecure_skip_verify"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		SourceURL:              os.Getenv("FHIR_SOURCE_URL"),
		SinkURL:                os.Getenv("FHIR_SINK_URL"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		SeenBackend:            os.Getenv("SEEN_BACKEND"),
		SeenFilePath:           os.Getenv("SEEN_FILE_PATH"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RetryBackoffBaseStr:    os.Getenv("RETRY_BACKOFF_BASE"),
		HTTPTimeoutStr:         os.Getenv("HTTP_TIMEOUT"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		MetricsPort:            os.Getenv("METRICS_PORT"),
		RootType:               os.Getenv("ROOT_RESOURCE_TYPE"),
		ResourceSpecPath:       os.Getenv("RESOURCE_SPEC_PATH"),
		OpenHIMAPIURL:          os.Getenv("OPENHIM_API_URL"),
		OpenHIMUser:            os.Getenv("OPENHIM_USER"),
		OpenHIMPassword:        os.Getenv("OPENHIM_PASSWORD"),
		CallbackURL:            os.Getenv("CALLBACK_URL"),
		TLSInsecureSkipVerify:  os.Getenv("TLS_INSECURE_SKIP_VERIFY") == "true",
	}

	if attemptsStr := os.Getenv("RETRY_MAX_ATTEMPTS"); attemptsStr != "" {
		if n, err := strconv.Atoi(attemptsStr); err == nil && n > 0 {
			cfg.RetryMaxAttempts = n
		} else {
			log.Printf("config: invalid RETRY_MAX_ATTEMPTS %q (must be a positive integer), using default 3", attemptsStr)
		}
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}

	if workersStr := os.Getenv("REPLICATOR_WORKERS"); workersStr != "" {
		if n, err := strconv.Atoi(workersStr); err == nil && n > 0 {
			cfg.ReplicatorWorkers = n
		} else {
			log.Printf("config: invalid REPLICATOR_WORKERS %q (must be a positive integer), using default 1", workersStr)
		}
	}
	if cfg.ReplicatorWorkers == 0 {
		cfg.ReplicatorWorkers = 1
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := strconv.Atoi(cbThreshStr); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, breaker disabled", cbThreshStr)
		}
	}
	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

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
	if cfg.SeenBackend == "" {
		cfg.SeenBackend = "file"
	}
	if cfg.RootType == "" {
		cfg.RootType = "Encounter"
	}
	if cfg.SeenFilePath == "" {
		cfg.SeenFilePath = "seen-events.json"
	}
	if cfg.RetryBackoffBaseStr == "" {
		cfg.RetryBackoffBaseStr = "500ms"
	}
	if cfg.HTTPTimeoutStr == "" {
		cfg.HTTPTimeoutStr = "30s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.RetryBackoffBaseStr); err == nil {
		cfg.RetryBackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.HTTPTimeoutStr); err == nil {
		cfg.HTTPTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}

	return cfg
}

// MaskedJSON returns the effective configuration as JSON with secrets masked.
func MaskedJSON(cfg Config) (string, error) {
	masked := cfg
	if masked.DatabaseURL != "" {
		masked.DatabaseURL = "***"
	}
	out, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
