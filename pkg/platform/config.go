package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig.
const (
	defaultServerName       = "component-state"
	defaultAddress          = ":8080"
	defaultShutdownTimeout  = 15 * time.Second
	defaultComponentTTL     = 15 * time.Minute
	defaultCleanupInterval  = time.Minute
	defaultObserverQueue    = 256
	defaultCollectorBuffer  = 16
	defaultMaxOpenConns     = 25
	defaultRetentionDays    = 90
	defaultAuditCleanup     = time.Hour
	defaultMetricsNamespace = "component_state"
	defaultMetricsPath      = "/metrics"
	defaultTracingEndpoint  = "localhost:4318"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
)

// Config is the service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Components ComponentsConfig `yaml:"components"`
	Collector  CollectorConfig  `yaml:"collector"`
	Database   DatabaseConfig   `yaml:"database"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ComponentsConfig configures the component state manager.
type ComponentsConfig struct {
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	EnforceOwnership  bool          `yaml:"enforce_ownership"`
	ObserverQueueSize int           `yaml:"observer_queue_size"`
}

// CollectorConfig configures the in-process collector registry.
type CollectorConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// DatabaseConfig configures the audit database. An empty DSN disables it.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// AdminConfig configures the admin API. It is only served when at least
// one key is configured.
type AdminConfig struct {
	APIKeys []AdminKeyConfig `yaml:"api_keys"`
}

// AdminKeyConfig is one admin API key.
type AdminKeyConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultServerName
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Components.DefaultTTL == 0 {
		cfg.Components.DefaultTTL = defaultComponentTTL
	}
	if cfg.Components.CleanupInterval == 0 {
		cfg.Components.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Components.ObserverQueueSize == 0 {
		cfg.Components.ObserverQueueSize = defaultObserverQueue
	}
	if cfg.Collector.BufferSize == 0 {
		cfg.Collector.BufferSize = defaultCollectorBuffer
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = defaultRetentionDays
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = defaultAuditCleanup
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = defaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Server.Name
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Components.DefaultTTL < 0 {
		errs = append(errs, "components.default_ttl must not be negative")
	}
	if c.Components.CleanupInterval < 0 {
		errs = append(errs, "components.cleanup_interval must not be negative")
	}
	if c.Components.ObserverQueueSize < 0 {
		errs = append(errs, "components.observer_queue_size must not be negative")
	}
	if c.Collector.BufferSize < 0 {
		errs = append(errs, "collector.buffer_size must not be negative")
	}
	if c.Audit.Enabled && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when audit is enabled")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}
	if c.Audit.CleanupInterval < 0 {
		errs = append(errs, "audit.cleanup_interval must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, "tracing.sample_rate must be between 0 and 1")
	}
	for i, k := range c.Admin.APIKeys {
		if k.Key == "" {
			errs = append(errs, fmt.Sprintf("admin.api_keys[%d].key is required", i))
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
