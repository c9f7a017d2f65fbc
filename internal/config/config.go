package config

import (
	"errors"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig      `yaml:"bridge"`
	Transport       TransportConfig   `yaml:"transport"`
	Control         ControlConfig     `yaml:"control"`
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Surface         SurfaceConfig     `yaml:"surface"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	Scheme       string   `yaml:"scheme"` // http (default) or https
	Address      string   `yaml:"address"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for bridge requests
	RateLimitRPS *float64 `yaml:"rate_limit_rps"` // default: 10, 0 disables pacing
}

// GetRateLimitRPS returns the request pacing rate with default
func (c *BridgeConfig) GetRateLimitRPS() float64 {
	if c.RateLimitRPS == nil {
		return 10.0 // 10 requests per second
	}
	return *c.RateLimitRPS
}

// TransportConfig contains shared request queue settings
type TransportConfig struct {
	Workers int `yaml:"workers"` // Concurrently running bridge calls (default: 4)
}

// ControlConfig describes the single control exposed to the host
type ControlConfig struct {
	ID                string   `yaml:"id"`
	Title             string   `yaml:"title"`
	ActionDescription string   `yaml:"action_description"`
	RefreshInterval   Duration `yaml:"refresh_interval"` // Stream demand interval, 0 = only on connect
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains command history settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // default: true
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SurfaceConfig contains the host-facing HTTP server settings
type SurfaceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expanding environment variables and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightcontrol.sqlite"
	}

	// Bridge defaults
	if cfg.Bridge.Scheme == "" {
		cfg.Bridge.Scheme = "http"
	}
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(30 * time.Second)
	}

	if cfg.Transport.Workers <= 0 {
		cfg.Transport.Workers = 4
	}

	// Control defaults
	if cfg.Control.ID == "" {
		cfg.Control.ID = "LIGHT_ID"
	}
	if cfg.Control.Title == "" {
		cfg.Control.Title = "Light"
	}
	if cfg.Control.RefreshInterval == 0 {
		cfg.Control.RefreshInterval = Duration(30 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Surface defaults
	if cfg.Surface.Port == 0 {
		cfg.Surface.Port = 8080
	}
	if cfg.Surface.Host == "" {
		cfg.Surface.Host = "127.0.0.1"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks required settings
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Bridge.Address == "" {
		errs = append(errs, errors.New("bridge.address is required"))
	}
	if cfg.Bridge.Token == "" {
		errs = append(errs, errors.New("bridge.token is required"))
	}
	if cfg.Bridge.Scheme != "http" && cfg.Bridge.Scheme != "https" {
		errs = append(errs, errors.New("bridge.scheme must be http or https"))
	}
	if cfg.Bridge.GetRateLimitRPS() < 0 {
		errs = append(errs, errors.New("bridge.rate_limit_rps must not be negative"))
	}
	return errors.Join(errs...)
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
