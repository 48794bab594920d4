package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvDatabaseURL overrides database.url when set.
const EnvDatabaseURL = "DB_URL"

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Log            LogConfig            `yaml:"log"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Monitor        MonitorConfig        `yaml:"monitor"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	// URL, when set, replaces the discrete connection fields above.
	URL             string        `yaml:"url"`
	Driver          string        `yaml:"driver"`     // "postgres" or "memory"
	SQLDriver       string        `yaml:"sql_driver"` // "pq" or "pgx"
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the sustained request rate per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// TelemetryConfig holds OpenTelemetry settings. An empty OTLPEndpoint
// disables export and logs to stderr instead.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	Insecure       bool    `yaml:"insecure"`
	SampleRatio    float64 `yaml:"sample_ratio"` // fraction of root traces kept, 0..1
}

// LogConfig holds console logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// MonitorConfig holds settings for the overdue event monitor.
type MonitorConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Schedule   string   `yaml:"schedule"` // cron spec, e.g. "@every 1m"
	Namespaces []string `yaml:"namespaces"`
	Limit      int      `yaml:"limit"`
}

// Default returns the configuration used when a file leaves a field unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       100,
			RateBurst:       200,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "scheduler",
			SSLMode:         "disable",
			Driver:          "postgres",
			SQLDriver:       "pq",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "schedulerd",
			ServiceVersion: "0.1.0",
			SampleRatio:    1,
		},
		Log: LogConfig{
			Level: "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "schedulerd-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			Schedule: "@every 1m",
			Limit:    100,
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if url := os.Getenv(EnvDatabaseURL); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	switch c.Database.SQLDriver {
	case "pq", "pgx":
		// valid
	default:
		return fmt.Errorf("unsupported sql driver %q: must be \"pq\" or \"pgx\"", c.Database.SQLDriver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server rate_burst must be at least 1 when rate_limit is set, got %d", c.Server.RateBurst)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio %v out of range [0, 1]", c.Telemetry.SampleRatio)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Monitor.Enabled {
		if strings.TrimSpace(c.Monitor.Schedule) == "" {
			return fmt.Errorf("monitor schedule is required when the monitor is enabled")
		}
		if len(c.Monitor.Namespaces) == 0 {
			return fmt.Errorf("monitor needs at least one namespace when enabled")
		}
		if c.Monitor.Limit < 1 {
			return fmt.Errorf("monitor limit must be positive, got %d", c.Monitor.Limit)
		}
	}
	return nil
}
