package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for extract-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL, engine metadata)
	Database DatabaseConfig `yaml:"database"`

	// Staging configuration
	Staging StagingConfig `yaml:"staging"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Retry policy for transient extraction errors
	Retry RetryConfig `yaml:"retry"`

	// Connector cache configuration
	Connectors ConnectorConfig `yaml:"connectors"`

	// Optional path to YAML error-classification rules. Empty uses the
	// built-in defaults.
	ClassifierRules string `yaml:"classifier_rules" env:"CLASSIFIER_RULES" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"extract"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"extract_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// StagingConfig holds staging area settings.
type StagingConfig struct {
	// Dir is the root directory for staged payloads.
	Dir string `yaml:"dir" env:"STAGING_DIR" env-default:"/var/lib/extract-engine/staging"`
}

// OrchestratorConfig sizes the worker pool and intake.
type OrchestratorConfig struct {
	Workers     int     `yaml:"workers" env:"ORCHESTRATOR_WORKERS" env-default:"4"`
	QueueDepth  int     `yaml:"queue_depth" env:"ORCHESTRATOR_QUEUE_DEPTH" env-default:"64"`
	SubmitRate  float64 `yaml:"submit_rate" env:"ORCHESTRATOR_SUBMIT_RATE" env-default:"0"`
	SubmitBurst int     `yaml:"submit_burst" env:"ORCHESTRATOR_SUBMIT_BURST" env-default:"10"`

	// HistoryLimit caps how many completed extractions stay in memory;
	// older ones are served from the database.
	HistoryLimit int `yaml:"history_limit" env:"ORCHESTRATOR_HISTORY_LIMIT" env-default:"512"`
}

// RetryConfig holds the in-process backoff policy for transient errors.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	InitialDelayMS int     `yaml:"initial_delay_ms" env:"RETRY_INITIAL_DELAY_MS" env-default:"100"`
	MaxDelayMS     int     `yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS" env-default:"5000"`
	Multiplier     float64 `yaml:"multiplier" env:"RETRY_MULTIPLIER" env-default:"2.0"`
	JitterFactor   float64 `yaml:"jitter_factor" env:"RETRY_JITTER_FACTOR" env-default:"0.1"`
}

// ConnectorConfig holds connector cache settings.
type ConnectorConfig struct {
	// TTLMinutes is how long idle connectors are kept alive.
	TTLMinutes int `yaml:"ttl_minutes" env:"CONNECTOR_TTL_MINUTES" env-default:"5"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on
// the returned Config. Secrets (PGPASSWORD) must come from environment
// variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be positive")
	}
	if c.Orchestrator.QueueDepth <= 0 {
		return fmt.Errorf("orchestrator.queue_depth must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Staging.Dir == "" {
		return fmt.Errorf("staging.dir is required")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ConnectorTTL returns the connector cache TTL as a duration.
func (c *ConnectorConfig) ConnectorTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// InitialDelay returns the initial backoff delay as a duration.
func (c *RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}
