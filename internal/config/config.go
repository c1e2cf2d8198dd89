package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the node storage engine
type Config struct {
	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Connection pool settings
	MaxConns int `yaml:"max_conns"`

	// Engine settings
	BatchSize    int           `yaml:"batch_size"`    // Max entities per bulk transaction
	LockRetries  int           `yaml:"lock_retries"`  // Whole-transaction retries on lock failure
	RetryBackoff time.Duration `yaml:"retry_backoff"` // Delay between retries

	// Tablespace settings
	TablespaceMain  string `yaml:"tablespace_main"`
	TablespaceIndex string `yaml:"tablespace_index"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`

	// Workers for index builds and change-file parsing
	Workers int `yaml:"workers"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBPassword:      "",
		DBSchema:        "public",
		MaxConns:        runtime.NumCPU(),
		BatchSize:       1000,
		LockRetries:     3,
		RetryBackoff:    100 * time.Millisecond,
		Workers:         runtime.NumCPU(),
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile overlays settings from a YAML file onto the config
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}
	if c.LockRetries < 0 {
		return fmt.Errorf("lock retries must not be negative")
	}
	return nil
}
