package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/cistern/internal/model"
)

// YAMLConfig represents the top-level cistern configuration file.
type YAMLConfig struct {
	DefaultDatabase string         `yaml:"default_database"`
	Databases       []DatabaseYAML `yaml:"databases"`
	Entities        EntitiesConfig `yaml:"entities"`
	Logging         LoggingConfig  `yaml:"logging"`
	Metrics         MetricsConfig  `yaml:"metrics"`
}

// DatabaseYAML defines a database in the YAML configuration file.
type DatabaseYAML struct {
	Name              string          `yaml:"name"`
	Driver            string          `yaml:"driver"`
	DSN               string          `yaml:"dsn"`
	PrivateKeyPath    string          `yaml:"private_key_path,omitempty"`
	Schema            string          `yaml:"schema,omitempty"`
	Workers           int             `yaml:"workers,omitempty"`
	CompletionWorkers int             `yaml:"completion_workers,omitempty"`
	Pool              *PoolYAMLConfig `yaml:"pool,omitempty"`
}

// PoolYAMLConfig controls the connection pool for a database in YAML config.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time,omitempty"`
}

// EntitiesConfig locates entity definition files.
type EntitiesConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the engine's Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseYAMLConfig(data)
}

// ParseYAMLConfig parses configuration text over the defaults.
func ParseYAMLConfig(data []byte) (*YAMLConfig, error) {
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that databases are named uniquely, have a driver and a
// DSN, and that the default database exists.
func (c *YAMLConfig) Validate() error {
	seen := make(map[string]bool, len(c.Databases))
	for i, d := range c.Databases {
		switch {
		case d.Name == "":
			return fmt.Errorf("%w: databases[%d] has no name", ErrInvalidConfig, i)
		case seen[d.Name]:
			return fmt.Errorf("%w: database %q declared twice", ErrInvalidConfig, d.Name)
		case d.Driver == "":
			return fmt.Errorf("%w: database %q has no driver", ErrInvalidConfig, d.Name)
		case d.DSN == "":
			return fmt.Errorf("%w: database %q has no dsn", ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
	}
	if c.DefaultDatabase != "" && len(c.Databases) > 0 && !seen[c.DefaultDatabase] {
		return fmt.Errorf("%w: default_database %q is not declared", ErrInvalidConfig, c.DefaultDatabase)
	}
	return nil
}

// ToModel converts the YAML entry into a database registration, applying
// the default pool limits where none are given.
func (d DatabaseYAML) ToModel() (model.DatabaseConfig, error) {
	out := model.DatabaseConfig{
		Name:              d.Name,
		Driver:            d.Driver,
		DSN:               d.DSN,
		PrivateKeyPath:    d.PrivateKeyPath,
		Schema:            d.Schema,
		IsActive:          true,
		Workers:           d.Workers,
		CompletionWorkers: d.CompletionWorkers,
		Pool:              model.DefaultPoolConfig(),
	}
	if d.Pool == nil {
		return out, nil
	}
	if d.Pool.MaxOpenConns > 0 {
		out.Pool.MaxOpenConns = d.Pool.MaxOpenConns
	}
	if d.Pool.MaxIdleConns > 0 {
		out.Pool.MaxIdleConns = d.Pool.MaxIdleConns
	}
	var err error
	if out.Pool.ConnMaxLifetime, err = duration(d.Pool.ConnMaxLifetime, out.Pool.ConnMaxLifetime); err != nil {
		return model.DatabaseConfig{}, fmt.Errorf("%w: database %q conn_max_lifetime: %v", ErrInvalidConfig, d.Name, err)
	}
	if out.Pool.ConnMaxIdleTime, err = duration(d.Pool.ConnMaxIdleTime, out.Pool.ConnMaxIdleTime); err != nil {
		return model.DatabaseConfig{}, fmt.Errorf("%w: database %q conn_max_idle_time: %v", ErrInvalidConfig, d.Name, err)
	}
	return out, nil
}

func duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Entities: EntitiesConfig{Dir: "./entities"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Namespace: "cistern"},
	}
}

// WriteDefaultConfig writes a starter configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	cfg.DefaultDatabase = "main"
	cfg.Databases = []DatabaseYAML{{
		Name:   "main",
		Driver: "sqlite",
		DSN:    "./cistern-data.db",
	}}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
