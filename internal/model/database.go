// Package model holds the records persisted by the configuration store.
package model

import (
	"time"

	"github.com/faucetdb/cistern/internal/dialect"
)

// DatabaseConfig is a registered database connection.
type DatabaseConfig struct {
	ID                int64      `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Label             string     `json:"label" db:"label"`
	Driver            string     `json:"driver" db:"driver"` // postgres, mysql, mssql, sqlite, oracle, snowflake
	DSN               string     `json:"dsn,omitempty" db:"dsn"`
	PrivateKeyPath    string     `json:"private_key_path,omitempty" db:"private_key_path"`
	Schema            string     `json:"schema" db:"schema_name"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	Workers           int        `json:"workers" db:"workers"`
	CompletionWorkers int        `json:"completion_workers" db:"completion_workers"`
	Pool              PoolConfig `json:"pool"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// PoolConfig controls the connection pool of a database.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a database connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// ConnectionConfig converts the record into the dialect connection
// parameters.
func (d DatabaseConfig) ConnectionConfig() dialect.ConnectionConfig {
	return dialect.ConnectionConfig{
		Driver:          d.Driver,
		DSN:             d.DSN,
		SchemaName:      d.Schema,
		MaxOpenConns:    d.Pool.MaxOpenConns,
		MaxIdleConns:    d.Pool.MaxIdleConns,
		ConnMaxLifetime: d.Pool.ConnMaxLifetime,
		ConnMaxIdleTime: d.Pool.ConnMaxIdleTime,
		PrivateKeyPath:  d.PrivateKeyPath,
	}
}
