package model

import "time"

// DataSource identifies the backing store that holds model tables.
type DataSource struct {
	Driver string     `yaml:"driver" mapstructure:"driver" json:"driver"` // sqlite, postgres, mysql, mssql
	DSN    string     `yaml:"dsn" mapstructure:"dsn" json:"-"`
	Schema string     `yaml:"schema" mapstructure:"schema" json:"schema,omitempty"`
	Pool   PoolConfig `yaml:"pool" mapstructure:"pool" json:"pool"`
}

// PoolConfig controls the backing store connection pool.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time" json:"conn_max_idle_time"`
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
