// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package config loads layered configuration via Koanf v2:
// built-in defaults, then an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"database/sql"
	"fmt"
	"time"
)

// Config is the root configuration for the aggregator process.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Consumer ConsumerConfig `koanf:"consumer"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig configures the Postgres store adapter.
type DatabaseConfig struct {
	// URL is the store DSN.
	URL string `koanf:"url"`

	// PoolSize is the base number of pooled connections.
	PoolSize int `koanf:"pool_size"`

	// MaxOverflow is the number of connections allowed beyond PoolSize.
	// The pool's hard cap is PoolSize + MaxOverflow.
	MaxOverflow int `koanf:"max_overflow"`

	// IsolationLevel is the transaction isolation for dedup transactions.
	// One of: READ UNCOMMITTED, READ COMMITTED, REPEATABLE READ, SERIALIZABLE.
	IsolationLevel string `koanf:"isolation_level"`

	// ConnMaxLifetime bounds how long a pooled connection is reused.
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig configures the pub/sub bus.
type RedisConfig struct {
	// URL is the bus endpoint, e.g. redis://localhost:6379.
	URL string `koanf:"url"`

	// Channel is the logical pub/sub channel carrying wire events.
	Channel string `koanf:"channel"`
}

// ConsumerConfig configures the subscription consumer.
type ConsumerConfig struct {
	// NumWorkers is the worker pool width. Must be positive.
	NumWorkers int `koanf:"num_workers"`
}

// ServerConfig configures the query API binding.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Timeout bounds request read/write on the HTTP server.
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures diagnostic output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// isolationLevels maps the accepted DB_ISOLATION_LEVEL values to
// database/sql isolation levels.
var isolationLevels = map[string]sql.IsolationLevel{
	"READ UNCOMMITTED": sql.LevelReadUncommitted,
	"READ COMMITTED":   sql.LevelReadCommitted,
	"REPEATABLE READ":  sql.LevelRepeatableRead,
	"SERIALIZABLE":     sql.LevelSerializable,
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Consumer.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.Consumer.NumWorkers)
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("DB_POOL_SIZE must be positive, got %d", c.Database.PoolSize)
	}
	if c.Database.MaxOverflow < 0 {
		return fmt.Errorf("DB_MAX_OVERFLOW must not be negative, got %d", c.Database.MaxOverflow)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("API_PORT must be in 1..65535, got %d", c.Server.Port)
	}
	if _, ok := isolationLevels[c.Database.IsolationLevel]; !ok {
		return fmt.Errorf("DB_ISOLATION_LEVEL must be one of READ UNCOMMITTED, READ COMMITTED, REPEATABLE READ, SERIALIZABLE; got %q", c.Database.IsolationLevel)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Redis.Channel == "" {
		return fmt.Errorf("REDIS_CHANNEL is required")
	}
	return nil
}

// SQLIsolationLevel returns the configured isolation as a database/sql level.
// Validate has already checked membership; unknown values fall back to
// SERIALIZABLE, the safe default.
func (c *DatabaseConfig) SQLIsolationLevel() sql.IsolationLevel {
	if level, ok := isolationLevels[c.IsolationLevel]; ok {
		return level
	}
	return sql.LevelSerializable
}

// MaxConnections is the pool's hard cap.
func (c *DatabaseConfig) MaxConnections() int {
	return c.PoolSize + c.MaxOverflow
}
