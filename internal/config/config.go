// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config defines the accounts service configuration and loads it
// from defaults, a YAML file, the environment and command-line flags.
package config

import (
	"net"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/auth"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// CodeInvalid is the oops code of every validation failure.
const CodeInvalid = "CONFIG_INVALID"

// Config is the complete service configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Storage  StorageConfig  `koanf:"storage" yaml:"storage"`
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Password PasswordConfig `koanf:"password" yaml:"password"`
	Hashing  HashingConfig  `koanf:"hashing" yaml:"hashing"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `koanf:"driver" yaml:"driver" jsonschema:"enum=postgres,enum=memory"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr           string        `koanf:"addr" yaml:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// SessionConfig configures session lifetime and purging.
type SessionConfig struct {
	TTL          time.Duration `koanf:"ttl" yaml:"ttl"`
	ReapInterval time.Duration `koanf:"reap_interval" yaml:"reap_interval"`
	ReapGrace    time.Duration `koanf:"reap_grace" yaml:"reap_grace"`
}

// PasswordConfig configures the password policy.
type PasswordConfig struct {
	MinLength        int  `koanf:"min_length" yaml:"min_length"`
	MaxLength        int  `koanf:"max_length" yaml:"max_length"`
	RequireDigit     bool `koanf:"require_digit" yaml:"require_digit"`
	RequireMixedCase bool `koanf:"require_mixed_case" yaml:"require_mixed_case"`
}

// HashingConfig configures argon2id and the hashing concurrency bound.
type HashingConfig struct {
	MemoryKiB     uint32 `koanf:"memory_kib" yaml:"memory_kib"`
	Iterations    uint32 `koanf:"iterations" yaml:"iterations"`
	Threads       uint8  `koanf:"threads" yaml:"threads"`
	MaxConcurrent int    `koanf:"max_concurrent" yaml:"max_concurrent"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	policy := auth.DefaultPasswordPolicy()
	return Config{
		Database: DatabaseConfig{MaxConns: 10},
		Storage:  StorageConfig{Driver: DriverPostgres},
		HTTP: HTTPConfig{
			Addr:           "127.0.0.1:8080",
			RequestTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Session: SessionConfig{
			TTL:          auth.DefaultSessionTTL,
			ReapInterval: auth.DefaultReapInterval,
			ReapGrace:    auth.DefaultReapGrace,
		},
		Password: PasswordConfig{
			MinLength:        policy.MinLength,
			MaxLength:        policy.MaxLength,
			RequireDigit:     policy.RequireDigit,
			RequireMixedCase: policy.RequireMixedCase,
		},
		Hashing: HashingConfig{
			MemoryKiB:     auth.DefaultHashParams.Memory,
			Iterations:    auth.DefaultHashParams.Iterations,
			Threads:       auth.DefaultHashParams.Threads,
			MaxConcurrent: auth.DefaultMaxConcurrentHashes,
		},
	}
}

func invalid(field, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("field", field).Errorf(format, args...)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database.url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return invalid("storage.driver", "storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}
	if c.Database.MaxConns < 0 {
		return invalid("database.max_conns", "database.max_conns must not be negative")
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return invalid("http.addr", "http.addr %q is not host:port", c.HTTP.Addr)
	}
	if c.HTTP.RequestTimeout <= 0 {
		return invalid("http.request_timeout", "http.request_timeout must be positive")
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return invalid("metrics.addr", "metrics.addr %q is not host:port", c.Metrics.Addr)
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session.ttl must be positive")
	}
	if c.Session.ReapInterval <= 0 {
		return invalid("session.reap_interval", "session.reap_interval must be positive")
	}
	if c.Session.ReapGrace < 0 {
		return invalid("session.reap_grace", "session.reap_grace must not be negative")
	}

	if c.Password.MinLength < 1 {
		return invalid("password.min_length", "password.min_length must be at least 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return invalid("password.max_length", "password.max_length must be at least password.min_length")
	}

	if c.Hashing.MemoryKiB < 8*uint32(c.Hashing.Threads) {
		return invalid("hashing.memory_kib", "hashing.memory_kib must be at least 8 KiB per thread")
	}
	if c.Hashing.MemoryKiB > auth.MaxArgon2Memory {
		return invalid("hashing.memory_kib", "hashing.memory_kib must be at most %d", auth.MaxArgon2Memory)
	}
	if c.Hashing.Iterations < 1 || c.Hashing.Iterations > auth.MaxArgon2Iterations {
		return invalid("hashing.iterations", "hashing.iterations must be between 1 and %d", auth.MaxArgon2Iterations)
	}
	if c.Hashing.Threads < 1 {
		return invalid("hashing.threads", "hashing.threads must be at least 1")
	}
	if c.Hashing.MaxConcurrent < 1 {
		return invalid("hashing.max_concurrent", "hashing.max_concurrent must be at least 1")
	}
	return nil
}

// PasswordPolicy returns the configured policy.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:        c.Password.MinLength,
		MaxLength:        c.Password.MaxLength,
		RequireDigit:     c.Password.RequireDigit,
		RequireMixedCase: c.Password.RequireMixedCase,
	}
}

// HashParams returns the configured argon2id parameters.
func (c *Config) HashParams() auth.HashParams {
	return auth.HashParams{
		Memory:     c.Hashing.MemoryKiB,
		Iterations: c.Hashing.Iterations,
		Threads:    c.Hashing.Threads,
	}
}
