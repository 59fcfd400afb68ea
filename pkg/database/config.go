// Package database wires the audit event store (pkg/audit) to a real
// Postgres connection pool and runs its migrations. pkg/audit talks to
// Postgres directly through pgx rather than through an ent-generated
// client (see DESIGN.md's ent-codegen-unavailable note) — this package
// supplies that pool and keeps the schema it expects up to date.
package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds a libpq-style connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("TACHIKOMA_DB_PASSWORD is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max open conns must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max idle conns cannot be negative")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle conns (%d) cannot exceed max open conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// LoadConfigFromEnv loads Postgres connection settings from environment
// variables with production-ready defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("TACHIKOMA_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TACHIKOMA_DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("TACHIKOMA_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("TACHIKOMA_DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("TACHIKOMA_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TACHIKOMA_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("TACHIKOMA_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TACHIKOMA_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("TACHIKOMA_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("TACHIKOMA_DB_USER", "tachikoma"),
		Password:        os.Getenv("TACHIKOMA_DB_PASSWORD"),
		Database:        getEnvOrDefault("TACHIKOMA_DB_NAME", "tachikoma"),
		SSLMode:         getEnvOrDefault("TACHIKOMA_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
