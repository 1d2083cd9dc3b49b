/*
Package config loads server configuration from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env in the working directory, if present (godotenv)
  3. Process environment
  4. Command-line flags, applied by cmd/server

VARIABLES:
  PORT               HTTP port (8080)
  DB_DRIVER          sqlite | postgres (sqlite)
  DB_PATH            SQLite file, ":memory:" allowed (fees.db)
  DATABASE_URL       PostgreSQL DSN, required for DB_DRIVER=postgres
  OUTBOX_SCHEDULE    cron spec for the outbox worker (@every 30s)
  OUTBOX_BATCH_SIZE  events per run (50)
  OUTBOX_MAX_ATTEMPTS attempts before an event is parked (5)
  LOG_LEVEL          debug | info | warn | error (info)
  APP_ENV            development | production (development)
  CURRENCY           default wallet currency (NGN)
  CORS_ORIGINS       comma-separated allowed origins
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port              int
	Driver            string
	DBPath            string
	DatabaseURL       string
	OutboxSchedule    string
	OutboxBatchSize   int
	OutboxMaxAttempts int
	LogLevel          string
	Env               string
	Currency          string
	CORSOrigins       []string
}

// Load reads .env (when present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Driver:         or(getenv("DB_DRIVER"), DriverSQLite),
		DBPath:         or(getenv("DB_PATH"), "fees.db"),
		DatabaseURL:    getenv("DATABASE_URL"),
		OutboxSchedule: or(getenv("OUTBOX_SCHEDULE"), "@every 30s"),
		LogLevel:       or(getenv("LOG_LEVEL"), "info"),
		Env:            or(getenv("APP_ENV"), "development"),
		Currency:       or(getenv("CURRENCY"), "NGN"),
		CORSOrigins:    splitList(or(getenv("CORS_ORIGINS"), "http://localhost:5173,http://localhost:8080")),
	}

	var err error
	if cfg.Port, err = intVar(getenv, "PORT", 8080); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = intVar(getenv, "OUTBOX_BATCH_SIZE", 50); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = intVar(getenv, "OUTBOX_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return errors.New("outbox batch size and max attempts must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func or(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

func intVar(getenv func(string) string, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
