// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob the server binaries read. A .env file is
// auto-loaded by the importing binary before parsing.
type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string `env:"ADDR" envDefault:":8080"`

	// CatalogBaseURL overrides the TMX endpoint (tests, mirrors).
	CatalogBaseURL string `env:"CATALOG_BASE_URL"`

	// RequiredClientVersion gates the optional handshake; empty
	// disables the version check.
	RequiredClientVersion string `env:"REQUIRED_CLIENT_VERSION"`

	// DefaultMappackID seeds square-mode lobbies that don't pick one.
	DefaultMappackID int `env:"DEFAULT_MAPPACK_ID" envDefault:"7237"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresHost     string `env:"PG_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"PG_PORT" envDefault:"5432"`
	PostgresDatabase string `env:"PG_DATABASE"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// PostgresURL assembles the pgx connection string.
func (c Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDatabase)
}
