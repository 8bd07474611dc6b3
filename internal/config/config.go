// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration of the hub API.
type Config struct {
	Addr        string `env:"HTTP_ADDR" envDefault:":8080"`
	Environment string `env:"APP_ENV" envDefault:"production"`
	Version     string `env:"APP_VERSION" envDefault:"dev"`
	Commit      string `env:"APP_COMMIT" envDefault:"unknown"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// APIKey signs session tokens. An empty key is accepted but reported at startup.
	APIKey string `env:"API_KEY"`

	DB        Database
	HTTP      HTTP
	Bootstrap Bootstrap
}

// Bootstrap describes the first administrator created on an empty database.
type Bootstrap struct {
	Email    string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	Username string `env:"BOOTSTRAP_ADMIN_USERNAME" envDefault:"admin"`
	Password string `env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// Enabled reports whether a bootstrap administrator was requested.
func (b Bootstrap) Enabled() bool {
	return strings.TrimSpace(b.Email) != ""
}

// Database mirrors the DB_* variables understood by the service.
type Database struct {
	Type     string `env:"DB_TYPE" envDefault:"postgres"`
	DSN      string `env:"DB_DSN"`
	Name     string `env:"DB_DATABASE" envDefault:"stexcore"`
	Storage  string `env:"DB_STORAGE" envDefault:"stexcore.db"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

// HTTP holds server tuning knobs.
type HTTP struct {
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	SignInBurst     int           `env:"SIGNIN_RATE_BURST" envDefault:"10"`
	SignInPerSecond int           `env:"SIGNIN_RATE_PER_SEC" envDefault:"5"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants env tags cannot express.
func (c Config) Validate() error {
	switch strings.ToLower(c.DB.Type) {
	case "postgres", "postgresql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported DB_TYPE %q", c.DB.Type)
	}
	if c.Bootstrap.Enabled() && c.Bootstrap.Password == "" {
		return errors.New("config: BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_EMAIL")
	}
	if c.HTTP.SignInBurst <= 0 || c.HTTP.SignInPerSecond <= 0 {
		return errors.New("config: sign-in rate limits must be positive")
	}
	return nil
}

// Development reports whether verbose development behaviour is enabled.
func (c Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}
