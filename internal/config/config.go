// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"ssebot/internal/sse/metrics"
	"ssebot/internal/sse/tracing"
	"ssebot/internal/sse/transport"
)

// Couchbase holds the connection settings of the user store.
type Couchbase struct {
	ConnectionString string `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	BucketName       string `env:"COUCHBASE_BUCKET_NAME" envDefault:"ssebot"`
	ScopeName        string `env:"COUCHBASE_SCOPE_NAME" envDefault:"_default"`
}

type Config struct {
	Transport transport.Config
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
	Couchbase Couchbase

	PresenceInterval  time.Duration `env:"PRESENCE_INTERVAL" envDefault:"1s"`
	DirectoryCacheTTL time.Duration `env:"DIRECTORY_CACHE_TTL" envDefault:"5m"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	TracingEnabled    bool          `env:"TRACING_ENABLED" envDefault:"true"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return &cfg, cfg.validate()
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []error
	if c.Transport.SinkBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SINK_BUFFER must be positive, got %d", c.Transport.SinkBuffer))
	}
	if c.PresenceInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_INTERVAL must be positive, got %s", c.PresenceInterval))
	}
	if c.DirectoryCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("DIRECTORY_CACHE_TTL must be positive, got %s", c.DirectoryCacheTTL))
	}
	return errors.Join(errs...)
}
