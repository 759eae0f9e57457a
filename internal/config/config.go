// Package config loads process settings from the environment and protocol
// timings from an optional TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port              string        `env:"PORT"                envDefault:"8080"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	ScreeningAPIURL   string        `env:"SCREENING_API_URL"   envDefault:"http://localhost:8000"`
	ServiceTimeout    time.Duration `env:"SERVICE_TIMEOUT"     envDefault:"30s"`
	StatusPollRetries int           `env:"STATUS_POLL_RETRIES" envDefault:"3"`
	RunTTL            time.Duration `env:"RUN_TTL"             envDefault:"2h"`
	ConfigFile        string        `env:"CONFIG_FILE"         envDefault:"cognisafe.toml"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.StatusPollRetries < 1 {
		cfg.StatusPollRetries = 1
	}
	if cfg.RunTTL <= 0 {
		return Config{}, fmt.Errorf("RUN_TTL must be positive, got %s", cfg.RunTTL)
	}
	return cfg, nil
}
