// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"syncengine.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	WorkerID        string `env:"WORKER_ID"`
	PollIntervalMS  int    `env:"POLL_INTERVAL_MS" envDefault:"1000"`
	BatchSize       int    `env:"BATCH_SIZE" envDefault:"10"`
	Concurrency     int    `env:"CONCURRENCY" envDefault:"10"`
	StaleAfterMin   int    `env:"STALE_AFTER_MIN" envDefault:"10"`
	ReapIntervalSec int    `env:"REAP_INTERVAL_SEC" envDefault:"60"`

	OTelEnabled bool `env:"OTEL_ENABLED" envDefault:"false"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMin) * time.Minute
}

func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSec) * time.Second
}
