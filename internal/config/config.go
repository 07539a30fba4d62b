package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded once at startup from the environment.
type Config struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	DBDSN     string `env:"DB_DSN,required"`
	JWTSecret string `env:"JWT_SECRET,required"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// Heartbeat sweep: connections silent longer than StaleTimeout are
	// evicted on the next check.
	HeartbeatCheck time.Duration `env:"HEARTBEAT_CHECK" envDefault:"30s"`
	StaleTimeout   time.Duration `env:"STALE_TIMEOUT" envDefault:"65s"`

	// Message lifecycle timers.
	ExpireSweepEvery time.Duration `env:"EXPIRE_SWEEP_EVERY" envDefault:"1h"`
	PurgeSweepEvery  time.Duration `env:"PURGE_SWEEP_EVERY" envDefault:"24h"`
	PurgeRetention   int           `env:"PURGE_RETENTION_DAYS" envDefault:"7"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
