// Package config loads the process configuration from environment variables
// prefixed with STAKEWATCH_ and validates it before anything is wired up.
package config

import (
	"time"

	"github.com/mtessaro/stakewatch/internal/pkg/validator"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration.
type Config struct {
	// Ledger node endpoints.
	NodeRPCEndpoint string `envconfig:"NODE_RPC_ENDPOINT" validate:"required,url"`
	NodeWSEndpoint  string `envconfig:"NODE_WS_ENDPOINT" validate:"required,url"`

	// Redis connection. An empty address switches the process to in-memory
	// stores: no checkpoint survives a restart and commission dedup starts
	// cold.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	// Waiter registry tuning.
	WaiterTTL     time.Duration `envconfig:"WAITER_TTL" default:"20m" validate:"gt=0"`
	PruneInterval time.Duration `envconfig:"PRUNE_INTERVAL" default:"1m" validate:"gt=0"`

	// Fallback transaction reads.
	FallbackAttempts uint          `envconfig:"FALLBACK_ATTEMPTS" default:"3" validate:"gt=0"`
	FallbackDelay    time.Duration `envconfig:"FALLBACK_DELAY" default:"600ms" validate:"gt=0"`

	// Pipeline tuning.
	DebounceWindow            time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"800ms" validate:"gt=0"`
	ReconnectPause            time.Duration `envconfig:"RECONNECT_PAUSE" default:"1s" validate:"gt=0"`
	MaxConcurrentCorrelations int           `envconfig:"MAX_CONCURRENT_CORRELATIONS" default:"8" validate:"gt=0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("stakewatch", &cfg); err != nil {
		return Config{}, err
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
