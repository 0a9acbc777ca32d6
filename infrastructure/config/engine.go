package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// EngineConfig holds the engine-facing run options enumerated in the
// engine's configuration surface: dispatch_brokers, mock, max_iterations,
// max_barrier_level, plus the cache root every ledger and broker resolve
// their on-disk paths under. reload_inputs is not part of it; it is passed
// per run as graph.ExecuteOptions.ReloadInputs.
type EngineConfig struct {
	CachePath        string        `env:"ENGINE_CACHE_PATH"`
	DispatchBrokers  bool          `env:"ENGINE_DISPATCH_BROKERS"`
	Mock             bool          `env:"ENGINE_MOCK"`
	MaxIterations    int           `env:"ENGINE_MAX_ITERATIONS"`
	MaxBarrierLevel  int           `env:"ENGINE_MAX_BARRIER_LEVEL"` // -1 means unset
	ConcurrencyLimit int           `env:"ENGINE_CONCURRENCY_LIMIT"`
	RateLimitPerSec  float64       `env:"ENGINE_RATE_LIMIT_PER_SEC"`
	RequestTimeout   time.Duration `env:"ENGINE_REQUEST_TIMEOUT"`
	LogLevel         string        `env:"LOG_LEVEL"`
	LogFormat        string        `env:"LOG_FORMAT"`
}

// NewEngineConfig returns an EngineConfig populated with defaults.
func NewEngineConfig() EngineConfig {
	return EngineConfig{
		CachePath:        "./.cache",
		DispatchBrokers:  true,
		Mock:             false,
		MaxIterations:    1000,
		MaxBarrierLevel:  -1,
		ConcurrencyLimit: 16,
		RateLimitPerSec:  10,
		RequestTimeout:   30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadEngineConfig loads .env (if present) then decodes EngineConfig from the
// process environment, overriding the defaults with anything set.
func LoadEngineConfig() (EngineConfig, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := NewEngineConfig()
	if err := envdecode.Decode(&cfg); err != nil {
		// envdecode returns an error when none of the tagged fields are
		// present in the environment; treat that as "no overrides".
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return EngineConfig{}, err
		}
	}
	return cfg, nil
}

// HasMaxBarrierLevel reports whether max_barrier_level was explicitly set.
func (c EngineConfig) HasMaxBarrierLevel() bool {
	return c.MaxBarrierLevel >= 0
}
