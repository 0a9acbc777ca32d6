package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/batchgraph/engine/infrastructure/ratelimit"
	"github.com/batchgraph/engine/infrastructure/resilience"
	"github.com/batchgraph/engine/pkg/broker"
)

// BrokerTuning holds the nested dispatch knobs a broker.Config needs:
// concurrency, rate limiting, retry backoff, and circuit-breaker
// thresholds. These nest more naturally in a YAML file than in flat env
// vars, so pipelines load them from a manifest alongside the flat
// env-driven EngineConfig.
type BrokerTuning struct {
	ConcurrencyLimit int     `yaml:"concurrency_limit"`
	MaxPerBatch      int     `yaml:"max_per_batch"`
	RateLimit        struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`
	CircuitBreaker struct {
		MaxFailures int           `yaml:"max_failures"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"circuit_breaker"`
}

// BrokersManifest maps a broker name (as passed to broker.New) to its
// tuning, so one YAML file can configure every broker-backed node in a
// pipeline.
type BrokersManifest struct {
	Brokers map[string]BrokerTuning `yaml:"brokers"`
}

// LoadBrokersManifest reads and parses a YAML broker-tuning manifest. A
// missing file is not an error; callers get a zero-value manifest and fall
// back to defaults, matching LoadEngineConfig's treatment of a missing .env.
func LoadBrokersManifest(path string) (BrokersManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BrokersManifest{}, nil
		}
		return BrokersManifest{}, err
	}

	var manifest BrokersManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return BrokersManifest{}, err
	}
	return manifest, nil
}

// For looks up one broker's tuning by name, reporting whether the manifest
// configured it explicitly.
func (m BrokersManifest) For(name string) (BrokerTuning, bool) {
	t, ok := m.Brokers[name]
	return t, ok
}

// ToBrokerConfig builds a broker.Config from this tuning, rooted at
// cachePath. Zero fields fall back to broker.New's own defaults, except
// that broker.New replaces the retry and circuit-breaker blocks as a whole
// and only when max_attempts (resp. max_failures) is zero; a block that
// sets that field keeps its other zero fields at zero.
func (t BrokerTuning) ToBrokerConfig(cachePath string) broker.Config {
	return broker.Config{
		CachePath:        cachePath,
		ConcurrencyLimit: t.ConcurrencyLimit,
		MaxPerBatch:      t.MaxPerBatch,
		RateLimit: ratelimit.RateLimitConfig{
			RequestsPerSecond: t.RateLimit.RequestsPerSecond,
			Burst:             t.RateLimit.Burst,
		},
		RetryConfig: resilience.RetryConfig{
			MaxAttempts:  t.Retry.MaxAttempts,
			InitialDelay: t.Retry.InitialDelay,
			MaxDelay:     t.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
		},
		CircuitBreaker: resilience.Config{
			MaxFailures: t.CircuitBreaker.MaxFailures,
			Timeout:     t.CircuitBreaker.Timeout,
		},
	}
}
