package bucketguard

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "BUCKETGUARD_"

// Config is the file and environment representation of a limiter setup.
//
// Example YAML:
//
//	capacity: 100
//	refill_tokens: 10
//	refill_period: 1s
//	contention: striped
//	keyed:
//	  eviction: expire_after_access
//	  max_keys: 10000
//	  expire_after_access: 10m
//	  maintenance_enabled: true
type Config struct {
	Capacity      int64              `yaml:"capacity" env:"CAPACITY"`
	RefillTokens  int64              `yaml:"refill_tokens" env:"REFILL_TOKENS"`
	RefillPeriod  time.Duration      `yaml:"refill_period" env:"REFILL_PERIOD"`
	Contention    ContentionStrategy `yaml:"contention" env:"CONTENTION"`
	SteadyRate    bool               `yaml:"steady_rate" env:"STEADY_RATE"`
	UncheckedMath bool               `yaml:"unchecked_math" env:"UNCHECKED_MATH"`

	Keyed KeyedConfig `yaml:"keyed" envPrefix:"KEYED_"`
}

// KeyedConfig configures the key store of a keyed limiter.
type KeyedConfig struct {
	Eviction           EvictionPolicy `yaml:"eviction" env:"EVICTION"`
	MaxKeys            int            `yaml:"max_keys" env:"MAX_KEYS"`
	ExpireAfterAccess  time.Duration  `yaml:"expire_after_access" env:"EXPIRE_AFTER_ACCESS"`
	MaintenanceEnabled bool           `yaml:"maintenance_enabled" env:"MAINTENANCE_ENABLED"`
	MaintenancePeriod  time.Duration  `yaml:"maintenance_period" env:"MAINTENANCE_PERIOD"`
}

// DefaultConfig returns a burst-friendly 10 tokens per second with an
// unbounded key store.
func DefaultConfig() Config {
	return Config{
		Capacity:     10,
		RefillTokens: 10,
		RefillPeriod: time.Second,
	}
}

// LoadConfig reads DefaultConfig, overlays the YAML file at path when path is
// not empty, then overlays BUCKETGUARD_ environment variables. The result is
// validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Join(ErrInvalidSpec, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the rate and store settings.
func (c Config) Validate() error {
	if err := c.RateSpec(nil).Validate(); err != nil {
		return err
	}
	return c.Keyed.storeSpec().Validate()
}

// RateSpec converts the configuration into a RateSpec using clock, or the
// system clock when clock is nil.
func (c Config) RateSpec(clock TimeSource) RateSpec {
	return RateSpec{
		Capacity:      c.Capacity,
		RefillTokens:  c.RefillTokens,
		RefillPeriod:  c.RefillPeriod,
		Contention:    c.Contention,
		SteadyRate:    c.SteadyRate,
		UncheckedMath: c.UncheckedMath,
		Clock:         clock,
	}
}

func (c KeyedConfig) storeSpec() StoreSpec[string] {
	return KeyedStoreSpec[string](c, nil)
}

// KeyedStoreSpec converts the keyed configuration into a StoreSpec. Callbacks
// cannot be configured from files, so onRemove is passed in.
func KeyedStoreSpec[K comparable](c KeyedConfig, onRemove func(K)) StoreSpec[K] {
	return StoreSpec[K]{
		MaxKeys:            c.MaxKeys,
		ExpireAfterAccess:  c.ExpireAfterAccess,
		Eviction:           c.Eviction,
		OnRemove:           onRemove,
		MaintenanceEnabled: c.MaintenanceEnabled,
		MaintenancePeriod:  c.MaintenancePeriod,
	}
}
