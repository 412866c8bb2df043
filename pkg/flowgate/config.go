package flowgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended (upper-cased) to every environment key, so the
// full names are FLOWGATE_MAX_ACTIVE_FLOWS and FLOWGATE_EPOCH_US.
const envPrefix = "flowgate"

var ErrNotConfigured = errors.New("flowgate: FLOWGATE_MAX_ACTIVE_FLOWS and FLOWGATE_EPOCH_US must be set and non-zero")

// Config holds the scheduling parameters, read once at startup and
// immutable afterwards.
type Config struct {
	// MaxActiveFlows is how many flows may transmit at once.
	MaxActiveFlows uint32 `envconfig:"MAX_ACTIVE_FLOWS"`

	// EpochUS is the scheduling period in microseconds.
	EpochUS uint32 `envconfig:"EPOCH_US"`
}

// FromEnv reads the configuration from the process environment. Missing
// or zero values are a configuration error, never a silent default.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("flowgate: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether the configuration permits scheduling.
func (c Config) Validate() error {
	if c.MaxActiveFlows == 0 || c.EpochUS == 0 {
		return ErrNotConfigured
	}
	return nil
}

// Epoch returns the scheduling period as a duration.
func (c Config) Epoch() time.Duration {
	return time.Duration(c.EpochUS) * time.Microsecond
}
