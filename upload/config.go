// Copyright The OpenTelemetry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//       http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upload

import "errors"

// Config defines the pacing and gating of uploads.
type Config struct {
	DelaySettings `mapstructure:",squash"`

	// MaxBatchesPerUpload is the number of batches sent per cycle.
	MaxBatchesPerUpload int `mapstructure:"max_batches_per_upload"`

	// MinBatteryLevel is the level at or below which an unplugged battery blocks uploads.
	MinBatteryLevel float64 `mapstructure:"min_battery_level"`

	// AllowConstrainedNetwork permits uploads on data-saving networks.
	AllowConstrainedNetwork bool `mapstructure:"allow_constrained_network"`
}

// DefaultConfig returns the default settings for Config.
func DefaultConfig() Config {
	conditions := DefaultConditions()
	return Config{
		DelaySettings:           DefaultDelaySettings(),
		MaxBatchesPerUpload:     1,
		MinBatteryLevel:         conditions.MinBatteryLevel,
		AllowConstrainedNetwork: conditions.AllowConstrainedNetwork,
	}
}

var (
	errNonPositiveMinDelay = errors.New("min_delay must be positive")
	errMaxBelowMinDelay    = errors.New("max_delay must not be lower than min_delay")
	errNegativeChangeRate  = errors.New("change_rate must not be negative")
	errNonPositiveBatches  = errors.New("max_batches_per_upload must be positive")
	errBatteryLevelRange   = errors.New("min_battery_level must be within [0, 1]")
)

// Validate checks the settings.
func (cfg *Config) Validate() error {
	if cfg.MinDelay <= 0 {
		return errNonPositiveMinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return errMaxBelowMinDelay
	}
	if cfg.ChangeRate < 0 {
		return errNegativeChangeRate
	}
	if cfg.MaxBatchesPerUpload <= 0 {
		return errNonPositiveBatches
	}
	if cfg.MinBatteryLevel < 0 || cfg.MinBatteryLevel > 1 {
		return errBatteryLevelRange
	}
	return nil
}

// Conditions returns the upload conditions configured by cfg.
func (cfg *Config) Conditions() Conditions {
	return Conditions{
		MinBatteryLevel:         cfg.MinBatteryLevel,
		AllowConstrainedNetwork: cfg.AllowConstrainedNetwork,
	}
}
