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

import "time"

// Delay controls the pause between upload cycles.
type Delay interface {
	Current() time.Duration
	Increase()
	Decrease()
}

// DelaySettings parameterize DataUploadDelay.
type DelaySettings struct {
	// MinDelay is the delay after a successful upload and the initial delay.
	MinDelay time.Duration `mapstructure:"min_delay"`
	// MaxDelay bounds the delay growth.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// ChangeRate is the relative growth applied by Increase.
	ChangeRate float64 `mapstructure:"change_rate"`
}

// DefaultDelaySettings returns the default settings for DelaySettings.
func DefaultDelaySettings() DelaySettings {
	return DelaySettings{
		MinDelay:   time.Second,
		MaxDelay:   10 * time.Second,
		ChangeRate: 0.1,
	}
}

// DataUploadDelay grows multiplicatively on failure and snaps back to the
// minimum on success. MinDelay <= Current() <= MaxDelay at all times. It is not
// safe for concurrent use; the worker goroutine owns it.
type DataUploadDelay struct {
	settings DelaySettings
	current  time.Duration
}

var _ Delay = (*DataUploadDelay)(nil)

// NewDataUploadDelay creates a delay starting at MinDelay.
func NewDataUploadDelay(settings DelaySettings) *DataUploadDelay {
	d := &DataUploadDelay{settings: settings}
	d.Reset()
	return d
}

// Reset sets the delay back to MinDelay.
func (d *DataUploadDelay) Reset() {
	d.current = d.settings.MinDelay
}

func (d *DataUploadDelay) Current() time.Duration {
	return d.current
}

// Increase grows the delay by ChangeRate, capped at MaxDelay.
func (d *DataUploadDelay) Increase() {
	next := time.Duration(float64(d.current) * (1 + d.settings.ChangeRate))
	if next > d.settings.MaxDelay || next < d.current {
		next = d.settings.MaxDelay
	}
	d.current = next
}

// Decrease returns the delay to MinDelay.
func (d *DataUploadDelay) Decrease() {
	d.current = d.settings.MinDelay
}
