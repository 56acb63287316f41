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

import (
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/internal/metrics"
)

// Telemetry receives internal errors of the upload pipeline. It must never
// block or panic. Per-batch debug output goes to the worker logger.
type Telemetry interface {
	Error(message string, err error)
}

type nopTelemetry struct{}

func (nopTelemetry) Error(string, error) {}

// NewNopTelemetry returns a Telemetry that drops everything.
func NewNopTelemetry() Telemetry {
	return nopTelemetry{}
}

type loggerTelemetry struct {
	feature string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLoggerTelemetry reports telemetry on a dedicated named logger and counts
// errors. m may be nil.
func NewLoggerTelemetry(logger *zap.Logger, feature string, m *metrics.Metrics) Telemetry {
	return &loggerTelemetry{
		feature: feature,
		logger:  logger.Named("telemetry").With(zap.String(zapFeatureKey, feature)),
		metrics: m,
	}
}

func (t *loggerTelemetry) Error(message string, err error) {
	t.metrics.RecordTelemetryError(t.feature)
	t.logger.Error(message, zap.Error(err))
}
