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

// Package metrics holds the prometheus instruments shared by every feature pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "uplink"

	featureLabel = "feature"
)

// Upload outcomes recorded on the attempts counter.
const (
	OutcomeAccepted = "accepted"
	OutcomeRetry    = "retry"
	OutcomeDropped  = "dropped"
	OutcomeInvalid  = "invalid"
	OutcomeFlushed  = "flushed"
)

// Metrics groups the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	uploadAttempts  *prometheus.CounterVec
	batchesDeleted  *prometheus.CounterVec
	uploadDelay     *prometheus.GaugeVec
	uploadBlocked   *prometheus.CounterVec
	telemetryErrors *prometheus.CounterVec
	backgroundTasks prometheus.Gauge
	eventsIngested  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Number of batch upload attempts by outcome.",
		}, []string{featureLabel, "outcome"}),
		batchesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_deleted_total",
			Help:      "Number of batches removed from the store by reason.",
		}, []string{featureLabel, "reason"}),
		uploadDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_delay_seconds",
			Help:      "Current delay before the next upload cycle.",
		}, []string{featureLabel}),
		uploadBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_blocked_total",
			Help:      "Number of upload cycles skipped because of device conditions.",
		}, []string{featureLabel, "blocker"}),
		telemetryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_errors_total",
			Help:      "Number of errors reported to the internal telemetry sink.",
		}, []string{featureLabel}),
		backgroundTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "background_tasks_inflight",
			Help:      "Number of uploads currently holding a background task grant.",
		}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Number of events accepted into the store.",
		}, []string{featureLabel}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Number of events the store refused to write.",
		}, []string{featureLabel}),
	}

	for _, c := range []prometheus.Collector{
		m.uploadAttempts,
		m.batchesDeleted,
		m.uploadDelay,
		m.uploadBlocked,
		m.telemetryErrors,
		m.backgroundTasks,
		m.eventsIngested,
		m.eventsRejected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// RecordUploadAttempt counts one upload attempt with the given outcome.
func (m *Metrics) RecordUploadAttempt(feature, outcome string) {
	if m == nil {
		return
	}
	m.uploadAttempts.WithLabelValues(feature, outcome).Inc()
}

// RecordBatchDeleted counts one batch removal.
func (m *Metrics) RecordBatchDeleted(feature, reason string) {
	if m == nil {
		return
	}
	m.batchesDeleted.WithLabelValues(feature, reason).Inc()
}

// SetUploadDelay publishes the current upload delay.
func (m *Metrics) SetUploadDelay(feature string, d time.Duration) {
	if m == nil {
		return
	}
	m.uploadDelay.WithLabelValues(feature).Set(d.Seconds())
}

// RecordUploadBlocked counts one skipped cycle per blocker.
func (m *Metrics) RecordUploadBlocked(feature, blocker string) {
	if m == nil {
		return
	}
	m.uploadBlocked.WithLabelValues(feature, blocker).Inc()
}

func (m *Metrics) RecordTelemetryError(feature string) {
	if m == nil {
		return
	}
	m.telemetryErrors.WithLabelValues(feature).Inc()
}

func (m *Metrics) AddBackgroundTasks(delta float64) {
	if m == nil {
		return
	}
	m.backgroundTasks.Add(delta)
}

func (m *Metrics) RecordEventIngested(feature string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(feature).Inc()
}

func (m *Metrics) RecordEventRejected(feature string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(feature).Inc()
}
