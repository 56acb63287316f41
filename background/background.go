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

// Package background lets an in-flight upload ask the host for extra execution
// time before the process is suspended or stopped.
package background

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/uplink-telemetry/uplink/internal/metrics"
)

// Coordinator is requested around every upload. Implementations must tolerate
// unmatched EndBackgroundTask calls.
type Coordinator interface {
	BeginBackgroundTask()
	EndBackgroundTask()
}

type nopCoordinator struct{}

func (nopCoordinator) BeginBackgroundTask() {}
func (nopCoordinator) EndBackgroundTask()   {}

// NewNop returns a Coordinator that does nothing.
func NewNop() Coordinator {
	return nopCoordinator{}
}

// Tracker counts in-flight grants so that shutdown can wait for them.
type Tracker struct {
	metrics  *metrics.Metrics
	inflight atomic.Int64

	mu      sync.Mutex
	waiters []chan struct{}
}

var _ Coordinator = (*Tracker)(nil)

// NewTracker creates a Tracker. m may be nil.
func NewTracker(m *metrics.Metrics) *Tracker {
	return &Tracker{metrics: m}
}

// BeginBackgroundTask implements Coordinator.
func (t *Tracker) BeginBackgroundTask() {
	t.inflight.Inc()
	t.metrics.AddBackgroundTasks(1)
}

// EndBackgroundTask implements Coordinator. Calls without a matching begin are ignored.
func (t *Tracker) EndBackgroundTask() {
	for {
		n := t.inflight.Load()
		if n == 0 {
			return
		}
		if t.inflight.CAS(n, n-1) {
			t.metrics.AddBackgroundTasks(-1)
			if n == 1 {
				t.notify()
			}
			return
		}
	}
}

// Inflight returns the number of outstanding grants.
func (t *Tracker) Inflight() int64 {
	return t.inflight.Load()
}

// Wait blocks until no grant is outstanding or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	if t.inflight.Load() == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight.Load() != 0 {
		return
	}
	for _, ch := range t.waiters {
		close(ch)
	}
	t.waiters = nil
}
