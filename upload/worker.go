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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/background"
	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/internal/metrics"
	"github.com/uplink-telemetry/uplink/storage"
)

const (
	zapFeatureKey = "feature"
	zapBatchIDKey = "batchID"
	zapStatusKey  = "status"
)

// WorkerSettings carries the collaborators of a Worker.
type WorkerSettings struct {
	Feature         string
	Reader          storage.Reader
	Uploader        DataUploader
	ContextProvider devicecontext.Provider
	Conditions      Conditions
	// Delay defaults to a DataUploadDelay with DefaultDelaySettings.
	Delay Delay
	// MaxBatchesPerUpload is the number of batches uploaded per cycle, 1 by default.
	MaxBatchesPerUpload int

	Background background.Coordinator
	Telemetry  Telemetry
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// retryState remembers the last status of a batch that stays at the head of
// the store, so the next attempt can report it.
type retryState struct {
	batchID string
	status  UploadStatus
}

// Worker periodically drains one feature store. Cycles and flushes run one at
// a time, on the worker goroutine while it is alive and on the caller after.
type Worker struct {
	feature         string
	reader          storage.Reader
	uploader        DataUploader
	contextProvider devicecontext.Provider
	conditions      Conditions
	delay           Delay
	maxBatches      int
	background      background.Coordinator
	telemetry       Telemetry
	logger          *zap.Logger
	metrics         *metrics.Metrics

	// retry is only touched on the worker goroutine.
	retry *retryState

	ops      chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	// serialMu serializes operations run on the caller goroutine once the
	// worker goroutine has exited.
	serialMu sync.Mutex
}

// NewWorker creates a worker and schedules its first cycle after the current delay.
func NewWorker(set WorkerSettings) *Worker {
	w := newWorker(set)
	go w.run()
	return w
}

// NewFlushWorker creates a worker that never schedules upload cycles and has
// no goroutine. Its operations, FlushSynchronously included, run on the caller.
func NewFlushWorker(set WorkerSettings) *Worker {
	w := newWorker(set)
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	close(w.doneCh)
	return w
}

func newWorker(set WorkerSettings) *Worker {
	w := &Worker{
		feature:         set.Feature,
		reader:          set.Reader,
		uploader:        set.Uploader,
		contextProvider: set.ContextProvider,
		conditions:      set.Conditions,
		delay:           set.Delay,
		maxBatches:      set.MaxBatchesPerUpload,
		background:      set.Background,
		telemetry:       set.Telemetry,
		logger:          set.Logger,
		metrics:         set.Metrics,
		ops:             make(chan func()),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	if w.delay == nil {
		w.delay = NewDataUploadDelay(DefaultDelaySettings())
	}
	if w.maxBatches <= 0 {
		w.maxBatches = 1
	}
	if w.background == nil {
		w.background = background.NewNop()
	}
	if w.telemetry == nil {
		w.telemetry = NewNopTelemetry()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.With(zap.String(zapFeatureKey, w.feature))
	w.metrics.SetUploadDelay(w.feature, w.delay.Current())
	return w
}

func (w *Worker) run() {
	defer close(w.doneCh)

	timer := time.NewTimer(w.delay.Current())
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case op := <-w.ops:
			op()
		case <-timer.C:
			select {
			case <-w.stopCh:
				return
			default:
			}
			w.uploadCycle()
			timer.Reset(w.delay.Current())
		}
	}
}

// runSerially executes fn on the worker goroutine and waits for it. Once the
// worker has stopped, fn runs on the caller goroutine instead.
func (w *Worker) runSerially(fn func()) {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case w.ops <- op:
		<-done
	case <-w.doneCh:
		w.serialMu.Lock()
		defer w.serialMu.Unlock()
		fn()
	}
}

// CancelSynchronously stops scheduling cycles. A cycle in progress completes
// before it returns. It is idempotent and must not be called from the worker
// goroutine.
func (w *Worker) CancelSynchronously() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

// FlushSynchronously uploads and removes every batch of the store, ignoring
// upload conditions.
func (w *Worker) FlushSynchronously() {
	w.runSerially(w.flush)
}

// FlushAndTearDown cancels the worker, then flushes the store.
func (w *Worker) FlushAndTearDown() {
	w.CancelSynchronously()
	w.FlushSynchronously()
}

func (w *Worker) uploadCycle() {
	defer func() {
		w.metrics.SetUploadDelay(w.feature, w.delay.Current())
	}()

	dctx := w.contextProvider.Read()
	if blockers := w.conditions.BlockersForUpload(dctx); len(blockers) > 0 {
		w.logger.Debug("No upload",
			zap.String("batchToUpload", "NOT CHECKED"),
			zap.String("systemConditions", describeBlockers(blockers)))
		for _, b := range blockers {
			w.metrics.RecordUploadBlocked(w.feature, b.Label())
		}
		w.delay.Increase()
		return
	}

	read, delivered := 0, 0
	for i := 0; i < w.maxBatches; i++ {
		batch, ok := w.reader.ReadNextBatch()
		if !ok {
			break
		}
		read++
		status := w.uploadBatch(batch, dctx)
		if status == nil {
			continue
		}
		if status.NeedsRetry {
			w.delay.Increase()
			return
		}
		delivered++
		if status.Err != nil {
			break
		}
	}

	switch {
	case read == 0:
		w.logger.Debug("No upload",
			zap.String("batchToUpload", "NO"),
			zap.String("systemConditions", describeBlockers(nil)))
		w.delay.Increase()
	case delivered > 0:
		w.delay.Decrease()
	default:
		w.delay.Increase()
	}
}

// uploadBatch uploads one batch and removes it unless it needs a retry. It
// returns nil when no request could be built.
func (w *Worker) uploadBatch(batch storage.Batch, dctx devicecontext.Context) *UploadStatus {
	w.background.BeginBackgroundTask()
	defer w.background.EndBackgroundTask()

	logger := w.logger.With(zap.String(zapBatchIDKey, batch.ID))
	logger.Debug("Uploading batch")

	status, err := w.uploader.Upload(context.Background(), batch.Events, dctx, w.previousStatus(batch))
	if err != nil {
		w.retry = nil
		w.reader.MarkBatchAsRead(batch, storage.Invalid())
		w.metrics.RecordUploadAttempt(w.feature, metrics.OutcomeInvalid)
		w.telemetry.Error(fmt.Sprintf("Failed to initiate '%s' data upload", w.feature), err)
		return nil
	}

	w.metrics.RecordUploadAttempt(w.feature, status.outcome())
	if status.NeedsRetry {
		logger.Debug("Batch not delivered, will be retransmitted", zap.String(zapStatusKey, status.UserDebugDescription))
		w.retry = &retryState{batchID: batch.ID, status: status}
	} else {
		logger.Debug("Batch delivered, won't be retransmitted", zap.String(zapStatusKey, status.UserDebugDescription))
		w.retry = nil
		w.reader.MarkBatchAsRead(batch, storage.IntakeCode(status.ResponseCode))
	}
	w.report(status)
	return &status
}

func (w *Worker) previousStatus(batch storage.Batch) *UploadStatus {
	if w.retry == nil || w.retry.batchID != batch.ID {
		return nil
	}
	previous := w.retry.status
	return &previous
}

func (w *Worker) report(status UploadStatus) {
	var (
		httpErr *HTTPError
		netErr  *NetworkError
	)
	switch {
	case status.Err == nil:
	case errors.Is(status.Err, ErrUnauthorized):
		w.logger.Error("Make sure that the provided client token still exists and you're targeting the relevant site.",
			zap.String("reason", status.UserErrorMessage()))
	case errors.As(status.Err, &httpErr):
		w.telemetry.Error(fmt.Sprintf("Data upload finished with status code: %d", httpErr.StatusCode), status.Err)
	case errors.As(status.Err, &netErr):
		w.telemetry.Error("Data upload finished with error", netErr.Err)
	}
}

// flush drains the store. Each batch gets one attempt and at most one inline
// retry when no response was received; it is removed whatever the outcome.
func (w *Worker) flush() {
	if sealer, ok := w.reader.(storage.Sealer); ok {
		sealer.Seal()
	}

	var lastID string
	for {
		batch, ok := w.reader.ReadNextBatch()
		if !ok {
			return
		}
		if batch.ID == lastID {
			// The store could not remove the previous batch; stop instead of looping.
			w.telemetry.Error(fmt.Sprintf("Failed to flush '%s' data", w.feature), errBatchNotRemoved)
			return
		}
		lastID = batch.ID

		w.flushBatch(batch)
		w.reader.MarkBatchAsRead(batch, storage.Flushed())
		w.metrics.RecordUploadAttempt(w.feature, metrics.OutcomeFlushed)
	}
}

var errBatchNotRemoved = errors.New("flushed batch was not removed from the store")

func (w *Worker) flushBatch(batch storage.Batch) {
	logger := w.logger.With(zap.String(zapBatchIDKey, batch.ID))
	dctx := w.contextProvider.Read()

	var previous *UploadStatus
	attempt := func() error {
		status, err := w.uploader.Upload(context.Background(), batch.Events, dctx, previous)
		if err != nil {
			return err
		}
		var netErr *NetworkError
		if errors.As(status.Err, &netErr) {
			previous = &status
			return netErr
		}
		return nil
	}
	notify := func(err error, _ time.Duration) {
		logger.Debug("Retrying flushed batch", zap.Error(err))
	}

	if err := backoff.RetryNotify(attempt, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), notify); err != nil {
		logger.Debug("Flushed batch was not delivered", zap.Error(err))
	}
}

func describeBlockers(blockers []Blocker) string {
	if len(blockers) == 0 {
		return "ready"
	}
	descriptions := make([]string, len(blockers))
	for i, b := range blockers {
		descriptions[i] = b.String()
	}
	return "[upload was skipped because: " + strings.Join(descriptions, " AND ") + "]"
}
