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

// Package walstorage implements the durable event store on top of a write-ahead
// log. Every log entry holds one sealed batch; the head of the log is the oldest
// batch and is the only one handed out to readers.
package walstorage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/wal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/internal/metrics"
	"github.com/uplink-telemetry/uplink/storage"
)

var (
	// ErrObjectTooLarge is returned by Write for events above the configured object size.
	ErrObjectTooLarge = errors.New("event exceeds the maximum object size")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("store is closed")
)

const (
	zapFeatureKey = "feature"
	zapBatchIDKey = "batchID"
	zapReasonKey  = "reason"
	zapIndexKey   = "index"
)

// Settings carries the dependencies of a Store.
type Settings struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// openBatch accumulates events in memory until it is sealed into the log.
type openBatch struct {
	id      string
	created time.Time
	events  [][]byte
	size    int64
}

// Store is a per-feature durable batch store. It is safe for concurrent writers
// and a single reader.
type Store struct {
	cfg     Config
	feature string
	path    string
	logger  *zap.Logger
	metrics *metrics.Metrics

	// now is a function field for mocking the clock.
	now func() time.Time

	mu     sync.Mutex // mu protects the fields below.
	log    *wal.Log
	open   *openBatch
	closed bool
}

var (
	_ storage.Reader = (*Store)(nil)
	_ storage.Writer = (*Store)(nil)
	_ storage.Sealer = (*Store)(nil)
)

// New opens (or creates) the log for the feature below cfg.Directory.
func New(cfg Config, feature string, set Settings) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := set.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:     cfg,
		feature: feature,
		path:    filepath.Join(cfg.Directory, feature),
		logger:  logger.With(zap.String(zapFeatureKey, feature)),
		metrics: set.Metrics,
		now:     time.Now,
	}
	if err := s.openLog(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openLog() error {
	log, err := wal.Open(s.path, &wal.Options{
		SegmentCacheSize: s.cfg.segmentCacheSize(),
		NoCopy:           true,
	})
	if err != nil {
		return fmt.Errorf("walstorage: failed to open WAL: %w", err)
	}
	s.log = log
	return nil
}

// Write appends one event to the open batch, sealing the previous batch when it
// is full or too old. It never waits on network I/O.
func (s *Store) Write(data []byte) error {
	if int64(len(data)) > s.cfg.MaxObjectSize {
		s.metrics.RecordEventRejected(s.feature)
		return fmt.Errorf("%w: %d bytes", ErrObjectTooLarge, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.metrics.RecordEventRejected(s.feature)
		return ErrClosed
	}

	now := s.now()
	if s.open != nil && !s.canAppend(len(data), now) {
		if err := s.sealLocked(); err != nil {
			s.metrics.RecordEventRejected(s.feature)
			return err
		}
	}
	if s.open == nil {
		s.open = &openBatch{id: uuid.NewString(), created: now}
	}

	event := make([]byte, len(data))
	copy(event, data)
	s.open.events = append(s.open.events, event)
	s.open.size += int64(len(event))
	s.metrics.RecordEventIngested(s.feature)

	if len(s.open.events) >= s.cfg.MaxObjectsInBatch || s.open.size >= s.cfg.MaxBatchSize {
		return s.sealLocked()
	}
	return nil
}

func (s *Store) canAppend(n int, now time.Time) bool {
	return now.Sub(s.open.created) < s.cfg.MaxBatchAgeForWrite &&
		s.open.size+int64(n) <= s.cfg.MaxBatchSize &&
		len(s.open.events) < s.cfg.MaxObjectsInBatch
}

// Seal writes the open batch to the log so it becomes readable.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.sealLocked(); err != nil {
		s.logger.Error("Failed to seal batch", zap.Error(err))
	}
}

func (s *Store) sealLocked() error {
	if s.open == nil || len(s.open.events) == 0 {
		s.open = nil
		return nil
	}
	if s.log == nil {
		return ErrClosed
	}

	data, err := encodeRecord(&record{
		ID:      s.open.id,
		Created: s.open.created.UnixNano(),
		Events:  s.open.events,
	})
	if err != nil {
		return err
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("walstorage: failed to retrieve the last WAL index: %w", err)
	}
	if err := s.log.Write(last+1, data); err != nil {
		return fmt.Errorf("walstorage: failed to write batch: %w", err)
	}

	s.logger.Debug("Sealed batch",
		zap.String(zapBatchIDKey, s.open.id),
		zap.Uint64(zapIndexKey, last+1),
		zap.Int("events", len(s.open.events)))
	s.open = nil

	s.enforceDirectorySizeLocked()
	return nil
}

// enforceDirectorySizeLocked purges the oldest batches while the log is above its budget.
func (s *Store) enforceDirectorySizeLocked() {
	for {
		size, err := directorySize(s.path)
		if err != nil {
			s.logger.Error("Failed to compute directory size", zap.Error(err))
			return
		}
		if size <= s.cfg.MaxDirectorySize {
			return
		}
		first, last, err := s.indicesLocked()
		if err != nil || first == 0 || first > last {
			return
		}
		s.logger.Warn("Directory size exceeded, purging oldest batch",
			zap.Int64("size", size),
			zap.Int64("limit", s.cfg.MaxDirectorySize))
		if err := s.deleteHeadLocked(storage.Purged()); err != nil {
			s.logger.Error("Failed to purge batch", zap.Error(err))
			return
		}
	}
}

// ReadNextBatch implements storage.Reader.
func (s *Store) ReadNextBatch() (storage.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.Batch{}, false
	}

	now := s.now()
	if s.open != nil && now.Sub(s.open.created) >= s.cfg.MaxBatchAgeForWrite {
		if err := s.sealLocked(); err != nil {
			s.logger.Error("Failed to seal batch", zap.Error(err))
		}
	}

	for {
		rec, size, ok := s.headLocked()
		if !ok {
			return storage.Batch{}, false
		}
		if rec == nil {
			// Unreadable entry: drop it and move on.
			if err := s.deleteHeadLocked(storage.Invalid()); err != nil {
				s.logger.Error("Failed to delete corrupted batch", zap.Error(err))
				return storage.Batch{}, false
			}
			continue
		}
		if now.Sub(time.Unix(0, rec.Created)) > s.cfg.MaxBatchAgeForRead {
			if err := s.deleteHeadLocked(storage.Obsolete()); err != nil {
				s.logger.Error("Failed to delete obsolete batch", zap.Error(err))
				return storage.Batch{}, false
			}
			continue
		}
		return rec.batch(size), true
	}
}

// headLocked returns the decoded head of the log. A nil record with ok set means
// the head exists but cannot be decoded.
func (s *Store) headLocked() (*record, int64, bool) {
	first, last, err := s.indicesLocked()
	if err != nil {
		s.logger.Error("Failed to retrieve WAL indices", zap.Error(err))
		return nil, 0, false
	}
	if first == 0 || first > last {
		return nil, 0, false
	}
	data, err := s.log.Read(first)
	if err != nil {
		if errors.Is(err, wal.ErrNotFound) {
			return nil, 0, false
		}
		s.logger.Error("Failed to read batch", zap.Uint64(zapIndexKey, first), zap.Error(err))
		return nil, 0, true
	}
	rec, err := decodeRecord(data)
	if err != nil {
		s.logger.Error("Failed to decode batch", zap.Uint64(zapIndexKey, first), zap.Error(err))
		return nil, 0, true
	}
	return rec, int64(len(data)), true
}

func (s *Store) indicesLocked() (uint64, uint64, error) {
	if s.log == nil {
		return 0, 0, ErrClosed
	}
	first, err := s.log.FirstIndex()
	if err != nil {
		return 0, 0, err
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

// MarkBatchAsRead implements storage.Reader. Only the head batch can be removed;
// any other ID means the batch is already gone and the call is a no-op.
func (s *Store) MarkBatchAsRead(batch storage.Batch, reason storage.RemovalReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	rec, _, ok := s.headLocked()
	if !ok || rec == nil || rec.ID != batch.ID {
		s.logger.Debug("Batch already removed",
			zap.String(zapBatchIDKey, batch.ID),
			zap.Stringer(zapReasonKey, reason))
		return
	}
	if err := s.deleteHeadLocked(reason); err != nil {
		s.logger.Error("Failed to delete batch",
			zap.String(zapBatchIDKey, batch.ID),
			zap.Error(err))
	}
}

// deleteHeadLocked removes the first entry. The log cannot truncate its last
// remaining entry, so in that case it is recreated empty.
func (s *Store) deleteHeadLocked(reason storage.RemovalReason) error {
	first, last, err := s.indicesLocked()
	if err != nil {
		return err
	}
	if first == 0 {
		return nil
	}
	if first == last {
		if err := s.resetLocked(); err != nil {
			return err
		}
	} else if err := s.log.TruncateFront(first + 1); err != nil && !errors.Is(err, wal.ErrOutOfRange) {
		return fmt.Errorf("walstorage: failed to truncate WAL: %w", err)
	}

	s.metrics.RecordBatchDeleted(s.feature, reason.String())
	s.logger.Debug("Deleted batch", zap.Uint64(zapIndexKey, first), zap.Stringer(zapReasonKey, reason))
	return nil
}

func (s *Store) resetLocked() error {
	err := s.log.Close()
	s.log = nil
	if rmErr := os.RemoveAll(s.path); rmErr != nil {
		return multierr.Append(err, fmt.Errorf("walstorage: failed to remove WAL: %w", rmErr))
	}
	return multierr.Append(err, s.openLog())
}

// Len returns the number of batches in the store, including the open one.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if s.open != nil && len(s.open.events) > 0 {
		n++
	}
	first, last, err := s.indicesLocked()
	if err == nil && first != 0 && first <= last {
		n += int(last - first + 1)
	}
	return n
}

// Close seals the open batch and closes the log. Writes after Close fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.sealLocked()
	if s.log != nil {
		if syncErr := s.log.Sync(); syncErr != nil {
			err = multierr.Append(err, syncErr)
		}
		err = multierr.Append(err, s.log.Close())
		s.log = nil
	}
	return err
}

func directorySize(path string) (int64, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	var size int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			size += info.Size()
		}
	}
	return size, nil
}
