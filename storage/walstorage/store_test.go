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

package walstorage

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uplink-telemetry/uplink/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Directory = dir
	cfg.MaxObjectsInBatch = 3
	cfg.MaxBatchAgeForWrite = time.Second
	cfg.MaxBatchAgeForRead = time.Hour
	return cfg
}

func newTestStore(t *testing.T, cfg Config, set Settings) (*Store, *fakeClock) {
	s, err := New(cfg, "logs", set)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_600_000_000, 0)}
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func eventsData(b storage.Batch) []string {
	var out []string
	for _, e := range b.Events {
		out = append(out, string(e.Data))
	}
	return out
}

func TestStoreWriteAndRead(t *testing.T) {
	s, _ := newTestStore(t, testConfig(t.TempDir()), Settings{})

	require.NoError(t, s.Write([]byte("a")))
	require.NoError(t, s.Write([]byte("b")))

	// The open batch is still young and has room.
	_, ok := s.ReadNextBatch()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Seal()
	batch, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, eventsData(batch))
	assert.NotEmpty(t, batch.ID)
	assert.Positive(t, batch.Size)

	// Reading again without marking returns the same batch.
	again, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, batch.ID, again.ID)

	s.MarkBatchAsRead(batch, storage.IntakeCode(202))
	_, ok = s.ReadNextBatch()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStoreRotatesOnObjectCount(t *testing.T) {
	s, _ := newTestStore(t, testConfig(t.TempDir()), Settings{})

	for i := 0; i < 7; i++ {
		require.NoError(t, s.Write([]byte(fmt.Sprintf("e%d", i))))
	}
	assert.Equal(t, 3, s.Len())

	first, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"e0", "e1", "e2"}, eventsData(first))
	s.MarkBatchAsRead(first, storage.IntakeCode(202))

	second, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"e3", "e4", "e5"}, eventsData(second))
	s.MarkBatchAsRead(second, storage.IntakeCode(202))

	s.Seal()
	third, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"e6"}, eventsData(third))
}

func TestStoreRotatesOnSize(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MaxObjectsInBatch = 100
	cfg.MaxObjectSize = 10
	cfg.MaxBatchSize = 25
	s, _ := newTestStore(t, cfg, Settings{})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write([]byte("0123456789")))
	}
	// Two events fit in 25 bytes, the third opens a new batch.
	assert.Equal(t, 2, s.Len())
	batch, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Len(t, batch.Events, 2)
}

func TestStoreSealsAgedBatchOnRead(t *testing.T) {
	s, clock := newTestStore(t, testConfig(t.TempDir()), Settings{})

	require.NoError(t, s.Write([]byte("a")))
	clock.Advance(500 * time.Millisecond)
	_, ok := s.ReadNextBatch()
	assert.False(t, ok)

	clock.Advance(600 * time.Millisecond)
	batch, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, eventsData(batch))
}

func TestStoreSealsAgedBatchOnWrite(t *testing.T) {
	s, clock := newTestStore(t, testConfig(t.TempDir()), Settings{})

	require.NoError(t, s.Write([]byte("a")))
	clock.Advance(2 * time.Second)
	require.NoError(t, s.Write([]byte("b")))
	assert.Equal(t, 2, s.Len())

	batch, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, eventsData(batch))
}

func TestStoreRejectsLargeObject(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MaxObjectSize = 4
	s, _ := newTestStore(t, cfg, Settings{})

	err := s.Write([]byte("12345"))
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.Equal(t, 0, s.Len())
}

func TestStoreMarkBatchAsReadIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, testConfig(t.TempDir()), Settings{})

	for i := 0; i < 6; i++ {
		require.NoError(t, s.Write([]byte(fmt.Sprintf("e%d", i))))
	}
	first, ok := s.ReadNextBatch()
	require.True(t, ok)

	s.MarkBatchAsRead(first, storage.IntakeCode(202))
	s.MarkBatchAsRead(first, storage.IntakeCode(202))

	second, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"e3", "e4", "e5"}, eventsData(second))
}

func TestStoreStaleMarkAfterReset(t *testing.T) {
	s, _ := newTestStore(t, testConfig(t.TempDir()), Settings{})

	require.NoError(t, s.Write([]byte("a")))
	s.Seal()
	only, ok := s.ReadNextBatch()
	require.True(t, ok)
	// Deleting the last entry recreates the log.
	s.MarkBatchAsRead(only, storage.IntakeCode(202))
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Write([]byte("b")))
	s.Seal()

	s.MarkBatchAsRead(only, storage.IntakeCode(202))
	next, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, eventsData(next))
}

func TestStoreDeletesObsoleteBatches(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, clock := newTestStore(t, testConfig(t.TempDir()), Settings{Logger: zap.New(core)})

	require.NoError(t, s.Write([]byte("old")))
	s.Seal()
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Write([]byte("new")))
	s.Seal()

	batch, ok := s.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, eventsData(batch))

	deleted := logs.FilterMessage("Deleted batch").All()
	require.Len(t, deleted, 1)
	assert.Equal(t, "obsolete", deleted[0].ContextMap()[zapReasonKey])
}

func TestStorePurgesWhenDirectoryIsFull(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testConfig(t.TempDir())
	cfg.MaxObjectsInBatch = 1
	cfg.MaxObjectSize = 256
	cfg.MaxBatchSize = 256
	cfg.MaxDirectorySize = 1024
	s, _ := newTestStore(t, cfg, Settings{Logger: zap.New(core)})

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		data := make([]byte, 256)
		_, _ = rnd.Read(data)
		require.NoError(t, s.Write(data))
	}

	assert.Less(t, s.Len(), 20)
	assert.Greater(t, s.Len(), 0)
	assert.NotEmpty(t, logs.FilterMessage("Directory size exceeded, purging oldest batch").All())
	size, err := directorySize(s.path)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, cfg.MaxDirectorySize)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	cfg := testConfig(t.TempDir())
	s, err := New(cfg, "rum", Settings{})
	require.NoError(t, err)
	require.NoError(t, s.Write([]byte("a")))
	require.NoError(t, s.Write([]byte("b")))
	// Close seals the open batch.
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write([]byte("c")), ErrClosed)

	reopened, err := New(cfg, "rum", Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	batch, ok := reopened.ReadNextBatch()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, eventsData(batch))
}

func TestStoreConcurrentWriters(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MaxObjectsInBatch = 10
	s, _ := newTestStore(t, cfg, Settings{})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Write([]byte(fmt.Sprintf("w%d-%d", w, i))))
			}
		}(w)
	}
	wg.Wait()
	s.Seal()

	total := 0
	for {
		batch, ok := s.ReadNextBatch()
		if !ok {
			break
		}
		total += len(batch.Events)
		s.MarkBatchAsRead(batch, storage.Flushed())
	}
	assert.Equal(t, 100, total)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no directory", mutate: func(c *Config) { c.Directory = "" }, wantErr: errEmptyDirectory},
		{name: "zero objects", mutate: func(c *Config) { c.MaxObjectsInBatch = 0 }, wantErr: errNonPositiveLimit},
		{name: "object larger than batch", mutate: func(c *Config) { c.MaxObjectSize = c.MaxBatchSize + 1 }, wantErr: errObjectLargerThanBatch},
		{name: "batch larger than directory", mutate: func(c *Config) { c.MaxDirectorySize = c.MaxBatchSize - 1 }, wantErr: errBatchLargerThanDir},
		{name: "zero age", mutate: func(c *Config) { c.MaxBatchAgeForRead = 0 }, wantErr: errNonPositiveAge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
