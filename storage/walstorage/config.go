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
	"errors"
	"time"
)

// Config defines how batches are built and retained on disk.
type Config struct {
	// Directory is the parent directory; each feature gets its own log below it.
	Directory string `mapstructure:"directory"`
	// MaxBatchSize is the maximum number of bytes of events in one batch.
	MaxBatchSize int64 `mapstructure:"max_batch_size"`
	// MaxObjectsInBatch is the maximum number of events in one batch.
	MaxObjectsInBatch int `mapstructure:"max_objects_in_batch"`
	// MaxObjectSize is the maximum size of a single event. Larger events are rejected.
	MaxObjectSize int64 `mapstructure:"max_object_size"`
	// MaxBatchAgeForWrite is how long a batch keeps accepting events before it is sealed.
	MaxBatchAgeForWrite time.Duration `mapstructure:"max_batch_age_for_write"`
	// MaxBatchAgeForRead is the age after which a batch is deleted without upload.
	MaxBatchAgeForRead time.Duration `mapstructure:"max_batch_age_for_read"`
	// MaxDirectorySize is the disk budget of one feature log. Oldest batches are
	// purged when it is exceeded.
	MaxDirectorySize int64 `mapstructure:"max_directory_size"`
	// SegmentCacheSize is the number of log segments kept in memory.
	SegmentCacheSize int `mapstructure:"segment_cache_size"`
}

const defaultSegmentCacheSize = 2

// DefaultConfig returns the default store settings.
func DefaultConfig() Config {
	return Config{
		Directory:           "/var/lib/uplink",
		MaxBatchSize:        4 * 1024 * 1024,
		MaxObjectsInBatch:   500,
		MaxObjectSize:       512 * 1024,
		MaxBatchAgeForWrite: 9500 * time.Millisecond,
		MaxBatchAgeForRead:  18 * time.Hour,
		MaxDirectorySize:    512 * 1024 * 1024,
		SegmentCacheSize:    defaultSegmentCacheSize,
	}
}

var (
	errEmptyDirectory        = errors.New("directory must be set")
	errNonPositiveLimit      = errors.New("size and count limits must be positive")
	errObjectLargerThanBatch = errors.New("max_object_size must not exceed max_batch_size")
	errBatchLargerThanDir    = errors.New("max_batch_size must not exceed max_directory_size")
	errNonPositiveAge        = errors.New("batch ages must be positive")
)

// Validate checks the settings.
func (cfg *Config) Validate() error {
	if cfg.Directory == "" {
		return errEmptyDirectory
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxObjectsInBatch <= 0 || cfg.MaxObjectSize <= 0 || cfg.MaxDirectorySize <= 0 {
		return errNonPositiveLimit
	}
	if cfg.MaxObjectSize > cfg.MaxBatchSize {
		return errObjectLargerThanBatch
	}
	if cfg.MaxBatchSize > cfg.MaxDirectorySize {
		return errBatchLargerThanDir
	}
	if cfg.MaxBatchAgeForWrite <= 0 || cfg.MaxBatchAgeForRead <= 0 {
		return errNonPositiveAge
	}
	return nil
}

func (cfg *Config) segmentCacheSize() int {
	if cfg.SegmentCacheSize > 0 {
		return cfg.SegmentCacheSize
	}
	return defaultSegmentCacheSize
}
