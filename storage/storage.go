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

// Package storage defines the contract between the durable event store and the
// components that write to it and drain it.
package storage

import (
	"fmt"
	"time"
)

// Event is one serialized telemetry event as produced by an instrumentation layer.
type Event struct {
	Data []byte
}

// Batch is an immutable group of events stored together. The store owns the
// underlying data; readers hold a transient copy until they mark it as read.
type Batch struct {
	// ID identifies the batch across reads. A batch returned twice has the same ID.
	ID string
	// Created is the time the batch was opened for writing.
	Created time.Time
	// Size is the number of bytes the batch occupies on disk.
	Size   int64
	Events []Event
}

// Reader is the capability used by the upload worker to drain the store.
type Reader interface {
	// ReadNextBatch returns the oldest batch eligible for upload, or false when
	// there is nothing to read.
	ReadNextBatch() (Batch, bool)
	// MarkBatchAsRead removes the batch from the store. Removing a batch that is
	// already gone is a no-op.
	MarkBatchAsRead(batch Batch, reason RemovalReason)
}

// Sealer is implemented by readers that hold buffered data not yet visible to
// ReadNextBatch. Seal makes all of it readable regardless of age.
type Sealer interface {
	Seal()
}

// Writer accepts events from application goroutines.
type Writer interface {
	Write(data []byte) error
}

type removalKind int

const (
	removalIntakeCode removalKind = iota
	removalInvalid
	removalFlushed
	removalObsolete
	removalPurged
)

// RemovalReason records why a batch left the store.
type RemovalReason struct {
	kind removalKind
	code int
}

// IntakeCode is the reason for a batch the intake answered with the given status code.
func IntakeCode(code int) RemovalReason {
	return RemovalReason{kind: removalIntakeCode, code: code}
}

// Invalid is the reason for a batch that could not be turned into a request.
func Invalid() RemovalReason { return RemovalReason{kind: removalInvalid} }

// Flushed is the reason for a batch drained during flush, whatever the outcome.
func Flushed() RemovalReason { return RemovalReason{kind: removalFlushed} }

// Obsolete is the reason for a batch that aged past the read limit.
func Obsolete() RemovalReason { return RemovalReason{kind: removalObsolete} }

// Purged is the reason for a batch dropped to keep the store under its size limit.
func Purged() RemovalReason { return RemovalReason{kind: removalPurged} }

// Code returns the intake status code and true for IntakeCode reasons.
func (r RemovalReason) Code() (int, bool) {
	return r.code, r.kind == removalIntakeCode
}

func (r RemovalReason) String() string {
	switch r.kind {
	case removalIntakeCode:
		return fmt.Sprintf("intake-code-%d", r.code)
	case removalInvalid:
		return "invalid"
	case removalFlushed:
		return "flushed"
	case removalObsolete:
		return "obsolete"
	case removalPurged:
		return "purged"
	}
	return "unknown"
}
