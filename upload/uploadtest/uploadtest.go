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

// Package uploadtest provides test doubles for the upload pipeline.
package uploadtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/upload"
)

// MarkedBatch records one MarkBatchAsRead call.
type MarkedBatch struct {
	BatchID string
	Reason  storage.RemovalReason
}

// Reader is an in-memory storage.Reader.
type Reader struct {
	mu      sync.Mutex
	batches []storage.Batch
	marked  []MarkedBatch
	nextID  int
	reads   atomic.Int64
	seals   atomic.Int64
	// KeepOnMark makes MarkBatchAsRead record the call without removing the batch.
	KeepOnMark bool
}

var (
	_ storage.Reader = (*Reader)(nil)
	_ storage.Sealer = (*Reader)(nil)
)

// NewReader creates an empty reader.
func NewReader() *Reader {
	return &Reader{}
}

// AddBatch appends a batch with the given event payloads and returns it.
func (r *Reader) AddBatch(events ...string) storage.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	b := storage.Batch{ID: fmt.Sprintf("batch-%d", r.nextID), Created: time.Now()}
	for _, e := range events {
		b.Events = append(b.Events, storage.Event{Data: []byte(e)})
		b.Size += int64(len(e))
	}
	r.batches = append(r.batches, b)
	return b
}

// ReadNextBatch implements storage.Reader.
func (r *Reader) ReadNextBatch() (storage.Batch, bool) {
	r.reads.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return storage.Batch{}, false
	}
	return r.batches[0], true
}

// MarkBatchAsRead implements storage.Reader.
func (r *Reader) MarkBatchAsRead(batch storage.Batch, reason storage.RemovalReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, MarkedBatch{BatchID: batch.ID, Reason: reason})
	if r.KeepOnMark {
		return
	}
	for i, b := range r.batches {
		if b.ID == batch.ID {
			r.batches = append(r.batches[:i], r.batches[i+1:]...)
			return
		}
	}
}

// Seal implements storage.Sealer.
func (r *Reader) Seal() {
	r.seals.Inc()
}

// Len returns the number of batches left.
func (r *Reader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Marked returns the recorded MarkBatchAsRead calls.
func (r *Reader) Marked() []MarkedBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MarkedBatch(nil), r.marked...)
}

// Reads returns the number of ReadNextBatch calls.
func (r *Reader) Reads() int64 {
	return r.reads.Load()
}

// Seals returns the number of Seal calls.
func (r *Reader) Seals() int64 {
	return r.seals.Load()
}

// UploadCall records one Upload invocation.
type UploadCall struct {
	Events   []storage.Event
	Context  devicecontext.Context
	Previous *upload.UploadStatus
}

// Uploader is a scripted upload.DataUploader. Each call consumes the next
// result; the last one repeats.
type Uploader struct {
	mu      sync.Mutex
	results []UploaderResult
	calls   []UploadCall
}

// UploaderResult is one scripted outcome.
type UploaderResult struct {
	Status upload.UploadStatus
	Err    error
}

var _ upload.DataUploader = (*Uploader)(nil)

// NewUploader creates an Uploader returning the given results in order.
func NewUploader(results ...UploaderResult) *Uploader {
	return &Uploader{results: results}
}

// Accepting returns an Uploader that always answers 202.
func Accepting() *Uploader {
	return NewUploader(UploaderResult{Status: upload.NewHTTPResponseStatus(http.StatusAccepted, "", 0)})
}

// Respond returns the result for a response with the given code.
func Respond(code int) UploaderResult {
	return UploaderResult{Status: upload.NewHTTPResponseStatus(code, "", 0)}
}

// Fail returns the result for a transport failure.
func Fail(err error) UploaderResult {
	return UploaderResult{Status: upload.NewNetworkErrorStatus(err, 0)}
}

// Upload implements upload.DataUploader. The attempt of the returned status
// follows previous, like the real uploader.
func (u *Uploader) Upload(_ context.Context, events []storage.Event, dctx devicecontext.Context, previous *upload.UploadStatus) (upload.UploadStatus, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var prev *upload.UploadStatus
	if previous != nil {
		p := *previous
		prev = &p
	}
	u.calls = append(u.calls, UploadCall{Events: events, Context: dctx, Previous: prev})

	if len(u.results) == 0 {
		return upload.NewHTTPResponseStatus(http.StatusAccepted, "", 0), nil
	}
	i := len(u.calls) - 1
	if i >= len(u.results) {
		i = len(u.results) - 1
	}
	r := u.results[i]
	status := r.Status
	status.Attempt = 0
	if previous != nil {
		status.Attempt = previous.Attempt + 1
	}
	return status, r.Err
}

// Calls returns the recorded calls.
func (u *Uploader) Calls() []UploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]UploadCall(nil), u.calls...)
}

// Client is a transport.Client answering with a handler. A nil handler never
// calls back.
type Client struct {
	Handler func(req *http.Request) (*http.Response, error)
	sends   atomic.Int64
	mu      sync.Mutex
	reqs    []*http.Request
}

// Send implements transport.Client.
func (c *Client) Send(req *http.Request, completion func(*http.Response, error)) {
	c.sends.Inc()
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	if c.Handler == nil {
		return
	}
	go completion(c.Handler(req))
}

// Sends returns the number of Send calls.
func (c *Client) Sends() int64 {
	return c.sends.Load()
}

// Requests returns the sent requests.
func (c *Client) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Request(nil), c.reqs...)
}

// Telemetry records reported errors.
type Telemetry struct {
	mu     sync.Mutex
	errors []string
}

var _ upload.Telemetry = (*Telemetry)(nil)

func (t *Telemetry) Error(message string, _ error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, message)
}

// Errors returns the recorded error messages.
func (t *Telemetry) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.errors...)
}

// Coordinator counts background task requests.
type Coordinator struct {
	Begins atomic.Int64
	Ends   atomic.Int64
}

func (c *Coordinator) BeginBackgroundTask() { c.Begins.Inc() }
func (c *Coordinator) EndBackgroundTask()   { c.Ends.Inc() }

// Delay is an upload.Delay with a fixed current value that counts changes.
type Delay struct {
	Value     time.Duration
	increases atomic.Int64
	decreases atomic.Int64
}

var _ upload.Delay = (*Delay)(nil)

func (d *Delay) Current() time.Duration { return d.Value }
func (d *Delay) Increase()              { d.increases.Inc() }
func (d *Delay) Decrease()              { d.decreases.Inc() }

// Increases returns the number of Increase calls.
func (d *Delay) Increases() int64 { return d.increases.Load() }

// Decreases returns the number of Decrease calls.
func (d *Delay) Decreases() int64 { return d.decreases.Load() }

// ReadyContext returns a snapshot that passes every upload condition.
func ReadyContext() devicecontext.Context {
	return devicecontext.Context{
		Application: devicecontext.Application{Service: "test-service", Env: "test", Version: "1.0.0", Source: "go", SDKVersion: "0.0.1"},
		Site:        "us1",
		ClientToken: "abc",
		NetworkConnectionInfo: &devicecontext.NetworkConnectionInfo{
			Reachability: devicecontext.ReachabilityYes,
		},
		BatteryStatus: &devicecontext.BatteryStatus{State: devicecontext.BatteryStateFull, Level: 1},
	}
}
