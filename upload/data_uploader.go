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
	"net/http"
	"sync"
	"time"

	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/transport"
)

// RequestIDHeader carries the identifier of an upload request.
const RequestIDHeader = "DD-REQUEST-ID"

// ExecutionContext describes the attempt a request is built for.
type ExecutionContext struct {
	// Attempt is 0 for the first attempt of a batch.
	Attempt uint
	// PreviousResponseCode is the status received by the previous attempt, or 0.
	PreviousResponseCode int
}

// RequestBuilder turns events into an upload request.
type RequestBuilder interface {
	Request(events []storage.Event, ctx devicecontext.Context, exec ExecutionContext) (*http.Request, error)
}

// DataUploader performs one synchronous upload of a batch. The returned error
// is non-nil only when no request could be built for the events; every
// transport outcome is reported through the status.
type DataUploader interface {
	Upload(ctx context.Context, events []storage.Event, dctx devicecontext.Context, previous *UploadStatus) (UploadStatus, error)
}

// errInconsistentTransport is reported when a transport completes with neither
// a response nor an error.
var errInconsistentTransport = errors.New("transport completed without response or error")

type uploadResult struct {
	resp *http.Response
	err  error
}

type dataUploader struct {
	builder         RequestBuilder
	client          transport.Client
	responseTimeout time.Duration
}

var _ DataUploader = (*dataUploader)(nil)

// NewDataUploader creates an uploader. responseTimeout bounds the wait for a
// transport that never calls back; zero means no bound besides ctx.
func NewDataUploader(builder RequestBuilder, client transport.Client, responseTimeout time.Duration) DataUploader {
	return &dataUploader{
		builder:         builder,
		client:          client,
		responseTimeout: responseTimeout,
	}
}

func (u *dataUploader) Upload(ctx context.Context, events []storage.Event, dctx devicecontext.Context, previous *UploadStatus) (UploadStatus, error) {
	exec := ExecutionContext{}
	if previous != nil {
		exec.Attempt = previous.Attempt + 1
		exec.PreviousResponseCode = previous.ResponseCode
	}

	req, err := u.builder.Request(events, dctx, exec)
	if err != nil {
		return UploadStatus{}, fmt.Errorf("failed to build upload request: %w", err)
	}

	if u.responseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.responseTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)
	requestID := req.Header.Get(RequestIDHeader)

	result := u.send(ctx, req)
	switch {
	case result.err != nil:
		return NewNetworkErrorStatus(result.err, exec.Attempt), nil
	case result.resp != nil:
		return NewHTTPResponseStatus(result.resp.StatusCode, requestID, exec.Attempt), nil
	default:
		return NewNetworkErrorStatus(errInconsistentTransport, exec.Attempt), nil
	}
}

// send waits for the completion on a single-slot channel. Only the status code
// of the response is used after completion returns.
func (u *dataUploader) send(ctx context.Context, req *http.Request) uploadResult {
	ch := make(chan uploadResult, 1)
	var once sync.Once
	u.client.Send(req, func(resp *http.Response, err error) {
		once.Do(func() {
			ch <- uploadResult{resp: resp, err: err}
		})
	})

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return uploadResult{err: ctx.Err()}
	}
}
