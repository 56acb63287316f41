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
	"errors"
	"fmt"
	"net/http"

	"github.com/uplink-telemetry/uplink/internal/metrics"
)

// ErrUnauthorized is the status error for a 401 response.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPError is the status error for responses that deserve a telemetry report.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upload finished with status code %d", e.StatusCode)
}

// NetworkError is the status error when no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "upload failed: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UploadStatus is the classified outcome of one upload attempt.
type UploadStatus struct {
	// NeedsRetry is set when the batch must stay in the store for a later attempt.
	NeedsRetry bool
	// ResponseCode is the HTTP status, or 0 when no response was received.
	ResponseCode int
	// Err is nil, ErrUnauthorized, *HTTPError or *NetworkError.
	Err error
	// Attempt counts the previous attempts for the same batch.
	Attempt uint
	// RequestID identifies the request sent for this attempt, if any.
	RequestID            string
	UserDebugDescription string
}

type codeClass struct {
	name       string
	needsRetry bool
	reportable bool
}

// classification of known intake codes. Codes not listed here are dropped
// without retry.
var intakeCodes = map[int]codeClass{
	http.StatusAccepted:              {name: "accepted"},
	http.StatusBadRequest:            {name: "badRequest", reportable: true},
	http.StatusUnauthorized:          {name: "unauthorized"},
	http.StatusForbidden:             {name: "forbidden", reportable: true},
	http.StatusRequestTimeout:        {name: "requestTimeout", needsRetry: true, reportable: true},
	http.StatusRequestEntityTooLarge: {name: "payloadTooLarge", reportable: true},
	http.StatusTooManyRequests:       {name: "tooManyRequests", needsRetry: true, reportable: true},
	http.StatusInternalServerError:   {name: "internalServerError", needsRetry: true, reportable: true},
	http.StatusServiceUnavailable:    {name: "serviceUnavailable", needsRetry: true, reportable: true},
}

func classify(code int) codeClass {
	if c, ok := intakeCodes[code]; ok {
		return c
	}
	if code >= 200 && code < 300 {
		return codeClass{name: "success"}
	}
	return codeClass{name: "unexpected"}
}

// NewHTTPResponseStatus classifies a received response.
func NewHTTPResponseStatus(code int, requestID string, attempt uint) UploadStatus {
	class := classify(code)

	id := requestID
	if id == "" {
		id = "(???)"
	}
	status := UploadStatus{
		NeedsRetry:           class.needsRetry,
		ResponseCode:         code,
		Attempt:              attempt,
		RequestID:            requestID,
		UserDebugDescription: fmt.Sprintf("[response code: %d (%s), request ID: %s]", code, class.name, id),
	}
	switch {
	case code == http.StatusUnauthorized:
		status.Err = ErrUnauthorized
	case class.reportable:
		status.Err = &HTTPError{StatusCode: code}
	}
	return status
}

// NewNetworkErrorStatus classifies a failure to get any response. These are
// always retried.
func NewNetworkErrorStatus(err error, attempt uint) UploadStatus {
	return UploadStatus{
		NeedsRetry:           true,
		Err:                  &NetworkError{Err: err},
		Attempt:              attempt,
		UserDebugDescription: fmt.Sprintf("[error: %s]", err),
	}
}

// UserErrorMessage returns an actionable message for errors the user can fix.
func (s UploadStatus) UserErrorMessage() string {
	if errors.Is(s.Err, ErrUnauthorized) {
		return "The client token you provided seems to be invalid."
	}
	return ""
}

func (s UploadStatus) outcome() string {
	switch {
	case s.NeedsRetry:
		return metrics.OutcomeRetry
	case s.ResponseCode >= 200 && s.ResponseCode < 300:
		return metrics.OutcomeAccepted
	}
	return metrics.OutcomeDropped
}
