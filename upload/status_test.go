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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPResponseStatus(t *testing.T) {
	tests := []struct {
		code       int
		needsRetry bool
		wantErr    error
	}{
		{code: 200},
		{code: 202},
		{code: 204},
		{code: 400, wantErr: &HTTPError{StatusCode: 400}},
		{code: 401, wantErr: ErrUnauthorized},
		{code: 403, wantErr: &HTTPError{StatusCode: 403}},
		{code: 408, needsRetry: true, wantErr: &HTTPError{StatusCode: 408}},
		{code: 413, wantErr: &HTTPError{StatusCode: 413}},
		{code: 429, needsRetry: true, wantErr: &HTTPError{StatusCode: 429}},
		{code: 500, needsRetry: true, wantErr: &HTTPError{StatusCode: 500}},
		{code: 503, needsRetry: true, wantErr: &HTTPError{StatusCode: 503}},
		{code: 302},
		{code: 404},
		{code: 502},
		{code: 504},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			status := NewHTTPResponseStatus(tt.code, "req", 3)
			assert.Equal(t, tt.needsRetry, status.NeedsRetry)
			assert.Equal(t, tt.code, status.ResponseCode)
			assert.Equal(t, tt.wantErr, status.Err)
			assert.EqualValues(t, 3, status.Attempt)
			assert.Equal(t, "req", status.RequestID)
		})
	}
}

func TestHTTPResponseStatusDescription(t *testing.T) {
	assert.Equal(t, "[response code: 202 (accepted), request ID: abc-123]",
		NewHTTPResponseStatus(202, "abc-123", 0).UserDebugDescription)
	assert.Equal(t, "[response code: 503 (serviceUnavailable), request ID: (???)]",
		NewHTTPResponseStatus(503, "", 0).UserDebugDescription)
	assert.Equal(t, "[response code: 418 (unexpected), request ID: (???)]",
		NewHTTPResponseStatus(418, "", 0).UserDebugDescription)
}

func TestNewNetworkErrorStatus(t *testing.T) {
	cause := errors.New("connection refused")
	status := NewNetworkErrorStatus(cause, 2)

	assert.True(t, status.NeedsRetry)
	assert.Zero(t, status.ResponseCode)
	assert.EqualValues(t, 2, status.Attempt)
	assert.Equal(t, "[error: connection refused]", status.UserDebugDescription)

	var netErr *NetworkError
	require.True(t, errors.As(status.Err, &netErr))
	assert.ErrorIs(t, status.Err, cause)
}

func TestUserErrorMessage(t *testing.T) {
	assert.Equal(t, "The client token you provided seems to be invalid.", NewHTTPResponseStatus(401, "", 0).UserErrorMessage())
	assert.Empty(t, NewHTTPResponseStatus(403, "", 0).UserErrorMessage())
	assert.Empty(t, NewNetworkErrorStatus(errors.New("x"), 0).UserErrorMessage())
}

func TestStatusOutcome(t *testing.T) {
	assert.Equal(t, "accepted", NewHTTPResponseStatus(202, "", 0).outcome())
	assert.Equal(t, "retry", NewHTTPResponseStatus(500, "", 0).outcome())
	assert.Equal(t, "dropped", NewHTTPResponseStatus(400, "", 0).outcome())
	assert.Equal(t, "retry", NewNetworkErrorStatus(errors.New("x"), 0).outcome())
}
