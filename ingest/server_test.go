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

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/internal/metrics"
	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/storage/walstorage"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []string
	err    func(data []byte) error
}

func (w *recordingWriter) Write(data []byte) error {
	if w.err != nil {
		if err := w.err(data); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, string(data))
	return nil
}

func (w *recordingWriter) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func newTestServer(t *testing.T, cfg Config, writers map[string]storage.Writer, flush func()) (*Server, *prometheus.Registry) {
	return newRegisteredServer(t, cfg, writers, flush, prometheus.NewRegistry())
}

func newRegisteredServer(t *testing.T, cfg Config, writers map[string]storage.Writer, flush func(), registry *prometheus.Registry) (*Server, *prometheus.Registry) {
	s, err := New(cfg, Settings{
		Writers:  writers,
		Flush:    flush,
		Gatherer: registry,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return s, registry
}

// newMeteredStore opens a store that records its events on registry.
func newMeteredStore(t *testing.T, cfg walstorage.Config, feature string, registry *prometheus.Registry) *walstorage.Store {
	m, err := metrics.New(registry)
	require.NoError(t, err)
	cfg.Directory = t.TempDir()
	store, err := walstorage.New(cfg, feature, walstorage.Settings{Logger: zap.NewNop(), Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestWritesEachLine(t *testing.T) {
	logs := &recordingWriter{}
	s, _ := newTestServer(t, DefaultConfig(), map[string]storage.Writer{"logs": logs}, nil)

	rec := post(t, s.Handler(), "/v1/logs", "{\"a\":1}\n\n{\"b\":2}\n")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2,"rejected":0}`, rec.Body.String())
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, logs.Events())
}

func TestIngestUnknownFeature(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig(), map[string]storage.Writer{"logs": &recordingWriter{}}, nil)

	rec := post(t, s.Handler(), "/v1/profiles", "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestRejectsWrongMethod(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig(), map[string]storage.Writer{"logs": &recordingWriter{}}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestBodyTooLarge(t *testing.T) {
	logs := &recordingWriter{}
	cfg := DefaultConfig()
	cfg.MaxRequestBodySize = 8
	s, _ := newTestServer(t, cfg, map[string]storage.Writer{"logs": logs}, nil)

	rec := post(t, s.Handler(), "/v1/logs", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, logs.Events())
}

func TestIngestEventTooLarge(t *testing.T) {
	storeCfg := walstorage.DefaultConfig()
	storeCfg.MaxObjectSize = 8
	registry := prometheus.NewRegistry()
	store := newMeteredStore(t, storeCfg, "logs", registry)
	s, _ := newRegisteredServer(t, DefaultConfig(), map[string]storage.Writer{"logs": store}, nil, registry)

	rec := post(t, s.Handler(), "/v1/logs", "a\nb\nthis-is-too-long")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)

	// Each event is counted once, by the store.
	expected := `
# HELP uplink_events_ingested_total Number of events accepted into the store.
# TYPE uplink_events_ingested_total counter
uplink_events_ingested_total{feature="logs"} 2
# HELP uplink_events_rejected_total Number of events the store refused to write.
# TYPE uplink_events_rejected_total counter
uplink_events_rejected_total{feature="logs"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"uplink_events_ingested_total", "uplink_events_rejected_total"))
}

func TestIngestClosedStore(t *testing.T) {
	storeCfg := walstorage.DefaultConfig()
	storeCfg.Directory = t.TempDir()
	store, err := walstorage.New(storeCfg, "rum", walstorage.Settings{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	s, _ := newTestServer(t, DefaultConfig(), map[string]storage.Writer{"rum": store}, nil)
	rec := post(t, s.Handler(), "/v1/rum", "e")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	store := newMeteredStore(t, walstorage.DefaultConfig(), "logs", registry)
	s, _ := newRegisteredServer(t, DefaultConfig(), map[string]storage.Writer{"logs": store}, nil, registry)
	post(t, s.Handler(), "/v1/logs", "e")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `uplink_events_ingested_total{feature="logs"} 1`)
}

func TestIngestDebugFlush(t *testing.T) {
	var flushed int
	cfg := DefaultConfig()
	cfg.EnableDebugFlush = true
	s, _ := newTestServer(t, cfg, nil, func() { flushed++ })

	rec := post(t, s.Handler(), "/debug/flush", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, flushed)

	disabled, _ := newTestServer(t, DefaultConfig(), nil, func() { flushed++ })
	rec = post(t, disabled.Handler(), "/debug/flush", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, flushed)
}

func TestNewRequiresFlushForDebugEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableDebugFlush = true
	_, err := New(cfg, Settings{})
	assert.ErrorIs(t, err, errFlushUnavailable)
}

func TestIngestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	s, _ := newTestServer(t, cfg, map[string]storage.Writer{"rum": &recordingWriter{}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/rum", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/rum", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerStartAndShutdown(t *testing.T) {
	logs := &recordingWriter{}
	cfg := DefaultConfig()
	cfg.Endpoint = "localhost:0"
	s, _ := newTestServer(t, cfg, map[string]storage.Writer{"logs": logs}, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NotEmpty(t, s.Addr())

	resp, err := http.Post("http://"+s.Addr()+"/v1/logs", "application/x-ndjson", strings.NewReader("e1\ne2"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"e1", "e2"}, logs.Events())

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestShutdownBeforeStart(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig(), nil, nil)
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Empty(t, s.Addr())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Endpoint = ""
	assert.Equal(t, errEmptyEndpoint, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxRequestBodySize = 0
	assert.Equal(t, errNonPositiveBodySize, cfg.Validate())
}
