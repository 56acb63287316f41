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

// Package ingest exposes the local HTTP endpoint that instrumented processes
// use to hand events to the agent.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/storage/walstorage"
)

// Settings carries the collaborators of a Server.
type Settings struct {
	// Writers maps a feature name to the store receiving its events.
	Writers map[string]storage.Writer
	// Flush drains every feature store. Required when debug flush is enabled.
	Flush    func()
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the ingest HTTP server.
type Server struct {
	cfg     Config
	set     Settings
	handler http.Handler

	mu         sync.Mutex
	server     *http.Server
	listener   net.Listener
	shutdownWG sync.WaitGroup
}

// Response is the body returned for event submissions.
type Response struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errFlushUnavailable = errors.New("debug flush enabled without a flush function")

// New creates a Server. It does not listen until Start is called.
func New(cfg Config, set Settings) (*Server, error) {
	if cfg.EnableDebugFlush && set.Flush == nil {
		return nil, errFlushUnavailable
	}
	if set.Logger == nil {
		set.Logger = zap.NewNop()
	}
	if set.Gatherer == nil {
		set.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, set: set}
	s.handler = s.buildHandler()
	return s, nil
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/{feature}", s.handleEvents).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.HandlerFor(s.set.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	if s.cfg.EnableDebugFlush {
		router.HandleFunc("/debug/flush", s.handleFlush).Methods(http.MethodPost)
	}

	var handler http.Handler = router
	handler = maxRequestBodySizeInterceptor(handler, s.cfg.MaxRequestBodySize)
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedHeaders: s.cfg.CORSAllowedHeaders,
			AllowedMethods: []string{http.MethodPost},
		}).Handler(handler)
	} else if len(s.cfg.CORSAllowedHeaders) > 0 {
		s.set.Logger.Warn("CORS allowed headers are set without allowed origins and are ignored")
	}
	return otelhttp.NewHandler(handler, "ingest")
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured endpoint and serves in the background.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Endpoint)
	if err != nil {
		return err
	}
	errorLog, err := zap.NewStdLogAt(s.set.Logger, zapcore.ErrorLevel)
	if err != nil {
		_ = listener.Close()
		return err
	}

	server := &http.Server{Handler: s.handler, ErrorLog: errorLog}
	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	s.set.Logger.Info("Starting ingest server", zap.String("endpoint", listener.Addr().String()))
	s.shutdownWG.Add(1)
	go func() {
		defer s.shutdownWG.Done()
		if errHTTP := server.Serve(listener); !errors.Is(errHTTP, http.ErrServerClosed) {
			s.set.Logger.Error("Ingest server stopped unexpectedly", zap.Error(errHTTP))
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or an empty string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for the in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	s.shutdownWG.Wait()
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	feature := mux.Vars(r)["feature"]
	writer, ok := s.set.Writers[feature]
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Error: "unknown feature " + feature})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	var resp Response
	status := http.StatusAccepted
	for _, line := range bytes.Split(body, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := writer.Write(line); err != nil {
			resp.Rejected++
			switch {
			case errors.Is(err, walstorage.ErrObjectTooLarge):
				status = http.StatusRequestEntityTooLarge
			case errors.Is(err, walstorage.ErrClosed):
				writeJSON(w, http.StatusServiceUnavailable, Response{Accepted: resp.Accepted, Rejected: resp.Rejected, Error: err.Error()})
				return
			default:
				s.set.Logger.Warn("Failed to store event", zap.String("feature", feature), zap.Error(err))
				status = http.StatusInternalServerError
			}
			resp.Error = err.Error()
			continue
		}
		resp.Accepted++
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	s.set.Logger.Info("Flushing all feature stores on request")
	s.set.Flush()
	w.WriteHeader(http.StatusOK)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func maxRequestBodySizeInterceptor(next http.Handler, maxRecvSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRecvSize)
		next.ServeHTTP(w, r)
	})
}
