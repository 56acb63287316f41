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

package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/background"
	"github.com/uplink-telemetry/uplink/config"
	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/ingest"
	"github.com/uplink-telemetry/uplink/internal/metrics"
	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/transport"
)

// service represents the implementation of an agent instance: one pipeline per
// enabled feature and the ingest server feeding them.
type service struct {
	cfg       *config.Config
	logger    *zap.Logger
	tracker   *background.Tracker
	deps      pipelineDeps
	pipelines []*pipeline
	ingest    *ingest.Server
}

func newService(set *svcSettings) (*service, error) {
	cfg := set.Config
	cfg.Application.SDKVersion = set.BuildInfo.Version

	registry := set.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	provider := set.ContextProvider
	if provider == nil {
		provider = devicecontext.NewSystemProvider(cfg.Device, cfg.Application, string(cfg.Intake.Site),
			cfg.Intake.ClientToken, set.Logger.Named("device"))
	}

	client := set.Client
	if client == nil {
		// Custom headers are set by the request builders.
		cs := cfg.Intake.ClientSettings
		cs.Headers = nil
		httpClient, errClient := transport.NewHTTPClient(cs)
		if errClient != nil {
			return nil, fmt.Errorf("failed to create intake client: %w", errClient)
		}
		client = httpClient
	}

	srv := &service{
		cfg:     cfg,
		logger:  set.Logger,
		tracker: background.NewTracker(m),
	}
	srv.deps = pipelineDeps{
		cfg:             cfg,
		logger:          set.Logger,
		metrics:         m,
		tracker:         srv.tracker,
		contextProvider: provider,
		client:          client,
	}

	writers := make(map[string]storage.Writer, len(cfg.Features))
	for _, feature := range cfg.Features {
		p, errPipeline := newPipeline(feature, srv.deps)
		if errPipeline != nil {
			return nil, multierr.Append(errPipeline, srv.closeStores())
		}
		srv.pipelines = append(srv.pipelines, p)
		writers[feature] = p.store
	}

	srv.ingest, err = ingest.New(cfg.Ingest, ingest.Settings{
		Writers:  writers,
		Flush:    srv.flushAll,
		Gatherer: registry,
		Logger:   set.Logger.Named("ingest"),
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create ingest server: %w", err), srv.closeStores())
	}
	return srv, nil
}

// Start starts one upload worker per feature, then the ingest server.
func (srv *service) Start(ctx context.Context) error {
	for _, p := range srv.pipelines {
		srv.logger.Info("Starting upload worker...", zap.String("feature", p.feature))
		p.start(srv.deps)
	}
	if err := srv.ingest.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest server: %w", err)
	}
	return nil
}

// Shutdown stops ingesting, gives in-flight uploads up to the shutdown timeout
// to complete, stops the workers and closes the stores.
func (srv *service) Shutdown(ctx context.Context) error {
	var errs error

	srv.logger.Info("Stopping ingest server...")
	if err := srv.ingest.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to shutdown ingest server: %w", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, srv.cfg.Service.ShutdownTimeout)
	if err := srv.tracker.Wait(waitCtx); err != nil {
		srv.logger.Warn("Uploads still in flight at shutdown", zap.Int64("inflight", srv.tracker.Inflight()))
	}
	cancel()

	srv.logger.Info("Stopping upload workers...")
	for _, p := range srv.pipelines {
		if p.worker != nil {
			p.worker.CancelSynchronously()
		}
	}
	if srv.cfg.Service.FlushOnShutdown {
		srv.flushAll()
	}

	return multierr.Append(errs, srv.closeStores())
}

// Flush uploads every stored batch, ignoring upload conditions, then closes
// the stores. The service must not have been started.
func (srv *service) Flush() error {
	for _, p := range srv.pipelines {
		srv.logger.Info("Flushing feature data...", zap.String("feature", p.feature))
		p.flush(srv.deps)
	}
	return srv.closeStores()
}

func (srv *service) flushAll() {
	for _, p := range srv.pipelines {
		if p.worker != nil {
			p.worker.FlushSynchronously()
		}
	}
}

func (srv *service) closeStores() error {
	var errs error
	for _, p := range srv.pipelines {
		if err := p.store.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close %q store: %w", p.feature, err))
		}
	}
	return errs
}
