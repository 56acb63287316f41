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
	"fmt"

	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/background"
	"github.com/uplink-telemetry/uplink/config"
	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/internal/metrics"
	"github.com/uplink-telemetry/uplink/requestbuilder"
	"github.com/uplink-telemetry/uplink/storage/walstorage"
	"github.com/uplink-telemetry/uplink/transport"
	"github.com/uplink-telemetry/uplink/upload"
)

// pipeline is the store, uploader and worker of one feature.
type pipeline struct {
	feature  string
	store    *walstorage.Store
	uploader upload.DataUploader
	worker   *upload.Worker
}

type pipelineDeps struct {
	cfg             *config.Config
	logger          *zap.Logger
	metrics         *metrics.Metrics
	tracker         *background.Tracker
	contextProvider devicecontext.Provider
	client          transport.Client
}

func newPipeline(feature string, deps pipelineDeps) (*pipeline, error) {
	track, ok := requestbuilder.TrackFor(feature)
	if !ok {
		return nil, fmt.Errorf("unknown feature %q", feature)
	}
	builder, err := requestbuilder.New(requestbuilder.Settings{
		Track:       track,
		Endpoint:    deps.cfg.Intake.Endpoint,
		Compression: deps.cfg.Intake.Compression,
		Headers:     deps.cfg.Intake.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %q request builder: %w", feature, err)
	}

	store, err := walstorage.New(deps.cfg.Storage, feature, walstorage.Settings{
		Logger:  deps.logger.Named("storage"),
		Metrics: deps.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %q store: %w", feature, err)
	}

	return &pipeline{
		feature:  feature,
		store:    store,
		uploader: upload.NewDataUploader(builder, deps.client, deps.cfg.Intake.Timeout),
	}, nil
}

// start creates the upload worker, which begins its upload cycles.
func (p *pipeline) start(deps pipelineDeps) {
	p.worker = upload.NewWorker(p.workerSettings(deps))
}

// flush drains the store on the calling goroutine with a worker that never
// schedules upload cycles.
func (p *pipeline) flush(deps pipelineDeps) {
	upload.NewFlushWorker(p.workerSettings(deps)).FlushSynchronously()
}

func (p *pipeline) workerSettings(deps pipelineDeps) upload.WorkerSettings {
	uploadCfg := deps.cfg.Upload
	return upload.WorkerSettings{
		Feature:             p.feature,
		Reader:              p.store,
		Uploader:            p.uploader,
		ContextProvider:     deps.contextProvider,
		Conditions:          uploadCfg.Conditions(),
		Delay:               upload.NewDataUploadDelay(uploadCfg.DelaySettings),
		MaxBatchesPerUpload: uploadCfg.MaxBatchesPerUpload,
		Background:          deps.tracker,
		Telemetry:           upload.NewLoggerTelemetry(deps.logger, p.feature, deps.metrics),
		Logger:              deps.logger.Named("upload"),
		Metrics:             deps.metrics,
	}
}
