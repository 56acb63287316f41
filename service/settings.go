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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/config"
	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/transport"
)

// BuildInfo is the information that is logged at the application start and
// passed into each feature pipeline.
type BuildInfo struct {
	// Command is the executable file name, e.g. "uplinkd".
	Command string
	// Description is the full name, e.g. "Uplink telemetry agent".
	Description string
	// Version reported as the SDK version of every uploaded batch.
	Version string
}

// svcSettings holds configuration for building a new service.
type svcSettings struct {
	BuildInfo BuildInfo

	// Config represents the configuration of the service.
	Config *config.Config

	// Logger represents the logger used for all the components.
	Logger *zap.Logger

	// Registry receives the agent metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	// ContextProvider replaces the system device context provider when set.
	ContextProvider devicecontext.Provider

	// Client replaces the intake HTTP client when set.
	Client transport.Client
}

// AppSettings holds configuration for creating a new Application.
type AppSettings struct {
	// BuildInfo provides application start information.
	BuildInfo BuildInfo

	// LoggingOptions provides a way to change behavior of zap logging.
	LoggingOptions []zap.Option

	// ContextProvider replaces the system device context provider when set.
	ContextProvider devicecontext.Provider

	// Client replaces the intake HTTP client when set.
	Client transport.Client
}
