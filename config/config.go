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

// Package config defines the agent configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/ingest"
	"github.com/uplink-telemetry/uplink/requestbuilder"
	"github.com/uplink-telemetry/uplink/storage/walstorage"
	"github.com/uplink-telemetry/uplink/transport"
	"github.com/uplink-telemetry/uplink/upload"
)

// Config is the top-level agent configuration.
type Config struct {
	Service     Service                   `mapstructure:"service"`
	Intake      Intake                    `mapstructure:"intake"`
	Application devicecontext.Application `mapstructure:"application"`
	Storage     walstorage.Config         `mapstructure:"storage"`
	Upload      upload.Config             `mapstructure:"upload"`
	Device      devicecontext.Config      `mapstructure:"device"`
	// Features lists the enabled tracks, each with its own store and worker.
	Features []string      `mapstructure:"features"`
	Ingest   ingest.Config `mapstructure:"ingest"`
}

// Service configures the agent process itself.
type Service struct {
	Telemetry Telemetry `mapstructure:"telemetry"`

	// ShutdownTimeout bounds the wait for in-flight uploads on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// FlushOnShutdown drains every store after the workers stop.
	FlushOnShutdown bool `mapstructure:"flush_on_shutdown"`
}

// Telemetry configures the agent's own logs.
type Telemetry struct {
	Logs LogsConfig `mapstructure:"logs"`
}

// LogsConfig defines the zap logger of the agent.
type LogsConfig struct {
	// Level is the minimum enabled logging level.
	Level zapcore.Level `mapstructure:"level"`

	// Development puts the logger in development mode, which takes stacktraces
	// more liberally.
	Development bool `mapstructure:"development"`

	// Encoding sets the logger's encoding, "json" or "console".
	Encoding string `mapstructure:"encoding"`

	DisableCaller     bool `mapstructure:"disable_caller"`
	DisableStacktrace bool `mapstructure:"disable_stacktrace"`

	// Sampling is nil when sampling is off.
	Sampling *LogsSamplingConfig `mapstructure:"sampling"`

	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// LogsSamplingConfig logs the first Initial entries per Tick, then every Thereafter-th.
type LogsSamplingConfig struct {
	Initial    int           `mapstructure:"initial"`
	Thereafter int           `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// Intake configures where and how batches are sent.
type Intake struct {
	Site requestbuilder.Site `mapstructure:"site"`
	// Endpoint replaces the site intake URL when set.
	Endpoint    string                     `mapstructure:"endpoint"`
	ClientToken string                     `mapstructure:"client_token"`
	Compression requestbuilder.Compression `mapstructure:"compression"`

	transport.ClientSettings `mapstructure:",squash"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Service: Service{
			Telemetry: Telemetry{
				Logs: LogsConfig{
					Level:            zapcore.InfoLevel,
					Encoding:         "console",
					OutputPaths:      []string{"stderr"},
					ErrorOutputPaths: []string{"stderr"},
				},
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Intake: Intake{
			Site:           requestbuilder.SiteUS1,
			Compression:    requestbuilder.CompressionDeflate,
			ClientSettings: transport.DefaultClientSettings(),
		},
		Application: devicecontext.Application{Source: "go"},
		Storage:     walstorage.DefaultConfig(),
		Upload:      upload.DefaultConfig(),
		Device:      devicecontext.DefaultConfig(),
		Features:    requestbuilder.Features(),
		Ingest:      ingest.DefaultConfig(),
	}
}

var (
	errMissingClientToken = errors.New("client_token must be set")
	errNoFeatures         = errors.New("at least one feature must be enabled")
	errMissingService     = errors.New("application service must be set")
)

// Validate checks every section and returns all the problems found.
func (cfg *Config) Validate() error {
	var errs error
	if err := cfg.Service.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("service: %w", err))
	}
	if err := cfg.Intake.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("intake: %w", err))
	}
	if cfg.Application.Service == "" {
		errs = multierr.Append(errs, fmt.Errorf("application: %w", errMissingService))
	}
	if err := cfg.Storage.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := cfg.Upload.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("upload: %w", err))
	}
	if err := cfg.validateFeatures(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("features: %w", err))
	}
	if err := cfg.Ingest.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ingest: %w", err))
	}
	return errs
}

func (cfg *Config) validateFeatures() error {
	if len(cfg.Features) == 0 {
		return errNoFeatures
	}
	seen := make(map[string]struct{}, len(cfg.Features))
	for _, f := range cfg.Features {
		if _, ok := requestbuilder.TrackFor(f); !ok {
			return fmt.Errorf("unknown feature %q", f)
		}
		if _, ok := seen[f]; ok {
			return fmt.Errorf("duplicate feature %q", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// Validate checks the service settings.
func (s *Service) Validate() error {
	if s.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout must not be negative")
	}
	switch s.Telemetry.Logs.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log encoding %q", s.Telemetry.Logs.Encoding)
	}
	return nil
}

// Validate checks the intake settings.
func (i *Intake) Validate() error {
	if i.ClientToken == "" {
		return errMissingClientToken
	}
	if i.Endpoint != "" {
		u, err := url.Parse(i.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
		}
	} else if err := i.Site.Validate(); err != nil {
		return err
	}
	if i.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}
