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

import "errors"

// Config defines the local HTTP endpoint producers send events to.
type Config struct {
	// Endpoint is the host:port to listen on.
	Endpoint string `mapstructure:"endpoint"`

	// CORSAllowedOrigins enables CORS for browser producers when non-empty.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// MaxRequestBodySize bounds the size of one request body in bytes.
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`

	// EnableDebugFlush exposes POST /debug/flush.
	EnableDebugFlush bool `mapstructure:"enable_debug_flush"`
}

// DefaultConfig returns the default settings for Config.
func DefaultConfig() Config {
	return Config{
		Endpoint:           "localhost:8787",
		MaxRequestBodySize: 20 * 1024 * 1024,
	}
}

var (
	errEmptyEndpoint       = errors.New("endpoint must not be empty")
	errNonPositiveBodySize = errors.New("max_request_body_size must be positive")
)

// Validate checks the settings.
func (cfg *Config) Validate() error {
	if cfg.Endpoint == "" {
		return errEmptyEndpoint
	}
	if cfg.MaxRequestBodySize <= 0 {
		return errNonPositiveBodySize
	}
	return nil
}
