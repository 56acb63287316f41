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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/storage/walstorage"
)

const testConfigTemplate = `
service:
  telemetry:
    logs:
      level: debug
intake:
  endpoint: %s
  client_token: token
  compression: none
application:
  service: checkout
  env: test
storage:
  directory: %s
  max_batch_age_for_write: 10ms
upload:
  min_delay: 20ms
  max_delay: 200ms
features: [logs]
ingest:
  endpoint: localhost:0
`

func writeConfigFile(t *testing.T, intakeURL, storageDir string) string {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfigTemplate, intakeURL, storageDir)), 0600))
	return path
}

func readyContext() devicecontext.Context {
	return devicecontext.Context{
		Application:           devicecontext.Application{Service: "checkout", Env: "test", Source: "go"},
		Site:                  "us1",
		ClientToken:           "token",
		NetworkConnectionInfo: &devicecontext.NetworkConnectionInfo{Reachability: devicecontext.ReachabilityYes},
	}
}

func waitForState(t *testing.T, ch chan State, want State) {
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for state %v", want)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Starting", Starting.String())
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Closing", Closing.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "UNKNOWN", State(13).String())
}

func TestApplication_StartAsGoRoutine(t *testing.T) {
	intake := newFakeIntake(t)
	configFile := writeConfigFile(t, intake.server.URL, t.TempDir())

	core, logs := observer.New(zapcore.DebugLevel)
	app, err := New(AppSettings{
		BuildInfo: BuildInfo{Command: "uplinkd", Version: "1.2.3"},
		LoggingOptions: []zap.Option{zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		})},
		ContextProvider: devicecontext.NewStaticProvider(readyContext()),
	})
	require.NoError(t, err)
	app.Command().SetArgs([]string{"--config", configFile})

	appDone := make(chan error, 1)
	go func() {
		appDone <- app.Run()
	}()

	waitForState(t, app.GetStateChannel(), Starting)
	waitForState(t, app.GetStateChannel(), Running)
	assert.Equal(t, 1, logs.FilterMessage("Everything is ready. Begin running and uploading data.").Len())
	assert.NotNil(t, app.GetLogger())

	postEvents(t, app.service, "logs", `{"message":"from app"}`)
	assert.Eventually(t, func() bool {
		return strings.Contains(intake.received(), `{"message":"from app"}`)
	}, 5*time.Second, 10*time.Millisecond)

	app.Shutdown()
	app.Shutdown()
	waitForState(t, app.GetStateChannel(), Closing)
	waitForState(t, app.GetStateChannel(), Closed)
	require.NoError(t, <-appDone)
	assert.Equal(t, 1, logs.FilterMessage("Shutdown complete.").Len())
}

func TestApplication_InvalidConfiguration(t *testing.T) {
	app, err := New(AppSettings{BuildInfo: BuildInfo{Command: "uplinkd"}})
	require.NoError(t, err)
	app.Command().SetArgs([]string{"--set", "ingest.endpoint="})
	app.Command().SetOut(&bytes.Buffer{})
	app.Command().SetErr(&bytes.Buffer{})

	err = app.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load configuration: invalid configuration:")
	assert.Contains(t, err.Error(), "intake: client_token must be set")
	assert.Contains(t, err.Error(), "ingest: endpoint must not be empty")
}

func TestApplication_ValidateCommand(t *testing.T) {
	configFile := writeConfigFile(t, "http://localhost:1", t.TempDir())
	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr string
	}{
		{
			name:    "valid",
			args:    []string{"validate", "--config", configFile},
			wantOut: "Configuration is valid\n",
		},
		{
			name:    "unknown feature",
			args:    []string{"validate", "--config", configFile, "--set", "features=logs,bogus"},
			wantErr: `invalid configuration: features: unknown feature "bogus"`,
		},
		{
			name:    "missing file",
			args:    []string{"validate", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "unable to read the file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := New(AppSettings{BuildInfo: BuildInfo{Command: "uplinkd"}})
			require.NoError(t, err)
			out := &bytes.Buffer{}
			app.Command().SetArgs(tt.args)
			app.Command().SetOut(out)
			app.Command().SetErr(&bytes.Buffer{})

			err = app.Run()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestApplication_FlushCommand(t *testing.T) {
	intake := newFakeIntake(t)
	storageDir := t.TempDir()
	configFile := writeConfigFile(t, intake.server.URL, storageDir)

	store, err := walstorage.New(storeConfig(storageDir), "logs", walstorage.Settings{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, store.Write([]byte(`{"message":"offline"}`)))
	require.NoError(t, store.Close())

	// Unreachable network: flush ignores upload conditions.
	dctx := readyContext()
	dctx.NetworkConnectionInfo.Reachability = devicecontext.ReachabilityNo
	app, err := New(AppSettings{
		BuildInfo:       BuildInfo{Command: "uplinkd", Version: "1.2.3"},
		ContextProvider: devicecontext.NewStaticProvider(dctx),
	})
	require.NoError(t, err)
	app.Command().SetArgs([]string{"flush", "--config", configFile})

	require.NoError(t, app.Run())
	assert.Equal(t, `[{"message":"offline"}]`, intake.received())
}

func storeConfig(dir string) walstorage.Config {
	cfg := walstorage.DefaultConfig()
	cfg.Directory = dir
	return cfg
}

func TestApplication_VersionCommand(t *testing.T) {
	app, err := New(AppSettings{BuildInfo: BuildInfo{Command: "uplinkd"}})
	require.NoError(t, err)
	out := &bytes.Buffer{}
	app.Command().SetArgs([]string{"version"})
	app.Command().SetOut(out)

	require.NoError(t, app.Run())
	assert.Contains(t, out.String(), "Goversion")
	assert.Contains(t, out.String(), "Architecture")
}
