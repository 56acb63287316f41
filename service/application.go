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

// Package service handles the command-line, configuration, and runs the
// uplink agent.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uplink-telemetry/uplink/config"
	"github.com/uplink-telemetry/uplink/config/configloader"
	"github.com/uplink-telemetry/uplink/internal/version"
)

// State defines Application's state.
type State int

const (
	Starting State = iota
	Running
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "UNKNOWN"
}

// Application represents an agent application.
type Application struct {
	set     AppSettings
	rootCmd *cobra.Command
	logger  *zap.Logger
	flags   flagValues

	service      *service
	stateChannel chan State

	// stopTestChan is used to terminate the application in end to end tests.
	stopTestChan chan struct{}
	stopOnce     sync.Once

	// signalsChannel is used to receive termination signals from the OS.
	signalsChannel chan os.Signal
}

// New creates and returns a new instance of Application.
func New(set AppSettings) (*Application, error) {
	app := &Application{
		set:          set,
		stateChannel: make(chan State, Closed+1),
		stopTestChan: make(chan struct{}),
		logger:       zap.NewNop(),
	}

	rootCmd := &cobra.Command{
		Use:   set.BuildInfo.Command,
		Short: set.BuildInfo.Description,
		Long: set.BuildInfo.Description + " buffers telemetry events on disk and uploads them" +
			" to the intake when the device allows it.",
		Version: set.BuildInfo.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.setupConfiguration()
			if err != nil {
				return err
			}
			return app.execute(context.Background(), cfg)
		},
	}
	addFlags(rootCmd.PersistentFlags(), &app.flags)
	rootCmd.AddCommand(app.newFlushCommand(), app.newValidateCommand(), newVersionCommand())
	app.rootCmd = rootCmd

	return app, nil
}

// Run starts the agent according to the command and configuration
// given by the user, and waits for it to complete.
func (app *Application) Run() error {
	// From this point on do not show usage in case of error.
	app.rootCmd.SilenceUsage = true

	return app.rootCmd.Execute()
}

// GetStateChannel returns state channel of the application.
func (app *Application) GetStateChannel() chan State {
	return app.stateChannel
}

// Command returns Application's root command.
func (app *Application) Command() *cobra.Command {
	return app.rootCmd
}

// GetLogger returns logger used by the Application.
// The logger is initialized after application start.
func (app *Application) GetLogger() *zap.Logger {
	return app.logger
}

// Shutdown shuts down the application.
func (app *Application) Shutdown() {
	app.stopOnce.Do(func() {
		close(app.stopTestChan)
	})
}

// setupConfiguration loads and validates the config, then builds the logger it describes.
func (app *Application) setupConfiguration() (*config.Config, error) {
	settings := app.flags.loaderSettings()
	cfg, err := configloader.LoadValidated(settings)
	if err != nil {
		return nil, fmt.Errorf("cannot load configuration: %w", err)
	}
	if app.logger, err = newLogger(cfg.Service.Telemetry.Logs, app.set.LoggingOptions); err != nil {
		return nil, fmt.Errorf("failed to get logger: %w", err)
	}
	if settings.ConfigFile != "" {
		app.logger.Info("Loaded configuration", zap.String("file", settings.ConfigFile))
	}
	return cfg, nil
}

func (app *Application) newService(cfg *config.Config) (*service, error) {
	return newService(&svcSettings{
		BuildInfo:       app.set.BuildInfo,
		Config:          cfg,
		Logger:          app.logger,
		ContextProvider: app.set.ContextProvider,
		Client:          app.set.Client,
	})
}

// runAndWaitForShutdownEvent waits for one of the shutdown events that can happen.
func (app *Application) runAndWaitForShutdownEvent() {
	app.logger.Info("Everything is ready. Begin running and uploading data.")

	// plug SIGTERM signal into a channel.
	app.signalsChannel = make(chan os.Signal, 1)
	signal.Notify(app.signalsChannel, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.signalsChannel)

	app.stateChannel <- Running
	select {
	case s := <-app.signalsChannel:
		app.logger.Info("Received signal from OS", zap.String("signal", s.String()))
	case <-app.stopTestChan:
		app.logger.Info("Received stop test request")
	}
	app.stateChannel <- Closing
}

func (app *Application) execute(ctx context.Context, cfg *config.Config) error {
	app.logger.Info("Starting "+app.set.BuildInfo.Command+"...",
		zap.String("Version", app.set.BuildInfo.Version),
		zap.Int("NumCPU", runtime.NumCPU()),
		zap.Strings("features", cfg.Features),
	)
	app.stateChannel <- Starting

	srv, err := app.newService(cfg)
	if err != nil {
		return err
	}
	app.service = srv

	if err = srv.Start(ctx); err != nil {
		return multierr.Append(err, srv.Shutdown(ctx))
	}

	// Everything is ready, now run until an event requiring shutdown happens.
	app.runAndWaitForShutdownEvent()

	var errs error
	app.logger.Info("Starting shutdown...")
	if err := srv.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to shutdown service: %w", err))
	}

	app.logger.Info("Shutdown complete.")
	_ = app.logger.Sync()
	app.stateChannel <- Closed
	close(app.stateChannel)

	return errs
}

func (app *Application) newFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Upload every stored batch, ignoring upload conditions, and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.setupConfiguration()
			if err != nil {
				return err
			}
			srv, err := app.newService(cfg)
			if err != nil {
				return err
			}
			if err := srv.Flush(); err != nil {
				return fmt.Errorf("failed to flush: %w", err)
			}
			app.logger.Info("Flush complete.")
			return nil
		},
	}
}

func (app *Application) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := configloader.LoadValidated(app.flags.loaderSettings()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build information and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := version.Current().WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}
