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

// Program uplinkd buffers telemetry events on disk and uploads them to the intake.
package main

import (
	"fmt"
	"log"

	"github.com/uplink-telemetry/uplink/internal/version"
	"github.com/uplink-telemetry/uplink/service"
)

func main() {
	info := service.BuildInfo{
		Command:     "uplinkd",
		Description: "Uplink telemetry agent",
		Version:     version.Version,
	}

	if err := run(service.AppSettings{BuildInfo: info}); err != nil {
		log.Fatal(err)
	}
}

func run(set service.AppSettings) error {
	app, err := service.New(set)
	if err != nil {
		return fmt.Errorf("failed to construct the application: %w", err)
	}

	err = app.Run()
	if err != nil {
		return fmt.Errorf("application run finished with error: %w", err)
	}
	return nil
}
