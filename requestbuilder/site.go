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

package requestbuilder

import "fmt"

// Site is a Datadog region.
type Site string

const (
	SiteUS1    Site = "us1"
	SiteUS3    Site = "us3"
	SiteUS5    Site = "us5"
	SiteEU1    Site = "eu1"
	SiteAP1    Site = "ap1"
	SiteAP2    Site = "ap2"
	SiteUS1Fed Site = "us1_fed"
)

var intakeHosts = map[Site]string{
	SiteUS1:    "browser-intake-datadoghq.com",
	SiteUS3:    "browser-intake-us3-datadoghq.com",
	SiteUS5:    "browser-intake-us5-datadoghq.com",
	SiteEU1:    "browser-intake-datadoghq.eu",
	SiteAP1:    "browser-intake-ap1-datadoghq.com",
	SiteAP2:    "browser-intake-ap2-datadoghq.com",
	SiteUS1Fed: "browser-intake-ddog-gov.com",
}

// IntakeURL returns the intake URL for the given site and path.
func IntakeURL(site Site, path string) (string, error) {
	host, ok := intakeHosts[site]
	if !ok {
		return "", fmt.Errorf("unknown site %q", site)
	}
	return "https://" + host + path, nil
}

// Validate checks that the site is known.
func (s Site) Validate() error {
	if _, ok := intakeHosts[s]; !ok {
		return fmt.Errorf("unknown site %q", s)
	}
	return nil
}
