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
	"errors"
	"strings"

	"github.com/spf13/pflag"

	"github.com/uplink-telemetry/uplink/config/configloader"
)

type flagValues struct {
	configFile string
	set        setValue
}

// setValue collects repeated --set key=value flags.
type setValue struct {
	values []string
}

var _ pflag.Value = (*setValue)(nil)

func (s *setValue) Set(val string) error {
	if strings.Count(val, "=") < 1 {
		return errors.New("missing equal sign")
	}
	s.values = append(s.values, val)
	return nil
}

func (s *setValue) String() string {
	return "[" + strings.Join(s.values, ", ") + "]"
}

func (s *setValue) Type() string {
	return "key=value"
}

func addFlags(fs *pflag.FlagSet, v *flagValues) {
	fs.StringVar(&v.configFile, "config", "", "Path to the config file")
	fs.Var(&v.set, "set",
		"Set a config property, overriding the config file. Dotted keys select nested properties and"+
			" lists are comma separated, e.g. --set=upload.max_delay=30s --set=features=logs,rum")
}

func (v *flagValues) loaderSettings() configloader.Settings {
	return configloader.Settings{ConfigFile: v.configFile, Set: v.set.values}
}
