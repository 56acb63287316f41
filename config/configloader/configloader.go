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

// Package configloader reads the agent configuration from YAML and command
// line overrides.
package configloader

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/magiconair/properties"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	"github.com/uplink-telemetry/uplink/config"
)

const delimiter = "::"

// Settings selects the configuration sources.
type Settings struct {
	// ConfigFile is the YAML file to load. Optional.
	ConfigFile string
	// Set holds key=value overrides, with dotted keys.
	Set []string
	// LookupEnv resolves ${VAR} references; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// Load merges the defaults, the config file and the overrides into a Config.
// The result is not validated.
func Load(set Settings) (*config.Config, error) {
	lookup := set.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	k := koanf.New(delimiter)

	if set.ConfigFile != "" {
		content, err := os.ReadFile(set.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read the file %v: %w", set.ConfigFile, err)
		}
		if err = k.Load(rawbytes.Provider(content), &yamlParser{lookup: lookup}); err != nil {
			return nil, fmt.Errorf("failed to load configuration file: %w", err)
		}
	}

	overrides, err := parseSetFlags(set.Set)
	if err != nil {
		return nil, fmt.Errorf("failed to parse --set values: %w", err)
	}
	if len(overrides) > 0 {
		if err = k.Load(confmap.Provider(expandMap(overrides, lookup), ""), nil); err != nil {
			return nil, fmt.Errorf("failed to load --set values: %w", err)
		}
	}

	cfg := config.Default()
	if err = unmarshal(k, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal the configuration: %w", err)
	}
	return cfg, nil
}

// LoadValidated is Load followed by Validate.
func LoadValidated(set Settings) (*config.Config, error) {
	cfg, err := Load(set)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func unmarshal(k *koanf.Koanf, cfg *config.Config) error {
	dc := &mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		// Lists from the file replace the defaults instead of overlaying them.
		ZeroFields:       true,
		Result:           cfg,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure", DecoderConfig: dc})
}

// parseSetFlags turns key=value lines into a nested map, splitting keys on dots.
func parseSetFlags(values []string) (map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	b := &bytes.Buffer{}
	for _, property := range values {
		property = strings.TrimSpace(property)
		b.WriteString(property)
		b.WriteString("\n")
	}

	// ${VAR} references are left for expandMap, which resolves them through the
	// configured lookup.
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := loader.LoadBytes(b.Bytes())
	if err != nil {
		return nil, err
	}

	parsed := make(map[string]interface{}, props.Len())
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		parsed[key] = value
	}
	return maps.Unflatten(parsed, "."), nil
}

// yamlParser implements koanf.Parser with gopkg.in/yaml.v2 and env expansion.
type yamlParser struct {
	lookup func(string) (string, bool)
}

func (p *yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	maps.IntfaceKeysToStrings(out)
	return expandMap(out, p.lookup), nil
}

func (p *yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(o)
}

func expandMap(m map[string]interface{}, lookup func(string) (string, bool)) map[string]interface{} {
	for k, v := range m {
		m[k] = expandValue(v, lookup)
	}
	return m
}

func expandValue(value interface{}, lookup func(string) (string, bool)) interface{} {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "$") {
			return v
		}
		return os.Expand(v, func(name string) string {
			val, _ := lookup(name)
			return val
		})
	case []interface{}:
		nslice := make([]interface{}, 0, len(v))
		for _, vint := range v {
			nslice = append(nslice, expandValue(vint, lookup))
		}
		return nslice
	case map[string]interface{}:
		return expandMap(v, lookup)
	default:
		return v
	}
}
