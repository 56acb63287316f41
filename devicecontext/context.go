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

// Package devicecontext describes the application identity and device state
// that uploads depend on, and provides snapshots of it.
package devicecontext

// Application identifies the producer of the telemetry.
type Application struct {
	Service    string `mapstructure:"service"`
	Env        string `mapstructure:"env"`
	Version    string `mapstructure:"version"`
	Source     string `mapstructure:"source"`
	Variant    string `mapstructure:"variant"`
	SDKVersion string `mapstructure:"-"`
}

// Reachability of the network.
type Reachability int

const (
	ReachabilityYes Reachability = iota
	ReachabilityMaybe
	ReachabilityNo
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityYes:
		return "yes"
	case ReachabilityMaybe:
		return "maybe"
	case ReachabilityNo:
		return "no"
	}
	return "unknown"
}

// NetworkConnectionInfo is the state of the network connection.
type NetworkConnectionInfo struct {
	Reachability Reachability
	// IsConstrained is set when the link is in a data-saving mode.
	IsConstrained bool
	// AvailableInterfaces lists the interfaces that are up.
	AvailableInterfaces []string
}

// BatteryState is the charging state of the battery.
type BatteryState int

const (
	BatteryStateUnknown BatteryState = iota
	BatteryStateUnplugged
	BatteryStateCharging
	BatteryStateFull
)

func (s BatteryState) String() string {
	switch s {
	case BatteryStateUnplugged:
		return "unplugged"
	case BatteryStateCharging:
		return "charging"
	case BatteryStateFull:
		return "full"
	}
	return "unknown"
}

// BatteryStatus is the state of the battery. Level is in [0, 1].
type BatteryStatus struct {
	State BatteryState
	Level float64
}

// Context is an immutable snapshot read once per upload cycle.
type Context struct {
	Application Application
	Site        string
	ClientToken string

	// NetworkConnectionInfo is nil when reachability is unknown.
	NetworkConnectionInfo *NetworkConnectionInfo
	// BatteryStatus is nil on devices without a battery.
	BatteryStatus         *BatteryStatus
	IsLowPowerModeEnabled bool
}
