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

package upload

import (
	"fmt"
	"math"

	"github.com/uplink-telemetry/uplink/devicecontext"
)

// BlockerKind enumerates the reasons an upload may be skipped.
type BlockerKind int

const (
	BlockerConstrainedNetworkAccess BlockerKind = iota
	BlockerBattery
	BlockerLowPowerModeOn
	BlockerNetworkReachability
)

// Blocker is one reason not to upload now. BatteryLevel and BatteryState are set
// for BlockerBattery, Reachability for BlockerNetworkReachability.
type Blocker struct {
	Kind         BlockerKind
	BatteryLevel float64
	BatteryState devicecontext.BatteryState
	Reachability string
}

func (b Blocker) String() string {
	switch b.Kind {
	case BlockerConstrainedNetworkAccess:
		return "constrained network access"
	case BlockerBattery:
		return fmt.Sprintf("battery state is %s (%d%%)", b.BatteryState, int(math.Round(b.BatteryLevel*100)))
	case BlockerLowPowerModeOn:
		return "low power mode is on"
	case BlockerNetworkReachability:
		return "network reachability is " + b.Reachability
	}
	return "unknown"
}

// Label is a short stable name used as a metric label.
func (b Blocker) Label() string {
	switch b.Kind {
	case BlockerConstrainedNetworkAccess:
		return "constrained-network"
	case BlockerBattery:
		return "battery"
	case BlockerLowPowerModeOn:
		return "low-power-mode"
	case BlockerNetworkReachability:
		return "network-reachability"
	}
	return "unknown"
}

// Conditions decides from a device snapshot whether an upload should happen now.
type Conditions struct {
	// MinBatteryLevel is the level at or below which an unplugged battery blocks uploads.
	MinBatteryLevel float64
	// AllowConstrainedNetwork permits uploads on data-saving networks.
	AllowConstrainedNetwork bool
}

// DefaultConditions returns the default thresholds.
func DefaultConditions() Conditions {
	return Conditions{
		MinBatteryLevel:         0.1,
		AllowConstrainedNetwork: true,
	}
}

// BlockersForUpload returns why an upload should not proceed; an empty result
// means it may. It has no side effects.
func (c Conditions) BlockersForUpload(ctx devicecontext.Context) []Blocker {
	info := ctx.NetworkConnectionInfo
	if info == nil {
		return []Blocker{{Kind: BlockerNetworkReachability, Reachability: "unknown"}}
	}

	var blockers []Blocker
	if info.Reachability == devicecontext.ReachabilityNo {
		blockers = append(blockers, Blocker{Kind: BlockerNetworkReachability, Reachability: info.Reachability.String()})
	}

	if info.IsConstrained && !c.AllowConstrainedNetwork {
		return []Blocker{{Kind: BlockerConstrainedNetworkAccess}}
	}

	if battery := ctx.BatteryStatus; battery != nil && battery.State != devicecontext.BatteryStateUnknown {
		fullOrCharging := battery.State == devicecontext.BatteryStateFull || battery.State == devicecontext.BatteryStateCharging
		if !fullOrCharging && battery.Level <= c.MinBatteryLevel {
			blockers = append(blockers, Blocker{
				Kind:         BlockerBattery,
				BatteryLevel: battery.Level,
				BatteryState: battery.State,
			})
		}
	}

	if ctx.IsLowPowerModeEnabled {
		blockers = append(blockers, Blocker{Kind: BlockerLowPowerModeOn})
	}
	return blockers
}
