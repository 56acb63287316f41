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

package devicecontext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/net"
	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

// Config defines where the system provider reads device state from.
type Config struct {
	// ConstrainedNetwork marks the network as data-saving (for example a metered uplink).
	ConstrainedNetwork bool `mapstructure:"constrained_network"`
	// PowerSupplyPath is the power supply class directory.
	PowerSupplyPath string `mapstructure:"power_supply_path"`
	// PlatformProfilePath is the ACPI platform profile file.
	PlatformProfilePath string `mapstructure:"platform_profile_path"`
	// ProbeInterfaces restricts reachability to the named interfaces. Empty means all.
	ProbeInterfaces []string `mapstructure:"probe_interfaces"`
}

// DefaultConfig returns the Linux defaults.
func DefaultConfig() Config {
	return Config{
		PowerSupplyPath:     "/sys/class/power_supply",
		PlatformProfilePath: "/sys/firmware/acpi/platform_profile",
	}
}

// SystemProvider reads device state from the host on every Read.
type SystemProvider struct {
	cfg         Config
	application Application
	site        string
	clientToken string
	logger      *zap.Logger

	// for mocking
	interfaces func(context.Context) ([]net.InterfaceStat, error)
	readFile   func(string) ([]byte, error)
	readDir    func(string) ([]os.DirEntry, error)
}

var _ Provider = (*SystemProvider)(nil)

// NewSystemProvider creates a provider for the given identity.
func NewSystemProvider(cfg Config, app Application, site, clientToken string, logger *zap.Logger) *SystemProvider {
	return &SystemProvider{
		cfg:         cfg,
		application: app,
		site:        site,
		clientToken: clientToken,
		logger:      logger,
		interfaces: func(ctx context.Context) ([]net.InterfaceStat, error) {
			return net.InterfacesWithContext(ctx)
		},
		readFile: os.ReadFile,
		readDir:  os.ReadDir,
	}
}

// Read implements Provider.
func (p *SystemProvider) Read() Context {
	return Context{
		Application:           p.application,
		Site:                  p.site,
		ClientToken:           p.clientToken,
		NetworkConnectionInfo: p.networkConnectionInfo(),
		BatteryStatus:         p.batteryStatus(),
		IsLowPowerModeEnabled: p.lowPowerMode(),
	}
}

// networkConnectionInfo returns nil when the interfaces cannot be listed.
func (p *SystemProvider) networkConnectionInfo() *NetworkConnectionInfo {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	ifaces, err := p.interfaces(ctx)
	if err != nil {
		p.logger.Debug("Failed to list network interfaces", zap.Error(err))
		return nil
	}

	info := &NetworkConnectionInfo{
		Reachability:  ReachabilityNo,
		IsConstrained: p.cfg.ConstrainedNetwork,
	}
	for _, iface := range ifaces {
		if !p.probed(iface.Name) || !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		info.AvailableInterfaces = append(info.AvailableInterfaces, iface.Name)
		if len(iface.Addrs) > 0 {
			info.Reachability = ReachabilityYes
		} else if info.Reachability == ReachabilityNo {
			info.Reachability = ReachabilityMaybe
		}
	}
	return info
}

func (p *SystemProvider) probed(name string) bool {
	if len(p.cfg.ProbeInterfaces) == 0 {
		return true
	}
	for _, n := range p.cfg.ProbeInterfaces {
		if n == name {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// batteryStatus returns the first battery found below the power supply class.
func (p *SystemProvider) batteryStatus() *BatteryStatus {
	if p.cfg.PowerSupplyPath == "" {
		return nil
	}
	entries, err := p.readDir(p.cfg.PowerSupplyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Debug("Failed to list power supplies", zap.Error(err))
		}
		return nil
	}
	for _, e := range entries {
		dir := filepath.Join(p.cfg.PowerSupplyPath, e.Name())
		if p.readTrimmed(filepath.Join(dir, "type")) != "Battery" {
			continue
		}
		status := &BatteryStatus{State: batteryState(p.readTrimmed(filepath.Join(dir, "status")))}
		capacity, err := strconv.Atoi(p.readTrimmed(filepath.Join(dir, "capacity")))
		if err != nil {
			status.State = BatteryStateUnknown
			return status
		}
		status.Level = float64(capacity) / 100
		return status
	}
	return nil
}

func batteryState(status string) BatteryState {
	switch status {
	case "Charging":
		return BatteryStateCharging
	case "Full":
		return BatteryStateFull
	case "Discharging", "Not charging":
		return BatteryStateUnplugged
	}
	return BatteryStateUnknown
}

func (p *SystemProvider) lowPowerMode() bool {
	if p.cfg.PlatformProfilePath == "" {
		return false
	}
	return p.readTrimmed(p.cfg.PlatformProfilePath) == "low-power"
}

func (p *SystemProvider) readTrimmed(path string) string {
	data, err := p.readFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
