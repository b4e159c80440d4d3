// Package config handles TOML configuration parsing and validation for the
// microps stack.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration file for a microps stack process.
type Config struct {
	Interfaces []InterfaceConfig `toml:"interface"`
	Routes     []RouteConfig     `toml:"route"`
	Forwarding bool              `toml:"forwarding"`
	Metrics    MetricsConfig     `toml:"metrics"`
	LogLevel   string            `toml:"log_level"`
}

// InterfaceConfig describes one ethernet.Device/ipv4.Interface pair: either
// a TAP device to create, or an existing host interface to attach a
// promiscuous packet socket to.
type InterfaceConfig struct {
	Name    string `toml:"name"`
	Link    string `toml:"link"` // "tap" or "packet"
	Device  string `toml:"device"`
	Address string `toml:"address"`           // CIDR, e.g. "192.168.1.1/24"
	Gateway string `toml:"gateway,omitempty"` // if set, a 0.0.0.0/0 route via this address is installed for the interface
}

// RouteConfig describes one static route to install in the shared
// ipv4.RouteTable at startup.
type RouteConfig struct {
	Dest      string `toml:"dest"` // CIDR
	NextHop   string `toml:"next_hop,omitempty"`
	Interface string `toml:"interface"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Load reads, parses, defaults, and validates the TOML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9100"
	}
	for i := range cfg.Interfaces {
		if cfg.Interfaces[i].Link == "" {
			cfg.Interfaces[i].Link = "tap"
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("at least one [[interface]] is required")
	}
	seen := make(map[string]bool, len(cfg.Interfaces))
	for _, ifc := range cfg.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface entry missing name")
		}
		if seen[ifc.Name] {
			return fmt.Errorf("duplicate interface name %q", ifc.Name)
		}
		seen[ifc.Name] = true
		switch ifc.Link {
		case "tap", "packet":
		default:
			return fmt.Errorf("interface %q: unknown link type %q", ifc.Name, ifc.Link)
		}
		if _, err := netip.ParsePrefix(ifc.Address); err != nil {
			return fmt.Errorf("interface %q: invalid address %q: %w", ifc.Name, ifc.Address, err)
		}
		if ifc.Gateway != "" {
			if _, err := netip.ParseAddr(ifc.Gateway); err != nil {
				return fmt.Errorf("interface %q: invalid gateway %q: %w", ifc.Name, ifc.Gateway, err)
			}
		}
	}
	for _, r := range cfg.Routes {
		if _, err := netip.ParsePrefix(r.Dest); err != nil {
			return fmt.Errorf("route %q: invalid destination: %w", r.Dest, err)
		}
		if !seen[r.Interface] {
			return fmt.Errorf("route %q: unknown interface %q", r.Dest, r.Interface)
		}
	}
	return nil
}
