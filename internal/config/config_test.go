package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[[interface]]
name = "eth0"
link = "tap"
device = "tap0"
address = "192.168.1.1/24"

[[route]]
dest = "0.0.0.0/0"
next_hop = "192.168.1.254"
interface = "eth0"
`

func TestLoadMinimalConfig(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Interfaces) != 1 || cfg.Interfaces[0].Name != "eth0" {
		t.Fatalf("interfaces = %+v", cfg.Interfaces)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.Metrics.ListenAddr != ":9100" {
		t.Fatalf("expected default metrics listen addr, got %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadRejectsUnknownLinkType(t *testing.T) {
	path := writeTestConfig(t, `
[[interface]]
name = "eth0"
link = "carrier-pigeon"
address = "192.168.1.1/24"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown link type")
	}
}

func TestLoadRejectsDuplicateInterfaceNames(t *testing.T) {
	path := writeTestConfig(t, `
[[interface]]
name = "eth0"
address = "10.0.0.1/24"

[[interface]]
name = "eth0"
address = "10.0.1.1/24"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate interface name")
	}
}

func TestLoadRejectsRouteToUnknownInterface(t *testing.T) {
	path := writeTestConfig(t, `
[[interface]]
name = "eth0"
address = "10.0.0.1/24"

[[route]]
dest = "0.0.0.0/0"
interface = "eth1"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for route referencing unknown interface")
	}
}

func TestLoadRejectsNoInterfaces(t *testing.T) {
	path := writeTestConfig(t, `forwarding = true`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no interfaces are configured")
	}
}
