package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyricz/a4over6/internal/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 5678 {
		t.Errorf("Server.Port = %d, want 5678", cfg.Server.Port)
	}
	if cfg.Device.MTU != protocol.MaxPayloadSize {
		t.Errorf("Device.MTU = %d, want %d", cfg.Device.MTU, protocol.MaxPayloadSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info", cfg.Log.Level)
	}
	if cfg.Health.Enabled {
		t.Error("Health.Enabled = true, want false")
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
server:
  host: "tunnel.example.org"
  port: 5678

device:
  path: "/dev/net/tun"
  mtu: 1500

log:
  level: "debug"
  format: "json"

health:
  enabled: true
  address: "127.0.0.1:9090"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Server.Host != "tunnel.example.org" {
		t.Errorf("Server.Host = %s, want tunnel.example.org", cfg.Server.Host)
	}
	if cfg.ServerAddr() != "tunnel.example.org:5678" {
		t.Errorf("ServerAddr() = %s, want tunnel.example.org:5678", cfg.ServerAddr())
	}
	if cfg.Device.MTU != 1500 {
		t.Errorf("Device.MTU = %d, want 1500", cfg.Device.MTU)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
	if !cfg.Health.Enabled || cfg.Health.Address != "127.0.0.1:9090" {
		t.Errorf("Health = %+v, want enabled at 127.0.0.1:9090", cfg.Health)
	}
}

func TestParse_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing host",
			yaml:    "server:\n  port: 5678\n",
			wantErr: "server.host is required",
		},
		{
			name:    "bad port",
			yaml:    "server:\n  host: a\n  port: 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "oversized mtu",
			yaml:    "server:\n  host: a\ndevice:\n  mtu: 9000\n",
			wantErr: "device.mtu",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  host: a\nlog:\n  level: loud\n",
			wantErr: "invalid log.level",
		},
		{
			name:    "health enabled without address",
			yaml:    "server:\n  host: a\nhealth:\n  enabled: true\n  address: \"\"\n",
			wantErr: "health.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	os.Setenv("A4OVER6_TEST_HOST", "env.example.org")
	defer os.Unsetenv("A4OVER6_TEST_HOST")

	yamlConfig := `
server:
  host: "${A4OVER6_TEST_HOST}"
  port: ${A4OVER6_TEST_PORT:-5678}
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Server.Host != "env.example.org" {
		t.Errorf("Server.Host = %s, want env.example.org", cfg.Server.Host)
	}
	if cfg.Server.Port != 5678 {
		t.Errorf("Server.Port = %d, want default 5678", cfg.Server.Port)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")

	content := "server:\n  host: localhost\n  port: 1234\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("Server.Port = %d, want 1234", cfg.Server.Port)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() on missing file succeeded, want error")
	}
}
