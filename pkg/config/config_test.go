package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trackd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Tracking.DefaultIntervalSeconds != 30 {
		t.Errorf("default interval = %d, want 30", cfg.Tracking.DefaultIntervalSeconds)
	}
	if cfg.Signals.FuelParam != "io_273" {
		t.Errorf("fuel param = %q, want io_273", cfg.Signals.FuelParam)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeTempConfig(t, `
http:
  addr: ":9090"
wialon:
  url: http://localhost:9100/wialon/ajax.html
  token: test-token
  timeout: 3s
store:
  dsn: influxdb://localhost:8086/tracking
tracking:
  default_interval_seconds: 10
vehicles:
  static:
    - id: veh-1
      name: Truck 1
      tracking_id: "734"
      tracking_plate: AB 123 CD
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Wialon.Timeout.Std() != 3*time.Second {
		t.Errorf("timeout = %s, want 3s", cfg.Wialon.Timeout.Std())
	}
	if cfg.Tracking.DefaultIntervalSeconds != 10 {
		t.Errorf("interval = %d, want 10", cfg.Tracking.DefaultIntervalSeconds)
	}
	// untouched sections keep their defaults
	if cfg.Tracking.CallTimeout.Std() != 10*time.Second {
		t.Errorf("call timeout = %s, want 10s", cfg.Tracking.CallTimeout.Std())
	}
	if cfg.Signals.TempScale != 10 {
		t.Errorf("temp scale = %v, want 10", cfg.Signals.TempScale)
	}
	if len(cfg.Vehicles.Static) != 1 || cfg.Vehicles.Static[0].TrackingID != "734" {
		t.Errorf("static vehicles = %+v", cfg.Vehicles.Static)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_WIALON_TOKEN", "secret-token")
	path := writeTempConfig(t, `
wialon:
  token: ${TEST_WIALON_TOKEN}
vehicles:
  static:
    - id: veh-1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Wialon.Token != "secret-token" {
		t.Errorf("token = %q, want secret-token", cfg.Wialon.Token)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "wialon:\n  timeout: nope\n"},
		{"no vehicle source", "http:\n  addr: \":1\"\n"},
		{"static without id", "vehicles:\n  static:\n    - name: x\n"},
		{"bad yaml", "a: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tt.body)); err == nil {
				t.Errorf("Load succeeded, want error")
			}
		})
	}
}
