package locator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const minimalConfigYAML = `
mqtt:
  broker: tcp://localhost:1883
beacons:
  - id: kitchen
    x: 0
    y: 0
  - id: hall
    name: Hallway
    room: hall
    x: 10
    y: 0
    referenceRssiAt1m: -62
  - id: den
    x: 0
    y: 10
    pathLossExponent: 2.7
collars:
  - id: rex
    topic: pet-collar/rex
    color: "#00AAFF"
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	if diff := cmp.Diff(DefaultEngineConfig(), cfg.Engine); diff != "" {
		t.Errorf("engine defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.FloorPlan.GridSpacing != 1.0 {
		t.Errorf("GridSpacing = %v, want 1.0", cfg.FloorPlan.GridSpacing)
	}
	if len(cfg.Beacons) != 3 {
		t.Fatalf("len(Beacons) = %d, want 3", len(cfg.Beacons))
	}
	if cfg.Beacons[1].ReferenceRSSIAt1m == nil || *cfg.Beacons[1].ReferenceRSSIAt1m != -62 {
		t.Errorf("hall referenceRssiAt1m not parsed: %v", cfg.Beacons[1].ReferenceRSSIAt1m)
	}
	if cfg.Beacons[0].PathLossExponent != nil {
		t.Error("kitchen pathLossExponent should be unset")
	}
	if c := cfg.GetCollarByID("rex"); c == nil || c.Topic != "pet-collar/rex" {
		t.Errorf("GetCollarByID(rex) = %+v", c)
	}
	if cfg.GetCollarByID("missing") != nil {
		t.Error("GetCollarByID(missing) should be nil")
	}
}

func TestParseConfig_EngineOverrides(t *testing.T) {
	data := minimalConfigYAML + `
engine:
  smoothingAlpha: 0.25
  maxSpeedMps: 1.5
  minBeaconsForSolve: 4
`
	cfg, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}
	if cfg.Engine.SmoothingAlpha != 0.25 {
		t.Errorf("SmoothingAlpha = %v, want 0.25", cfg.Engine.SmoothingAlpha)
	}
	if cfg.Engine.MaxSpeedMps != 1.5 {
		t.Errorf("MaxSpeedMps = %v, want 1.5", cfg.Engine.MaxSpeedMps)
	}
	if cfg.Engine.MinBeaconsForSolve != 4 {
		t.Errorf("MinBeaconsForSolve = %v, want 4", cfg.Engine.MinBeaconsForSolve)
	}
	if cfg.Engine.PathLossExponent != 2.0 {
		t.Errorf("PathLossExponent = %v, want default 2.0", cfg.Engine.PathLossExponent)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"alpha above one", minimalConfigYAML + "engine:\n  smoothingAlpha: 1.5\n"},
		{"negative alpha", minimalConfigYAML + "engine:\n  smoothingAlpha: -0.2\n"},
		{"too few beacons for solve", minimalConfigYAML + "engine:\n  minBeaconsForSolve: 2\n"},
		{"rssi window inverted", minimalConfigYAML + "engine:\n  minRssi: -20\n  maxRssi: -50\n"},
		{"distance window inverted", minimalConfigYAML + "engine:\n  minDistance: 40\n"},
		{"no collars", "beacons:\n  - id: a\n    x: 0\n    y: 0\n"},
		{"no beacons", "collars:\n  - id: rex\n    topic: t\n"},
		{"collar without topic", "beacons:\n  - id: a\n    x: 0\n    y: 0\ncollars:\n  - id: rex\n"},
		{"duplicate collar", minimalConfigYAML + "  - id: rex\n    topic: other\n"},
		{"beacon without id", "beacons:\n  - x: 1\n    y: 1\ncollars:\n  - id: rex\n    topic: t\n"},
		{"bad zone shape", minimalConfigYAML + "zones:\n  - id: z\n    shape: hexagon\n"},
		{"bad zone type", minimalConfigYAML + "zones:\n  - id: z\n    type: comfy\n    shape: circle\n"},
		{"inverted floor plan", minimalConfigYAML + "floorPlan:\n  minX: 10\n  maxX: 0\n  maxY: 5\n"},
		{"registry url not a url", "registryUrl: not a url\ncollars:\n  - id: rex\n    topic: t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseConfig_RegistryURLWithoutBeacons(t *testing.T) {
	data := "registryUrl: http://registry.local/api/beacons\ncollars:\n  - id: rex\n    topic: t\n"
	cfg, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}
	if cfg.RegistryURL != "http://registry.local/api/beacons" {
		t.Errorf("RegistryURL = %q", cfg.RegistryURL)
	}
}

func TestParseConfig_MalformedYAML(t *testing.T) {
	_, err := ParseConfig([]byte("beacons: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("expected YAML parse error, got %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestEngineConfig_WithDefaultsKeepsValues(t *testing.T) {
	cfg := EngineConfig{SmoothingAlpha: 0.9, HistorySize: 12}.WithDefaults()
	if cfg.SmoothingAlpha != 0.9 || cfg.HistorySize != 12 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.StaleObservationMs != 10000 {
		t.Errorf("StaleObservationMs = %d, want 10000", cfg.StaleObservationMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}
