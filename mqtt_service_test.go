package main

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/collarmesh/locator"
)

// TestMQTTServiceConfigLoading tests configuration loading for MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			configYAML:  testConfigYAML,
			shouldError: false,
		},
		{
			name: "no collars defined",
			configYAML: `mqtt:
  broker: "tcp://localhost:1883"
beacons:
  - id: kitchen
    x: 0
    y: 0
collars: []
`,
			shouldError: true,
			errorMsg:    "at least one collar must be defined",
		},
		{
			name: "collar missing topic",
			configYAML: `beacons:
  - id: kitchen
    x: 0
    y: 0
collars:
  - id: rex
`,
			shouldError: true,
			errorMsg:    "Topic",
		},
		{
			name: "no beacons and no registry",
			configYAML: `collars:
  - id: rex
    topic: "pet-collar/rex/scan"
`,
			shouldError: true,
			errorMsg:    "at least one beacon or a registryUrl",
		},
		{
			name: "smoothing alpha out of range",
			configYAML: `engine:
  smoothingAlpha: 1.5
beacons:
  - id: kitchen
    x: 0
    y: 0
collars:
  - id: rex
    topic: "pet-collar/rex/scan"
`,
			shouldError: true,
			errorMsg:    "SmoothingAlpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}

			config, err := locator.LoadConfig(configPath)

			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error containing '%s', but got nil", tt.errorMsg)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got: %v", tt.errorMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if config == nil {
				t.Fatal("Expected config, got nil")
			}
		})
	}
}

// startMockService wires an App to a connected MockClient the way RunService
// wires it to a broker
func startMockService(t *testing.T) (*App, *locator.MockClient) {
	t.Helper()
	app, _ := newTestApp(t)
	pub, mc := connectedPublisher(t)

	client := locator.NewMQTTClientWithClient(mc, app.Config, app.handleBatch)
	mc.SetOnConnect(client.OnConnect)
	if tok := mc.Connect(); tok.Error() != nil {
		t.Fatalf("Connect: %v", tok.Error())
	}
	app.MQTTClient = client
	app.Publisher = pub
	return app, mc
}

func TestMQTTService_ScanToPosition(t *testing.T) {
	app, mc := startMockService(t)

	if !app.MQTTClient.IsConnected() {
		t.Fatal("client should be connected")
	}
	if got := len(mc.Subscriptions()); got != 2 {
		t.Fatalf("subscriptions = %d, want 2", got)
	}

	// firmware envelope on an uptime clock
	mc.SimulateMessage("pet-collar/rex/scan", []byte(scanLine(t, "rex", locator.Point{X: 3, Y: 4}, 12_000)))

	msgs := mc.PublishedTo("collarmesh/rex")
	if len(msgs) != 1 {
		t.Fatalf("published %d positions for rex, want 1", len(msgs))
	}
	var pos locator.LivePosition
	if err := json.Unmarshal(msgs[0].Payload, &pos); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !pos.Valid || pos.TimestampMs != testNowMs {
		t.Errorf("position = %+v, want valid at receiver time", pos)
	}
	if pos.Color != "#00AAFF" {
		t.Errorf("color = %q, want configured #00AAFF", pos.Color)
	}
	if len(mc.PublishedTo("collarmesh/rex/zone")) != 1 {
		t.Error("expected a zone entry event for the bed")
	}
}

func TestMQTTService_CompressedPayload(t *testing.T) {
	_, mc := startMockService(t)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(scanLine(t, "luna", locator.Point{X: 6, Y: 2}, testNowMs))); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}

	mc.SimulateMessage("pet-collar/luna/scan", buf.Bytes())

	if len(mc.PublishedTo("collarmesh/luna")) != 1 {
		t.Error("expected a position for luna from the zlib payload")
	}
}

func TestMQTTService_InvalidPayload(t *testing.T) {
	app, mc := startMockService(t)

	mc.SimulateMessage("pet-collar/rex/scan", []byte("not a scan"))

	if n := len(mc.GetPublishedMessages()); n != 0 {
		t.Errorf("published %d messages for an invalid payload, want 0", n)
	}
	if _, ok := app.Tracker.GetPosition("rex"); ok {
		t.Error("invalid payload should not reach the tracker")
	}
}

func TestMQTTService_Disconnect(t *testing.T) {
	app, mc := startMockService(t)

	app.MQTTClient.Disconnect()
	if mc.IsConnected() {
		t.Error("mock client should be disconnected")
	}

	// publishing after disconnect fails but does not panic
	app.handleBatch("rex", &locator.ObservationBatch{Observations: scanAt(locator.Point{X: 3, Y: 4}, testNowMs)}, nil)
	if n := len(mc.GetPublishedMessages()); n != 0 {
		t.Errorf("published %d messages while disconnected, want 0", n)
	}
}
