package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensornet.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
network_id = "greenhouse"
response_delay = "120ms"
report_interval = "1m"

[serial]
enabled = true
port = "/dev/ttyACM0"

[nats]
enabled = true
forward_telemetry = false
reconnect_wait = "5s"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.NetworkID != "greenhouse" {
		t.Errorf("NetworkID = %q", cfg.NetworkID)
	}
	if cfg.ResponseDelay != 120*time.Millisecond {
		t.Errorf("ResponseDelay = %v", cfg.ResponseDelay)
	}
	if cfg.ReportInterval != time.Minute {
		t.Errorf("ReportInterval = %v", cfg.ReportInterval)
	}
	if !cfg.Serial.Enabled || cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("Serial = %+v", cfg.Serial)
	}
	// Keys not in the file keep their defaults.
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want default 115200", cfg.Serial.BaudRate)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q, want default", cfg.NATS.URL)
	}
	if cfg.NATS.ForwardTelemetry {
		t.Error("ForwardTelemetry should be overridden to false")
	}
	if cfg.NATS.ReconnectWait != 5*time.Second {
		t.Errorf("ReconnectWait = %v", cfg.NATS.ReconnectWait)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should stay disabled")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"no transport", `network_id = "a"`, "must be enabled"},
		{"bad level", "log_level = \"loud\"\n[serial]\nenabled = true", "log_level"},
		{"bad duration", "response_delay = \"soon\"\n[serial]\nenabled = true", "response_delay"},
		{"negative duration", "response_delay = \"-1s\"\n[serial]\nenabled = true", "negative"},
		{"unknown key", "colour = \"blue\"\n[serial]\nenabled = true", "unknown key"},
		{"empty network", "network_id = \"\"\n[serial]\nenabled = true", "network_id"},
		{"separator in network", "network_id = \"a.b\"\n[mqtt]\nenabled = true", "separator"},
		{"empty port", "[serial]\nenabled = true\nport = \"\"", "serial.port"},
		{"empty broker", "[mqtt]\nenabled = true\nbroker = \"\"", "mqtt.broker"},
		{"empty nats url", "[nats]\nenabled = true\nurl = \"\"", "nats.url"},
		{"syntax", "network_id = ", "load config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, err := loadConfig("sensornet.example.toml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if !cfg.Serial.Enabled || cfg.NetworkID != "greenhouse" {
		t.Errorf("unexpected example config %+v", cfg)
	}
}
