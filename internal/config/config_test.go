package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/groundlink/internal/control"
	"github.com/banshee-data/groundlink/internal/link"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}

	if diff := cmp.Diff(link.DefaultTiming(), cfg.LinkTiming()); diff != "" {
		t.Errorf("LinkTiming() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(control.DefaultSettings(), cfg.ControlSettings()); diff != "" {
		t.Errorf("ControlSettings() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.GetTransport(); got != TransportUDP {
		t.Errorf("GetTransport() = %q, want udp", got)
	}
	if got := cfg.GetPort(); got != 14550 {
		t.Errorf("GetPort() = %d, want 14550", got)
	}
	if got := cfg.GetBaudRate(); got != 57600 {
		t.Errorf("GetBaudRate() = %d, want 57600", got)
	}
	if got := cfg.SerialOptions().String(); got != "57600 8N1" {
		t.Errorf("SerialOptions() = %q, want 57600 8N1", got)
	}
	if got := cfg.GetBufferCapacity(); got != 25 {
		t.Errorf("GetBufferCapacity() = %d, want 25", got)
	}
	if got := cfg.GetStatusCapacity(); got != 50 {
		t.Errorf("GetStatusCapacity() = %d, want 50", got)
	}
	if got := cfg.GetSessionsDir(); got != "DroneSessions" {
		t.Errorf("GetSessionsDir() = %q", got)
	}
	if got := cfg.GetParamRefreshDelay(); got != 2500*time.Millisecond {
		t.Errorf("GetParamRefreshDelay() = %v", got)
	}
	if !cfg.GetPcapRealtime() {
		t.Error("GetPcapRealtime() should default to true")
	}
}

func TestLoadDefaultsFileMatchesBuiltins(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("Load(%s): %v", DefaultConfigPath, err)
	}
	empty := &Config{}

	if diff := cmp.Diff(empty.LinkTiming(), cfg.LinkTiming()); diff != "" {
		t.Errorf("defaults file link timing differs (-builtin +file):\n%s", diff)
	}
	if diff := cmp.Diff(empty.ControlSettings(), cfg.ControlSettings()); diff != "" {
		t.Errorf("defaults file control settings differ (-builtin +file):\n%s", diff)
	}
	if cfg.GetParamRequestDelay() != empty.GetParamRequestDelay() {
		t.Errorf("param_request_delay = %v, want %v", cfg.GetParamRequestDelay(), empty.GetParamRequestDelay())
	}
	if cfg.GetListenAddr() != empty.GetListenAddr() {
		t.Errorf("listen_addr = %q, want %q", cfg.GetListenAddr(), empty.GetListenAddr())
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "groundlink.json", `{
  "transport": "serial",
  "serial_device": "/dev/ttyUSB0",
  "baud_rate": 115200,
  "heartbeat_timeout": "3s",
  "max_output": 0.8,
  "attitude_interval": "20ms"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GetTransport() != TransportSerial || cfg.GetSerialDevice() != "/dev/ttyUSB0" {
		t.Errorf("transport = %q %q", cfg.GetTransport(), cfg.GetSerialDevice())
	}
	if cfg.GetBaudRate() != 115200 {
		t.Errorf("GetBaudRate() = %d", cfg.GetBaudRate())
	}

	wantTiming := link.DefaultTiming()
	wantTiming.HeartbeatTimeout = 3 * time.Second
	if diff := cmp.Diff(wantTiming, cfg.LinkTiming()); diff != "" {
		t.Errorf("LinkTiming() mismatch (-want +got):\n%s", diff)
	}

	wantControl := control.DefaultSettings()
	wantControl.MaxOutput = 0.8
	if diff := cmp.Diff(wantControl, cfg.ControlSettings()); diff != "" {
		t.Errorf("ControlSettings() mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetAttitudeInterval() != 20*time.Millisecond {
		t.Errorf("GetAttitudeInterval() = %v", cfg.GetAttitudeInterval())
	}
	if cfg.GetAltitudeInterval() != 0 {
		t.Errorf("GetAltitudeInterval() = %v", cfg.GetAltitudeInterval())
	}
}

func TestLoadZeroDeadband(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.json", `{"deadband":0}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.ControlSettings()
	if got.Deadband != control.NoDeadband {
		t.Fatalf("Deadband = %v, want NoDeadband", got.Deadband)
	}

	l := control.New(got, nil, nil, nil)
	l.SetAxisInput(0.05, 0, 0, 0)
	if v := l.Values().Roll; math.Abs(float64(v)-0.05*0.55) > 1e-6 {
		t.Errorf("Roll = %v, want an unshaped 0.05 scaled to max output", v)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "config.yaml", `{}`, ".json extension"},
		{"bad json", "c.json", `{"port":`, "failed to parse"},
		{"transport", "c.json", `{"transport":"tcp"}`, "transport must be"},
		{"serial without device", "c.json", `{"transport":"serial"}`, "serial_device"},
		{"pcap without file", "c.json", `{"transport":"pcap"}`, "pcap_file"},
		{"port", "c.json", `{"port":70000}`, "port must be"},
		{"duration", "c.json", `{"retry_delay":"soon"}`, "invalid retry_delay"},
		{"negative duration", "c.json", `{"heartbeat_timeout":"-1s"}`, "heartbeat_timeout must not be negative"},
		{"negative count", "c.json", `{"max_retries":-1}`, "max_retries must be non-negative"},
		{"max output", "c.json", `{"max_output":1.5}`, "max_output must be above 0 and at most 1"},
		{"zero max output", "c.json", `{"max_output":0}`, "max_output must be above 0"},
		{"zero auto step", "c.json", `{"auto_step":0}`, "auto_step must be above 0"},
		{"deadband", "c.json", `{"deadband":1}`, "deadband must be at least 0 and below 1"},
		{"negative deadband", "c.json", `{"deadband":-0.1}`, "deadband must be at least 0"},
		{"baud", "c.json", `{"baud_rate":0}`, "baud_rate must be positive"},
		{"framing", "c.json", `{"serial_framing":"8X1"}`, "serial_framing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadTooLarge(t *testing.T) {
	body := `{"sessions_dir":"` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := Load(writeConfig(t, "big.json", body)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected too large error, got %v", err)
	}
}
