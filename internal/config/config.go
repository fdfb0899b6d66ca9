// Package config loads the ground station's JSON configuration. Every field
// is optional; the Get* methods fall back to the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/groundlink/internal/control"
	"github.com/banshee-data/groundlink/internal/link"
	"github.com/banshee-data/groundlink/internal/transport"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/groundlink.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Transport kinds.
const (
	TransportUDP    = "udp"
	TransportSerial = "serial"
	TransportPcap   = "pcap"
)

// Config is the flat on-disk schema. Durations are strings like "500ms".
type Config struct {
	// Transport
	Transport     *string `json:"transport,omitempty"`
	Port          *int    `json:"port,omitempty"`
	SerialDevice  *string `json:"serial_device,omitempty"`
	BaudRate      *int    `json:"baud_rate,omitempty"`
	SerialFraming *string `json:"serial_framing,omitempty"`
	PcapFile      *string `json:"pcap_file,omitempty"`
	PcapRealtime  *bool   `json:"pcap_realtime,omitempty"`

	// Link supervision
	DiscoveryTimeout  *string `json:"discovery_timeout,omitempty"`
	RetryDelay        *string `json:"retry_delay,omitempty"`
	MaxRetries        *int    `json:"max_retries,omitempty"`
	HeartbeatInterval *string `json:"heartbeat_interval,omitempty"`
	MaxMissedTicks    *int    `json:"max_missed_ticks,omitempty"`
	HeartbeatTimeout  *string `json:"heartbeat_timeout,omitempty"`
	MaxReadErrors     *int    `json:"max_read_errors,omitempty"`

	// Control loop
	ControlTick *string  `json:"control_tick,omitempty"`
	Deadband    *float64 `json:"deadband,omitempty"`
	MaxOutput   *float64 `json:"max_output,omitempty"`
	StickyStep  *float64 `json:"sticky_step,omitempty"`
	AutoStep    *float64 `json:"auto_step,omitempty"`
	AutoCeiling *float64 `json:"auto_ceiling,omitempty"`

	// Telemetry
	BufferCapacity   *int    `json:"buffer_capacity,omitempty"`
	StatusCapacity   *int    `json:"status_capacity,omitempty"`
	AttitudeInterval *string `json:"attitude_interval,omitempty"`
	AltitudeInterval *string `json:"altitude_interval,omitempty"`

	// Sessions and parameters
	SessionsDir       *string `json:"sessions_dir,omitempty"`
	CatalogPath       *string `json:"catalog_path,omitempty"`
	ParamRequestDelay *string `json:"param_request_delay,omitempty"`
	ParamRefreshDelay *string `json:"param_refresh_delay,omitempty"`

	// Debug HTTP server
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Load reads a .json config file of at most 1MB and validates it. Fields
// missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	if c.Transport != nil {
		switch *c.Transport {
		case TransportUDP, TransportSerial, TransportPcap:
		default:
			return fmt.Errorf("transport must be udp, serial or pcap, got %q", *c.Transport)
		}
		if *c.Transport == TransportSerial && c.GetSerialDevice() == "" {
			return fmt.Errorf("serial transport needs serial_device")
		}
		if *c.Transport == TransportPcap && c.GetPcapFile() == "" {
			return fmt.Errorf("pcap transport needs pcap_file")
		}
	}
	if c.Port != nil && (*c.Port <= 0 || *c.Port > 65535) {
		return fmt.Errorf("port must be in 1..65535, got %d", *c.Port)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.SerialFraming != nil {
		if _, err := transport.ParseFraming(*c.SerialFraming); err != nil {
			return fmt.Errorf("serial_framing: %w", err)
		}
	}

	for name, v := range map[string]*string{
		"discovery_timeout":   c.DiscoveryTimeout,
		"retry_delay":         c.RetryDelay,
		"heartbeat_interval":  c.HeartbeatInterval,
		"heartbeat_timeout":   c.HeartbeatTimeout,
		"control_tick":        c.ControlTick,
		"attitude_interval":   c.AttitudeInterval,
		"altitude_interval":   c.AltitudeInterval,
		"param_request_delay": c.ParamRequestDelay,
		"param_refresh_delay": c.ParamRefreshDelay,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, d)
		}
	}

	for name, v := range map[string]*int{
		"max_retries":      c.MaxRetries,
		"max_missed_ticks": c.MaxMissedTicks,
		"max_read_errors":  c.MaxReadErrors,
		"buffer_capacity":  c.BufferCapacity,
		"status_capacity":  c.StatusCapacity,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"max_output":   c.MaxOutput,
		"sticky_step":  c.StickyStep,
		"auto_step":    c.AutoStep,
		"auto_ceiling": c.AutoCeiling,
	} {
		if v != nil && !(*v > 0 && *v <= 1) {
			return fmt.Errorf("%s must be above 0 and at most 1, got %f", name, *v)
		}
	}
	// 0 is a valid deadband: sticks pass through unshaped.
	if c.Deadband != nil && !(*c.Deadband >= 0 && *c.Deadband < 1) {
		return fmt.Errorf("deadband must be at least 0 and below 1, got %f", *c.Deadband)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func float32Or(v *float64, def float32) float32 {
	if v == nil {
		return def
	}
	return float32(*v)
}

func (c *Config) GetTransport() string    { return stringOr(c.Transport, TransportUDP) }
func (c *Config) GetPort() int            { return intOr(c.Port, transport.DefaultPort) }
func (c *Config) GetSerialDevice() string { return stringOr(c.SerialDevice, "") }
func (c *Config) GetBaudRate() int        { return intOr(c.BaudRate, transport.DefaultBaudRate) }

// SerialOptions combines baud_rate and serial_framing. Validate has already
// rejected a framing that does not parse.
func (c *Config) SerialOptions() transport.PortOptions {
	opts, err := transport.ParseFraming(stringOr(c.SerialFraming, transport.DefaultFraming))
	if err != nil {
		opts = transport.PortOptions{}
	}
	opts.BaudRate = c.GetBaudRate()
	return opts
}
func (c *Config) GetPcapFile() string     { return stringOr(c.PcapFile, "") }

// GetPcapRealtime reports whether a capture replays at its recorded pace.
func (c *Config) GetPcapRealtime() bool {
	if c.PcapRealtime == nil {
		return true
	}
	return *c.PcapRealtime
}

// LinkTiming returns the supervisor timing with defaults filled in.
func (c *Config) LinkTiming() link.Timing {
	d := link.DefaultTiming()
	return link.Timing{
		DiscoveryTimeout:  durationOr(c.DiscoveryTimeout, d.DiscoveryTimeout),
		RetryDelay:        durationOr(c.RetryDelay, d.RetryDelay),
		MaxRetries:        intOr(c.MaxRetries, d.MaxRetries),
		HeartbeatInterval: durationOr(c.HeartbeatInterval, d.HeartbeatInterval),
		MaxMissedTicks:    intOr(c.MaxMissedTicks, d.MaxMissedTicks),
		HeartbeatTimeout:  durationOr(c.HeartbeatTimeout, d.HeartbeatTimeout),
		MaxReadErrors:     intOr(c.MaxReadErrors, d.MaxReadErrors),
		IdleSleep:         d.IdleSleep,
	}
}

// ControlSettings returns the control loop settings with defaults filled in.
func (c *Config) ControlSettings() control.Settings {
	d := control.DefaultSettings()
	deadband := float32Or(c.Deadband, d.Deadband)
	if deadband == 0 {
		deadband = control.NoDeadband
	}
	return control.Settings{
		Tick:        durationOr(c.ControlTick, d.Tick),
		Deadband:    deadband,
		MaxOutput:   float32Or(c.MaxOutput, d.MaxOutput),
		StickyStep:  float32Or(c.StickyStep, d.StickyStep),
		AutoStep:    float32Or(c.AutoStep, d.AutoStep),
		AutoCeiling: float32Or(c.AutoCeiling, d.AutoCeiling),
	}
}

// GetBufferCapacity returns the telemetry history length (25 by default).
func (c *Config) GetBufferCapacity() int { return intOr(c.BufferCapacity, 25) }

// GetStatusCapacity returns the status log length (50 by default).
func (c *Config) GetStatusCapacity() int { return intOr(c.StatusCapacity, 50) }

// GetAttitudeInterval returns the attitude sample gate; 0 keeps every sample.
func (c *Config) GetAttitudeInterval() time.Duration { return durationOr(c.AttitudeInterval, 0) }

// GetAltitudeInterval returns the altitude sample gate; 0 keeps every sample.
func (c *Config) GetAltitudeInterval() time.Duration { return durationOr(c.AltitudeInterval, 0) }

func (c *Config) GetSessionsDir() string { return stringOr(c.SessionsDir, "DroneSessions") }
func (c *Config) GetCatalogPath() string { return stringOr(c.CatalogPath, "groundlink.db") }

func (c *Config) GetParamRequestDelay() time.Duration {
	return durationOr(c.ParamRequestDelay, time.Second)
}

func (c *Config) GetParamRefreshDelay() time.Duration {
	return durationOr(c.ParamRefreshDelay, 2500*time.Millisecond)
}

func (c *Config) GetListenAddr() string { return stringOr(c.ListenAddr, "localhost:8090") }
