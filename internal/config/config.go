// Package config handles loading, defaulting, and validation of the operator
// console TOML configuration file. Every section maps to a typed struct so the
// rest of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server  ServerConfig  `toml:"server"  json:"server"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Streams StreamsConfig `toml:"streams" json:"streams"`
	Buffers BuffersConfig `toml:"buffers" json:"buffers"`
	Toasts  ToastsConfig  `toml:"toasts"  json:"toasts"`
	Polling PollingConfig `toml:"polling" json:"polling"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	Sim     SimConfig     `toml:"sim"     json:"sim"`
}

// ServerConfig locates the backend. WebSocket URLs are derived from BaseURL
// by mapping http to ws and https to wss.
type ServerConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
}

type LoggingConfig struct {
	// Output is "stdout", "stderr", "off", or a file path.
	Output string `toml:"output" json:"output"`
}

type StreamsConfig struct {
	TelemetryReconnectMS int `toml:"telemetry_reconnect_ms" json:"telemetry_reconnect_ms"`
	CameraReconnectMS    int `toml:"camera_reconnect_ms"    json:"camera_reconnect_ms"`
	LogReconnectMS       int `toml:"log_reconnect_ms"       json:"log_reconnect_ms"`
	HandshakeTimeoutMS   int `toml:"handshake_timeout_ms"   json:"handshake_timeout_ms"`
}

type BuffersConfig struct {
	TelemetryPoints int `toml:"telemetry_points" json:"telemetry_points"`
	LogEntries      int `toml:"log_entries"      json:"log_entries"`
}

type ToastsConfig struct {
	DurationMS int `toml:"duration_ms" json:"duration_ms"`
	MaxVisible int `toml:"max_visible" json:"max_visible"`
}

type PollingConfig struct {
	DiagnosticsSeconds int `toml:"diagnostics_seconds" json:"diagnostics_seconds"`
	InfoSeconds        int `toml:"info_seconds"        json:"info_seconds"`
	ControlSeconds     int `toml:"control_seconds"     json:"control_seconds"`
}

type MetricsConfig struct {
	// Bind is the address for the console's /metrics endpoint. Empty disables it.
	Bind string `toml:"bind" json:"bind"`
}

type SimConfig struct {
	Bind                string `toml:"bind"                  json:"bind"`
	TelemetryIntervalMS int    `toml:"telemetry_interval_ms" json:"telemetry_interval_ms"`
	CameraIntervalMS    int    `toml:"camera_interval_ms"    json:"camera_interval_ms"`
	LogIntervalMS       int    `toml:"log_interval_ms"       json:"log_interval_ms"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://127.0.0.1:8000",
		},
		Logging: LoggingConfig{
			Output: "stderr",
		},
		Streams: StreamsConfig{
			TelemetryReconnectMS: 2000,
			CameraReconnectMS:    3000,
			LogReconnectMS:       3000,
			HandshakeTimeoutMS:   5000,
		},
		Buffers: BuffersConfig{
			TelemetryPoints: 120,
			LogEntries:      600,
		},
		Toasts: ToastsConfig{
			DurationMS: 5000,
			MaxVisible: 4,
		},
		Polling: PollingConfig{
			DiagnosticsSeconds: 10,
			InfoSeconds:        30,
			ControlSeconds:     30,
		},
		Sim: SimConfig{
			Bind:                "0.0.0.0:8000",
			TelemetryIntervalMS: 500,
			CameraIntervalMS:    1000,
			LogIntervalMS:       1500,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, validate(cfg)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("server.base_url must be an absolute http(s) URL")
	}
	if cfg.Streams.TelemetryReconnectMS <= 0 {
		return errors.New("streams.telemetry_reconnect_ms must be > 0")
	}
	if cfg.Streams.CameraReconnectMS <= 0 {
		return errors.New("streams.camera_reconnect_ms must be > 0")
	}
	if cfg.Streams.LogReconnectMS <= 0 {
		return errors.New("streams.log_reconnect_ms must be > 0")
	}
	if cfg.Streams.HandshakeTimeoutMS <= 0 {
		return errors.New("streams.handshake_timeout_ms must be > 0")
	}
	if cfg.Buffers.TelemetryPoints < 1 {
		return errors.New("buffers.telemetry_points must be >= 1")
	}
	if cfg.Buffers.LogEntries < 1 {
		return errors.New("buffers.log_entries must be >= 1")
	}
	if cfg.Toasts.DurationMS <= 0 {
		return errors.New("toasts.duration_ms must be > 0")
	}
	if cfg.Toasts.MaxVisible < 1 {
		return errors.New("toasts.max_visible must be >= 1")
	}
	if cfg.Polling.DiagnosticsSeconds < 1 || cfg.Polling.InfoSeconds < 1 || cfg.Polling.ControlSeconds < 1 {
		return errors.New("polling intervals must be >= 1 second")
	}
	if cfg.Sim.TelemetryIntervalMS <= 0 || cfg.Sim.CameraIntervalMS <= 0 || cfg.Sim.LogIntervalMS <= 0 {
		return errors.New("sim intervals must be > 0")
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// TelemetryReconnect is the fixed delay before the telemetry socket redials.
func (s StreamsConfig) TelemetryReconnect() time.Duration { return ms(s.TelemetryReconnectMS) }

func (s StreamsConfig) CameraReconnect() time.Duration { return ms(s.CameraReconnectMS) }

func (s StreamsConfig) LogReconnect() time.Duration { return ms(s.LogReconnectMS) }

func (s StreamsConfig) HandshakeTimeout() time.Duration { return ms(s.HandshakeTimeoutMS) }

func (t ToastsConfig) Duration() time.Duration { return ms(t.DurationMS) }
