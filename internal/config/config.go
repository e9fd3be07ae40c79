// Package config loads framegrab configuration from an optional JSON5 file
// overlaid with environment variables. Environment always wins over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

const (
	DefaultIntervalMinutes   = 10
	DefaultMaxRetries        = 10
	DefaultAttemptTimeoutSec = 60
	DefaultConnectTimeoutSec = 60
	DefaultStreamTimeoutSec  = 30
	DefaultBlankThreshold    = 250
	DefaultVideoTimeoutSec   = 600
	DefaultPort              = 8080
)

// Config is the root configuration.
type Config struct {
	DataDir   string          `json:"data_dir"`
	Camera    CameraConfig    `json:"camera"`
	Capture   CaptureConfig   `json:"capture"`
	Gateway   GatewayConfig   `json:"gateway"`
	Auth      AuthConfig      `json:"auth"`
	FFmpeg    FFmpegConfig    `json:"ffmpeg"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tailscale TailscaleConfig `json:"tailscale"`
}

// CameraConfig addresses the remote camera service and the target device.
// Exactly one of BridgeURL or StreamURL should be set.
type CameraConfig struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	KeyringService string `json:"keyring_service,omitempty"` // OS keyring fallback for Password
	DeviceSN       string `json:"device_sn"`
	BridgeURL      string `json:"bridge_url,omitempty"` // ws:// URL of a camera bridge
	StreamURL      string `json:"stream_url,omitempty"` // fixed RTSP/HTTP stream, no handshake
	DeviceName     string `json:"device_name,omitempty"`
}

// CaptureConfig controls the capture cycle and its scheduling.
type CaptureConfig struct {
	IntervalMinutes   int    `json:"interval_minutes"`
	Schedule          string `json:"schedule,omitempty"` // 5-field cron expression, overrides interval
	MaxRetries        int    `json:"max_retries"`
	AttemptTimeoutSec int    `json:"attempt_timeout_sec"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec"`
	StreamTimeoutSec  int    `json:"stream_timeout_sec"`
	BlankThreshold    int    `json:"blank_threshold"`
	RunOnStart        bool   `json:"run_on_start"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	LoginRPM       int    `json:"login_rpm"`   // per-IP login attempts per minute, 0 disables
	LoginBurst     int    `json:"login_burst"` //
	ThumbCacheSize int    `json:"thumb_cache_size"`
}

// AuthConfig holds the authorized username → password mapping.
type AuthConfig struct {
	Users map[string]string `json:"users,omitempty"`
}

// FFmpegConfig locates the encoder used for frame grabs and timelapses.
type FFmpegConfig struct {
	Path            string `json:"path"`
	ExtraInputArgs  string `json:"extra_input_args,omitempty"` // shell-quoted, inserted before -i
	VideoTimeoutSec int    `json:"video_timeout_sec"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// TelemetryConfig configures OTLP span export (only with -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc or http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener (only with -tags tsnet).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	AuthKey   string `json:"-"`
	StateDir  string `json:"state_dir,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		DataDir: "./",
		Capture: CaptureConfig{
			IntervalMinutes:   DefaultIntervalMinutes,
			MaxRetries:        DefaultMaxRetries,
			AttemptTimeoutSec: DefaultAttemptTimeoutSec,
			ConnectTimeoutSec: DefaultConnectTimeoutSec,
			StreamTimeoutSec:  DefaultStreamTimeoutSec,
			BlankThreshold:    DefaultBlankThreshold,
			RunOnStart:        true,
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			LoginRPM:       10,
			LoginBurst:     5,
			ThumbCacheSize: 512,
		},
		Auth: AuthConfig{Users: map[string]string{}},
		FFmpeg: FFmpegConfig{
			Path:            "ffmpeg",
			VideoTimeoutSec: DefaultVideoTimeoutSec,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "framegrab",
		},
		Camera: CameraConfig{KeyringService: "framegrab"},
	}
}

// Load reads the config file at path (if it exists) and overlays the
// process environment.
func Load(path string) (*Config, error) {
	return LoadFrom(path, os.Environ())
}

// LoadFrom is Load with an explicit environment, in os.Environ() format.
func LoadFrom(path string, environ []string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, environ); err != nil {
		return nil, err
	}
	if cfg.Auth.Users == nil {
		cfg.Auth.Users = map[string]string{}
	}
	return cfg, nil
}

// Validate reports configuration that would prevent capture from working.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Camera.BridgeURL == "" && c.Camera.StreamURL == "" {
		return fmt.Errorf("one of camera.bridge_url or camera.stream_url is required")
	}
	if c.Camera.BridgeURL != "" && c.Camera.DeviceSN == "" {
		return fmt.Errorf("camera.device_sn is required with a bridge; copy the serial number from the device's About page in the vendor app")
	}
	if c.Capture.IntervalMinutes <= 0 && c.Capture.Schedule == "" {
		return fmt.Errorf("capture.interval_minutes must be positive")
	}
	if c.Capture.Schedule != "" && !gronx.New().IsValid(c.Capture.Schedule) {
		return fmt.Errorf("invalid capture.schedule: %s", c.Capture.Schedule)
	}
	if c.Capture.MaxRetries <= 0 {
		return fmt.Errorf("capture.max_retries must be positive")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

// ImageDir is where frames and thumbnails are stored.
func (c *Config) ImageDir() string { return filepath.Join(c.DataDir, "images") }

// WorkDir holds transient artifacts such as assembled videos.
func (c *Config) WorkDir() string { return filepath.Join(c.DataDir, "tmp") }

// FrameLogPath is the SQLite frame log.
func (c *Config) FrameLogPath() string { return filepath.Join(c.DataDir, "frames.db") }

// Interval returns the capture interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Capture.IntervalMinutes) * time.Minute
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Capture.AttemptTimeoutSec) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Capture.ConnectTimeoutSec) * time.Second
}

func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Capture.StreamTimeoutSec) * time.Second
}

func (c *Config) VideoTimeout() time.Duration {
	return time.Duration(c.FFmpeg.VideoTimeoutSec) * time.Second
}

// ListenAddr returns host:port for the HTTP gateway.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
