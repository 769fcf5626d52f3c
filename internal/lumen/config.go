package lumen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lumen/pkg/rtsp"
	"lumen/pkg/timecode"
)

type Config struct {
	RTSP    RTSPConfig    `yaml:"rtsp"`
	Stream  StreamConfig  `yaml:"stream"`
	Capture CaptureConfig `yaml:"capture"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

type RTSPConfig struct {
	Port            int    `yaml:"port"`
	StreamPath      string `yaml:"stream_path"`
	MJPEGPath       string `yaml:"mjpeg_path"`
	MaxSessions     int    `yaml:"max_sessions"`
	TransportPolicy string `yaml:"transport_policy"` // udp-only | fallback | force-interleaved
	SessionTimeout  int    `yaml:"session_timeout"`  // seconds

	MaxRetries     int `yaml:"max_retries"`
	RetryDelayMs   int `yaml:"retry_delay_ms"`
	ResetThreshold int `yaml:"reset_threshold"`
	ResetDelayMs   int `yaml:"reset_delay_ms"`

	PacketSizeUDP         int `yaml:"packet_size_udp"`
	PacketSizeInterleaved int `yaml:"packet_size_interleaved"`
}

type StreamConfig struct {
	FPS              int    `yaml:"fps"`
	MinFPS           int    `yaml:"min_fps"`
	AdaptiveRate     bool   `yaml:"adaptive_rate"`
	ErrorThreshold   int    `yaml:"error_threshold"`
	RateAdjustPeriod int    `yaml:"rate_adjust_period"` // seconds
	ClockRate        int    `yaml:"clock_rate"`
	TimecodeMode     string `yaml:"timecode_mode"` // basic | advanced | expert
	ForceMonotonic   bool   `yaml:"force_monotonic"`
	NTPServer        string `yaml:"ntp_server"`
	ClockMetadata    bool   `yaml:"clock_metadata"`
	MJPEGMetadata    bool   `yaml:"mjpeg_metadata"`
}

type CaptureConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Quality int `yaml:"quality"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from yaml file
func LoadConfig() (*Config, error) {
	configPath := filepath.Join("configs", "default.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills the deployment defaults for anything the file
// leaves unset.
func (c *Config) applyDefaults() {
	if c.RTSP.StreamPath == "" {
		c.RTSP.StreamPath = "/stream=0"
	}
	if c.RTSP.MJPEGPath == "" {
		c.RTSP.MJPEGPath = "/mjpeg"
	}
	if c.RTSP.MaxSessions == 0 {
		c.RTSP.MaxSessions = rtsp.MaxSessions
	}
	if c.RTSP.TransportPolicy == "" {
		c.RTSP.TransportPolicy = "fallback"
	}
	if c.RTSP.SessionTimeout == 0 {
		c.RTSP.SessionTimeout = 60
	}
	if c.RTSP.MaxRetries == 0 {
		c.RTSP.MaxRetries = 2
	}
	if c.RTSP.RetryDelayMs == 0 {
		c.RTSP.RetryDelayMs = 10
	}
	if c.RTSP.ResetThreshold == 0 {
		c.RTSP.ResetThreshold = 10
	}
	if c.RTSP.ResetDelayMs == 0 {
		c.RTSP.ResetDelayMs = 5000
	}
	if c.RTSP.PacketSizeUDP == 0 {
		c.RTSP.PacketSizeUDP = 600
	}
	if c.RTSP.PacketSizeInterleaved == 0 {
		c.RTSP.PacketSizeInterleaved = 1400
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = 15
	}
	if c.Stream.MinFPS == 0 {
		c.Stream.MinFPS = 10
	}
	if c.Stream.ErrorThreshold == 0 {
		c.Stream.ErrorThreshold = 5
	}
	if c.Stream.RateAdjustPeriod == 0 {
		c.Stream.RateAdjustPeriod = 5
	}
	if c.Stream.ClockRate == 0 {
		c.Stream.ClockRate = 90000
	}
	if c.Stream.TimecodeMode == "" {
		c.Stream.TimecodeMode = "advanced"
	}
	if c.Capture.Width == 0 {
		c.Capture.Width = 640
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = 480
	}
	if c.Capture.Quality == 0 {
		c.Capture.Quality = 60
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.Path == "" {
		c.HTTP.Path = "/mjpeg"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.RTSP.Port <= 0 || c.RTSP.Port > 65535 {
		return fmt.Errorf("invalid rtsp port: %d (must be between 1-65535)", c.RTSP.Port)
	}

	if !strings.HasPrefix(c.RTSP.StreamPath, "/") {
		return fmt.Errorf("invalid stream_path: %s (must start with /)", c.RTSP.StreamPath)
	}

	if _, err := c.transportPolicy(); err != nil {
		return err
	}

	if c.RTSP.MaxSessions <= 0 {
		return fmt.Errorf("invalid max_sessions: %d (must be positive)", c.RTSP.MaxSessions)
	}

	if c.Stream.MinFPS > c.Stream.FPS {
		return fmt.Errorf("invalid min_fps: %d (must not exceed fps %d)", c.Stream.MinFPS, c.Stream.FPS)
	}

	if _, err := c.timecodeMode(); err != nil {
		return err
	}

	minPacket := 12 + 8 + 1 // media header, fragmentation header, at least one payload byte
	if c.RTSP.PacketSizeUDP < minPacket || c.RTSP.PacketSizeInterleaved < minPacket {
		return fmt.Errorf("packet size too small (must be at least %d bytes)", minPacket)
	}

	if c.Capture.Quality <= 0 || c.Capture.Quality > 100 {
		return fmt.Errorf("invalid capture quality: %d (must be between 1-100)", c.Capture.Quality)
	}

	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("invalid http port: %d (must be between 1-65535)", c.HTTP.Port)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// transportPolicy parses the configured transport policy.
func (c *Config) transportPolicy() (rtsp.TransportPolicy, error) {
	switch strings.ToLower(c.RTSP.TransportPolicy) {
	case "udp-only":
		return rtsp.PolicyUDPOnly, nil
	case "fallback":
		return rtsp.PolicyFallback, nil
	case "force-interleaved":
		return rtsp.PolicyForceInterleaved, nil
	default:
		return 0, fmt.Errorf("invalid transport_policy: %s (must be udp-only, fallback or force-interleaved)", c.RTSP.TransportPolicy)
	}
}

// timecodeMode parses the configured timecode mode.
func (c *Config) timecodeMode() (timecode.Mode, error) {
	switch strings.ToLower(c.Stream.TimecodeMode) {
	case "basic":
		return timecode.ModeBasic, nil
	case "advanced":
		return timecode.ModeAdvanced, nil
	case "expert":
		return timecode.ModeExpert, nil
	default:
		return 0, fmt.Errorf("invalid timecode_mode: %s (must be basic, advanced or expert)", c.Stream.TimecodeMode)
	}
}

// StreamConfig assembles the per-session stream configuration handed to
// the RTSP server. Validation has already run, so the parses cannot
// fail here.
func (c *Config) RTSPStreamConfig() rtsp.StreamConfig {
	policy, _ := c.transportPolicy()
	mode, _ := c.timecodeMode()

	return rtsp.StreamConfig{
		StreamPath:       c.RTSP.StreamPath,
		MJPEGPath:        c.RTSP.MJPEGPath,
		ServerName:       rtsp.DefaultServerName,
		Address:          "0.0.0.0",
		FrameRate:        c.Stream.FPS,
		MinFrameRate:     c.Stream.MinFPS,
		AdaptiveRate:     c.Stream.AdaptiveRate,
		ErrorThreshold:   c.Stream.ErrorThreshold,
		RateAdjustPeriod: time.Duration(c.Stream.RateAdjustPeriod) * time.Second,
		Quality:          uint8(c.Capture.Quality),
		Width:            c.Capture.Width,
		Height:           c.Capture.Height,

		PacketSizeUDP:         c.RTSP.PacketSizeUDP,
		PacketSizeInterleaved: c.RTSP.PacketSizeInterleaved,

		Policy: policy,
		Delivery: rtsp.DeliveryConfig{
			MaxRetries:     c.RTSP.MaxRetries,
			RetryDelay:     time.Duration(c.RTSP.RetryDelayMs) * time.Millisecond,
			ResetThreshold: c.RTSP.ResetThreshold,
			ResetDelay:     time.Duration(c.RTSP.ResetDelayMs) * time.Millisecond,
		},

		Timecode: timecode.Options{
			Mode:           mode,
			ClockRate:      uint32(c.Stream.ClockRate),
			FrameRate:      uint32(c.Stream.FPS),
			ForceMonotonic: c.Stream.ForceMonotonic,
			NTPServer:      c.Stream.NTPServer,
		},
		ClockMetadata: c.Stream.ClockMetadata,
		MJPEGMetadata: c.Stream.MJPEGMetadata,

		SessionTimeout: time.Duration(c.RTSP.SessionTimeout) * time.Second,
	}
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
