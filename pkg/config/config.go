package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/framing"
	"github.com/glas/wqconnect/internal/listener"
	"github.com/glas/wqconnect/internal/store"
)

// GLAS probe identifiers.
const (
	// MainServiceUUID is the Nordic UART service the MAIN probe advertises.
	MainServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	// WakeServiceUUID is the service advertised by the WAKE probe.
	WakeServiceUUID = "6E400101-B5A3-F393-E0A9-E50E24DCCA9E"
	// TelemetryCharUUID is the notifying TX characteristic.
	TelemetryCharUUID = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	ScanWindow      time.Duration `yaml:"scan_window" default:"2s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"2500ms"`

	ServiceUUIDs       []string `yaml:"service_uuids"`
	CharacteristicUUID string   `yaml:"characteristic_uuid" default:"6E400003-B5A3-F393-E0A9-E50E24DCCA9E"`

	RawCapacity   int    `yaml:"raw_capacity" default:"5000"`
	EntryCapacity int    `yaml:"entry_capacity" default:"25000"`
	QueueSize     uint32 `yaml:"queue_size" default:"1024"`
	FrameMode     string `yaml:"frame_mode" default:"notification"`
	MaxLineLength int    `yaml:"max_line_length" default:"512"`

	ClearOnDisconnect bool `yaml:"clear_on_disconnect" default:"true"`
	StampSequence     bool `yaml:"stamp_sequence" default:"false"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	if len(cfg.ServiceUUIDs) == 0 {
		cfg.ServiceUUIDs = []string{MainServiceUUID, WakeServiceUUID}
	}
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Parse(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays YAML data on cfg and validates the result.
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return c.Validate()
}

// Validate checks value ranges and normalizes UUIDs.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("scan_window must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	if c.RawCapacity <= 0 || c.EntryCapacity <= 0 {
		return fmt.Errorf("buffer capacities must be positive")
	}
	if c.QueueSize == 0 || c.QueueSize > listener.MaxQueueSize {
		return fmt.Errorf("queue_size must be in 1..%d", listener.MaxQueueSize)
	}
	if _, err := framing.ParseMode(c.FrameMode); err != nil {
		return err
	}
	if len(c.ServiceUUIDs) == 0 {
		return fmt.Errorf("at least one service UUID is required")
	}
	if _, err := device.ValidateUUID(c.ServiceUUIDs...); err != nil {
		return fmt.Errorf("service_uuids: %w", err)
	}
	if _, err := device.ValidateUUID(c.CharacteristicUUID); err != nil {
		return fmt.Errorf("characteristic_uuid: %w", err)
	}
	return nil
}

// ParseLogLevel accepts debug, info, warn(ing) and error.
func ParseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: use debug, info, warn or error", s)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// StoreOptions sizes the telemetry store.
func (c *Config) StoreOptions() store.Options {
	return store.Options{RawCapacity: c.RawCapacity, EntryCapacity: c.EntryCapacity}
}

// ListenerOptions configures the notification listener. FrameMode must have
// passed Validate.
func (c *Config) ListenerOptions() listener.Options {
	mode, _ := framing.ParseMode(c.FrameMode)
	return listener.Options{
		QueueSize:     c.QueueSize,
		FrameMode:     mode,
		MaxLineLength: c.MaxLineLength,
	}
}
