// Package config loads the application configuration from a YAML file,
// environment variables and defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
)

// EnvPrefix prefixes environment overrides, e.g. K7SWEEP_SERIAL_PORT.
const EnvPrefix = "K7SWEEP"

// DefaultConfigPath is used when no --config flag is given.
var DefaultConfigPath = os.ExpandEnv("$HOME/.config/k7sweep.yaml")

// SessionDefaults is the configuration new sessions start with.
type SessionDefaults struct {
	ScanType string  `mapstructure:"scan_type" yaml:"scan_type"`
	Gain     int     `mapstructure:"gain" yaml:"gain"`
	Speed    float64 `mapstructure:"speed" yaml:"speed"`
}

// SerialConfig selects the sensor port.
type SerialConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	SlowBaud bool   `mapstructure:"slow_baud" yaml:"slow_baud"`
}

// AppConfig is the effective configuration.
type AppConfig struct {
	DataRoot      string          `mapstructure:"data_root" yaml:"data_root"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	PatientName   string          `mapstructure:"patient_name" yaml:"patient_name"`
	CatalogPath   string          `mapstructure:"catalog_path" yaml:"catalog_path"`
	ModeTypePath  string          `mapstructure:"mode_type_path" yaml:"mode_type_path"`
	TickInterval  time.Duration   `mapstructure:"tick_interval" yaml:"tick_interval"`
	PlaybackSpeed float64         `mapstructure:"playback_speed" yaml:"playback_speed"`
	QueueSize     int             `mapstructure:"queue_size" yaml:"queue_size"`
	Session       SessionDefaults `mapstructure:"session" yaml:"session"`
	Serial        SerialConfig    `mapstructure:"serial" yaml:"serial"`
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")
	state := filepath.Join(home, ".k7")
	v.SetDefault("data_root", filepath.Join(home, "K7", "patients"))
	v.SetDefault("state_dir", state)
	v.SetDefault("patient_name", "guest+patient")
	v.SetDefault("catalog_path", filepath.Join(state, "catalog.db"))
	v.SetDefault("mode_type_path", filepath.Join(state, "current_mode_type"))
	v.SetDefault("tick_interval", 80*time.Millisecond)
	v.SetDefault("playback_speed", 1.0)
	v.SetDefault("queue_size", sweep.DefaultQueueSize)
	v.SetDefault("session.scan_type", sweep.ScanAPPitch.String())
	v.SetDefault("session.gain", 45)
	v.SetDefault("session.speed", 1.0)
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.slow_baud", false)
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file is only an error when required is set.
func Load(path string, required bool) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
			if required || !missing {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *AppConfig) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("data_root must be set")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if _, err := sessionstore.PatientPath(c.DataRoot, c.PatientName); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.PlaybackSpeed <= 0 {
		return fmt.Errorf("playback_speed must be positive, got %g", c.PlaybackSpeed)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if _, err := c.SessionConfig(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// SessionConfig converts the session defaults.
func (c *AppConfig) SessionConfig() (sweep.SessionConfig, error) {
	st, err := sweep.ParseScanType(c.Session.ScanType)
	if err != nil {
		return sweep.SessionConfig{}, err
	}
	sc := sweep.SessionConfig{ScanType: st, Gain: c.Session.Gain, Speed: c.Session.Speed}
	return sc, sc.Validate()
}

// ArchiveDir is the session directory of the configured patient.
func (c *AppConfig) ArchiveDir() (string, error) {
	return sessionstore.PatientPath(c.DataRoot, c.PatientName)
}

type modeType struct {
	ShowSweepGraph bool `json:"show_sweep_graph"`
}

// LoadModeType reads the display mode document written by the front end and
// reports whether the sweep graph is shown.
func LoadModeType(fsys fsutil.FileSystem, path string) (bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return false, err
	}
	var m modeType
	if err := json.Unmarshal(data, &m); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return m.ShowSweepGraph, nil
}
