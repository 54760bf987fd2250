// Package config loads the castkit settings file and turns it into device
// options.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"go2tv.app/castkit/devices"
	"go2tv.app/castkit/internal/connect"
)

type Sender struct {
	DisplayName string `mapstructure:"displayName"`
	AppName     string `mapstructure:"appName"`
	AppVersion  string `mapstructure:"appVersion"`
}

type Reconnect struct {
	Interval time.Duration `mapstructure:"interval"`
	// MaxRetries below zero retries forever.
	MaxRetries     int           `mapstructure:"maxRetries"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

type AirPlay struct {
	FeedbackInterval time.Duration `mapstructure:"feedbackInterval"`
	StatusInterval   time.Duration `mapstructure:"statusInterval"`
}

type Log struct {
	Level string `mapstructure:"level"`
	// File receives JSON log lines. Empty discards them.
	File string `mapstructure:"file"`
}

type Config struct {
	Sender    Sender    `mapstructure:"sender"`
	Reconnect Reconnect `mapstructure:"reconnect"`
	AirPlay   AirPlay   `mapstructure:"airplay"`
	Log       Log       `mapstructure:"log"`
}

// Default returns the settings used when the file is missing.
func Default() *Config {
	return &Config{
		Sender: Sender{AppName: "castkit", AppVersion: "dev"},
		Reconnect: Reconnect{
			Interval:       time.Second,
			MaxRetries:     5,
			ConnectTimeout: connect.DefaultTimeout,
		},
		AirPlay: AirPlay{
			FeedbackInterval: 2 * time.Second,
			StatusInterval:   time.Second,
		},
		Log: Log{Level: zerolog.InfoLevel.String()},
	}
}

// GetAppConfig loads the settings file from the user config directory.
func GetAppConfig() (*Config, error) {
	path, err := AppPath()
	if err != nil {
		return nil, fmt.Errorf("GetAppConfig: failed to access config path due to error %w", err)
	}
	return Load(path)
}

// AppPath is <UserConfigDir>/castkit/settings.yaml.
func AppPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("appPath: failed to get config dir due to error %w", err)
	}
	return filepath.Join(oscfg, "castkit", "settings.yaml"), nil
}

// Load reads path over the defaults. A missing file is created holding
// the defaults.
func Load(path string) (*Config, error) {
	conf := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Load: failed to open config due to error %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("Load: failed to create default path due to error %w", err)
		}
		if err := conf.Save(path); err != nil {
			return nil, err
		}
		return conf, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("Load: failed to parse config due to error %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      conf,
	})
	if err != nil {
		return nil, fmt.Errorf("Load: decoder error %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("Load: failed to decode config due to error %w", err)
	}

	if _, err := zerolog.ParseLevel(conf.Log.Level); err != nil {
		return nil, fmt.Errorf("Load: log level error %w", err)
	}
	return conf, nil
}

// Save writes c to path as YAML with human readable durations.
func (c *Config) Save(path string) error {
	doc := map[string]any{
		"sender": map[string]any{
			"displayName": c.Sender.DisplayName,
			"appName":     c.Sender.AppName,
			"appVersion":  c.Sender.AppVersion,
		},
		"reconnect": map[string]any{
			"interval":       c.Reconnect.Interval.String(),
			"maxRetries":     c.Reconnect.MaxRetries,
			"connectTimeout": c.Reconnect.ConnectTimeout.String(),
		},
		"airplay": map[string]any{
			"feedbackInterval": c.AirPlay.FeedbackInterval.String(),
			"statusInterval":   c.AirPlay.StatusInterval.String(),
		},
		"log": map[string]any{
			"level": c.Log.Level,
			"file":  c.Log.File,
		},
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("SaveAppConfig: failed to marshal yaml due to error %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("SaveAppConfig: failed save config due to error %w", err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Logger builds the logger the settings ask for. The returned closer
// releases the log file.
func (c *Config) Logger() (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("Logger: log level error %w", err)
	}
	if c.Log.File == "" {
		return zerolog.Nop(), nopCloser{}, nil
	}

	f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("Logger: failed to open log file due to error %w", err)
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), f, nil
}

// DeviceOptions maps the settings onto device options.
func (c *Config) DeviceOptions(logger zerolog.Logger) []devices.Option {
	return []devices.Option{
		devices.WithLogger(logger),
		devices.WithSenderInfo(devices.SenderInfo{
			DisplayName: c.Sender.DisplayName,
			AppName:     c.Sender.AppName,
			AppVersion:  c.Sender.AppVersion,
		}),
		devices.WithReconnect(c.Reconnect.Interval, c.Reconnect.MaxRetries),
		devices.WithConnectTimeout(c.Reconnect.ConnectTimeout),
		devices.WithFeedbackInterval(c.AirPlay.FeedbackInterval),
		devices.WithStatusInterval(c.AirPlay.StatusInterval),
	}
}
