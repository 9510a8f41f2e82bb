// Package config provides configuration management for vpnd-client.
// It handles loading, saving, and overriding client settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpnd-client/common"
)

// Environment variables that override the file.
const (
	EnvSocket      = "VPND_SOCKET"
	EnvLogLevel    = "VPND_LOG_LEVEL"
	EnvMetricsAddr = "VPND_METRICS_ADDR"
)

// Config represents the client configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// SocketPath is the daemon's management socket.
	SocketPath string `yaml:"socket_path"`
	// DialTimeout bounds the connect handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// CallTimeout bounds each management call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Reconnect is the backoff used after the daemon goes away.
	Reconnect ReconnectConfig `yaml:"reconnect"`
	// QueueSize is the number of snapshots buffered per consumer.
	QueueSize int `yaml:"queue_size"`
	// WatchSocket reconnects as soon as the daemon socket reappears.
	WatchSocket bool `yaml:"watch_socket"`
	// Log configures the application log.
	Log LogConfig `yaml:"log"`
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9321".
	MetricsAddr string `yaml:"metrics_addr"`
	// ShowNotifications enables desktop notifications for tunnel changes.
	ShowNotifications bool `yaml:"show_notifications"`
	// RememberAccount stores the account number in the system keyring on login.
	RememberAccount bool `yaml:"remember_account"`
	// Theme sets the terminal color theme: "light", "dark", or "auto".
	Theme string `yaml:"theme"`

	path string
}

// ReconnectConfig is the reconnect backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// File also writes the log to the config directory, with rotation.
	File bool `yaml:"file"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:  common.DefaultSocketPath,
		DialTimeout: common.DialTimeout,
		CallTimeout: common.ManagementTimeout,
		Reconnect: ReconnectConfig{
			InitialDelay: common.ReconnectInitialDelay,
			MaxDelay:     common.ReconnectMaxDelay,
		},
		QueueSize:         common.SubscriberQueueSize,
		WatchSocket:       true,
		Log:               LogConfig{Level: "info"},
		ShowNotifications: true,
		RememberAccount:   false,
		Theme:             "auto",
	}
}

// Load loads the configuration from the default config file, then applies
// environment overrides. A .env file in the config directory or the working
// directory is read first; variables already set take precedence.
func Load() (*Config, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	loadDotEnv(filepath.Join(configDir, ".env"), ".env")
	return LoadFrom(filepath.Join(configDir, common.ConfigFileName))
}

// LoadFrom loads the configuration from path.
// If the file doesn't exist, it creates one with default values.
func LoadFrom(path string) (*Config, error) {
	// If it doesn't exist, return default configuration
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = path
		err := cfg.Save()
		cfg.applyEnv()
		if err != nil {
			return cfg, common.WrapError(common.ErrConfigSave, err.Error())
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, path, err)
	}
	config.path = path

	// Validate values
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.applyEnv()

	return config, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if !common.FileExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			common.LogWarn("Ignoring %s: %v", p, err)
		}
	}
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		c.SocketPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		c.MetricsAddr = v
	}
}

// validate verifies that configuration values are valid, falling back to
// defaults where they are not.
func (c *Config) validate() error {
	defaults := DefaultConfig()

	if c.SocketPath == "" {
		c.SocketPath = defaults.SocketPath
	}
	if !filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("socket_path must be absolute, got %q", c.SocketPath)
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = defaults.Reconnect.InitialDelay
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = defaults.Reconnect.MaxDelay
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		c.Reconnect.MaxDelay = c.Reconnect.InitialDelay
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.Log.Level)) {
		c.Log.Level = defaults.Log.Level
	}

	validThemes := []string{"auto", "light", "dark"}
	if !slices.Contains(validThemes, c.Theme) {
		c.Theme = "auto" // Fallback to default
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() common.LogLevel {
	return common.ParseLogLevel(c.Log.Level)
}

// Save saves the configuration to the file
func (c *Config) Save() error {
	if c.path == "" {
		configDir, err := common.GetConfigDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(configDir, common.ConfigFileName)
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}
