// Package config loads, defaults and validates the ntfsbridge
// configuration, and provides the factory that turns a device section
// into a live block device.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete ntfsbridge configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NTFSBRIDGE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Device Configuration Pattern:
// The Device section selects a block-device backend by type; only the
// type-specific subsection matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Driver contains mount-policy settings
	Driver DriverConfig `mapstructure:"driver"`

	// Device selects the block-device backend and its settings
	Device DeviceConfig `mapstructure:"device"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: EXTRA, DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=EXTRA DEBUG INFO WARN ERROR extra debug info warn error"`
}

// DriverConfig contains mount-policy settings.
type DriverConfig struct {
	// ReadOnly mounts every volume without write support.
	ReadOnly bool `mapstructure:"read_only"`

	// IgnoreHibernation mounts volumes carrying a hibernation image
	// instead of refusing them. Writing to such a volume discards the
	// hibernated state, so this defaults to off.
	IgnoreHibernation bool `mapstructure:"ignore_hibernation"`
}

// DeviceConfig selects the block-device backend.
//
// The Type field determines which backend is used; only the
// corresponding type-specific section is read.
type DeviceConfig struct {
	// Type specifies the backend.
	// Valid values: file, memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=file memory badger s3"`

	// File contains disk-image settings. Only used when Type = "file".
	File map[string]any `mapstructure:"file"`

	// Memory contains RAM-disk settings. Only used when Type = "memory".
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB settings. Only used when Type = "badger".
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains object-storage settings. Only used when Type = "s3".
	S3 map[string]any `mapstructure:"s3"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the endpoint on.
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address the endpoint binds to.
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// Load reads, defaults and validates the configuration.
//
// An empty configPath uses the default location and treats a missing
// file as "all defaults".
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: NTFSBRIDGE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NTFSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config file just means defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME if
// set, otherwise ~/.config, with the current directory as last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ntfsbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ntfsbridge")
}
