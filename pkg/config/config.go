package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittomount configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMOUNT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Image sources follow the store pattern: Images.Type selects an
// implementation and only the matching type-specific section is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Device identifies the target device and its pairing record
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Connection tunes the transport to the device
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`

	// Images selects where image files are read from
	Images ImagesConfig `mapstructure:"images" yaml:"images"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// DeviceConfig identifies the device to talk to.
type DeviceConfig struct {
	// Address is the device host name or IP (e.g. a tunnel endpoint)
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname|ip"`

	// LockdownPort is the lockdown service port (default 62078)
	LockdownPort uint16 `mapstructure:"lockdown_port" yaml:"lockdown_port" validate:"required"`

	// Label is the host program name sent with lockdown requests
	Label string `mapstructure:"label" yaml:"label" validate:"required"`

	// PairingRecord is the path of the host pairing record plist
	PairingRecord string `mapstructure:"pairing_record" yaml:"pairing_record" validate:"required"`
}

// ConnectionConfig tunes every channel opened to the device.
type ConnectionConfig struct {
	// DialTimeout bounds each TCP connect
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`

	// ReadTimeout bounds each read; 0 disables the limit
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds each write; 0 disables the limit
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// UploadRateLimit caps image upload throughput in bytes/s; 0 is unlimited
	UploadRateLimit uint `mapstructure:"upload_rate_limit" yaml:"upload_rate_limit"`

	// UploadChunkSize is the size of each raw image write
	UploadChunkSize int `mapstructure:"upload_chunk_size" yaml:"upload_chunk_size" validate:"gte=512,lte=16777216"`
}

// ImagesConfig specifies the image source.
//
// The Type field determines which source implementation is used.
// Only the corresponding type-specific configuration section is used.
type ImagesConfig struct {
	// Type specifies which image source implementation to use
	// Valid values: filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// envKeys lists every leaf key that may be set purely from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"device.address",
	"device.lockdown_port",
	"device.label",
	"device.pairing_record",
	"connection.dial_timeout",
	"connection.read_timeout",
	"connection.write_timeout",
	"connection.upload_rate_limit",
	"connection.upload_chunk_size",
	"images.type",
	"metrics.enabled",
	"metrics.port",
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMOUNT_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

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

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) error {
	// Example: DITTOMOUNT_DEVICE_ADDRESS=10.0.0.5
	v.SetEnvPrefix("DITTOMOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dittomount/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomount")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomount")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
