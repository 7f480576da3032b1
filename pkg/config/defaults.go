package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittomount/internal/protocol/lockdown"
)

// Default values
const (
	DefaultLabel           = "dittomount"
	DefaultDialTimeout     = 10 * time.Second
	DefaultUploadChunkSize = 64 * 1024
	DefaultMetricsPort     = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced, explicit values are preserved. The device
// address and pairing record have no default.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDeviceDefaults(&cfg.Device)
	applyConnectionDefaults(&cfg.Connection)
	applyImagesDefaults(&cfg.Images)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.LockdownPort == 0 {
		cfg.LockdownPort = lockdown.Port
	}
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
}

func applyConnectionDefaults(cfg *ConnectionConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.UploadChunkSize == 0 {
		cfg.UploadChunkSize = DefaultUploadChunkSize
	}
}

func applyImagesDefaults(cfg *ImagesConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Type == "filesystem" {
		if cfg.Filesystem == nil {
			cfg.Filesystem = make(map[string]any)
		}
		if _, ok := cfg.Filesystem["path"]; !ok {
			cfg.Filesystem["path"] = "."
		}
	}

	if cfg.Type == "s3" {
		if cfg.S3 == nil {
			cfg.S3 = make(map[string]any)
		}
		if _, ok := cfg.S3["max_retries"]; !ok {
			cfg.S3["max_retries"] = 10
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a complete sample configuration.
//
// Address and pairing record are placeholders a user is expected to edit.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Device: DeviceConfig{
			Address:       "127.0.0.1",
			PairingRecord: "pairing.plist",
		},
		Images: ImagesConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": "images"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
