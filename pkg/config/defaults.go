package config

import "strings"

// ApplyDefaults fills unset fields with sensible defaults. Zero values
// are replaced; explicit values are preserved. Backend-specific
// defaults (block sizes and the like) live with the backends.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Device.Type == "" {
		cfg.Device.Type = "file"
	}
	if cfg.Device.File == nil {
		cfg.Device.File = make(map[string]any)
	}
	if cfg.Device.Memory == nil {
		cfg.Device.Memory = make(map[string]any)
	}
	if cfg.Device.Badger == nil {
		cfg.Device.Badger = make(map[string]any)
	}
	if cfg.Device.S3 == nil {
		cfg.Device.S3 = make(map[string]any)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9134"
	}
}
