package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittosync/pkg/adapter/arp"
	"github.com/marmos91/dittosync/pkg/client"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyContentDefaults(&cfg.Content)
	applyChecksumDefaults(&cfg.Checksum)
	applyProviderDefaults(&cfg.Provider)
	applyRequesterDefaults(&cfg.Requester)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	// Initialize maps if nil
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/dittosync-content"
	}
	if _, ok := cfg.Filesystem["read_only"]; !ok {
		cfg.Filesystem["read_only"] = false
	}
	if _, ok := cfg.Memory["read_only"]; !ok {
		cfg.Memory["read_only"] = false
	}
}

// applyChecksumDefaults sets checksum cache defaults.
func applyChecksumDefaults(cfg *ChecksumConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(getConfigDir(), "checksums")
	}
}

// applyProviderDefaults sets provider listener defaults.
func applyProviderDefaults(cfg *arp.ARPConfig) {
	// Enable the provider by default if it looks unconfigured (Port is 0).
	// Users can explicitly set enabled: false together with a port to keep
	// it off; fetch and push never start it anyway.
	if !cfg.Enabled && cfg.Port == 0 {
		cfg.Enabled = true
	}

	if cfg.Port == 0 {
		cfg.Port = arp.DefaultPort
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyRequesterDefaults sets requester defaults.
func applyRequesterDefaults(cfg *client.Config) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Content: ContentConfig{
			Filesystem: make(map[string]any),
			Memory:     make(map[string]any),
		},
		Checksum: ChecksumConfig{
			Badger: make(map[string]any),
		},
		Provider: arp.ARPConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
