package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidContentType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Content.Type = "invalid"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid content type")
	}
}

func TestValidate_InvalidChecksumType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Checksum.Type = "redis"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown checksum cache type")
	}
}

func TestValidate_InvalidProviderPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Provider.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_EphemeralProviderPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Provider.Port = -1

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected -1 (ephemeral) to be accepted, got: %v", err)
	}

	cfg.Provider.Port = -2
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for port below -1")
	}
}

func TestValidate_NegativeMaxConnections(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Provider.MaxConnections = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative max_connections")
	}
}

func TestValidate_InvalidShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
	// Either 'required' or 'gt' is acceptable
	if !strings.Contains(err.Error(), "required") && !strings.Contains(err.Error(), "gt") {
		t.Errorf("Expected 'required' or 'gt' validation error, got: %v", err)
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Config)
	}{
		{"provider idle", func(c *Config) { c.Provider.IdleTimeout = -time.Second }},
		{"provider stall", func(c *Config) { c.Provider.StallTimeout = -time.Second }},
		{"provider write", func(c *Config) { c.Provider.WriteTimeout = -time.Second }},
		{"requester dial", func(c *Config) { c.Requester.DialTimeout = -time.Second }},
		{"requester idle", func(c *Config) { c.Requester.IdleTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.apply(cfg)

			if err := Validate(cfg); err == nil {
				t.Fatal("Expected validation error for negative timeout")
			}
		})
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Provider.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when metrics and provider share a port")
	}
	if !strings.Contains(err.Error(), "server.metrics.port") {
		t.Errorf("Expected error to name server.metrics.port, got: %v", err)
	}

	// No conflict while the provider is off
	cfg.Provider.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected no conflict with provider disabled, got: %v", err)
	}
}

func TestValidate_RequesterAddress(t *testing.T) {
	tests := []struct {
		address string
		valid   bool
	}{
		{"", true},
		{"127.0.0.1:7400", true},
		{"assets.example.com:7400", true},
		{"[::1]:7400", true},
		{"127.0.0.1", false},
		{":7400", false},
		{"host:0", false},
		{"host:http", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Requester.Address = tt.address

			err := Validate(cfg)
			if tt.valid && err != nil {
				t.Errorf("Expected %q to be valid, got: %v", tt.address, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected %q to be rejected", tt.address)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected level %q to be valid after normalization, got: %v", level, err)
		}
		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected level %q, got %q", strings.ToUpper(level), cfg.Logging.Level)
		}
	}
}
