package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittosync/pkg/adapter/arp"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

content:
  type: "filesystem"
  filesystem:
    path: "/srv/assets"

provider:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Provider.Port != arp.DefaultPort {
		t.Errorf("Expected default provider port %d, got %d", arp.DefaultPort, cfg.Provider.Port)
	}
	if cfg.Content.Filesystem["path"] != "/srv/assets" {
		t.Errorf("Expected filesystem path from file, got %v", cfg.Content.Filesystem["path"])
	}
	if cfg.Checksum.Type != "memory" {
		t.Errorf("Expected default checksum type 'memory', got %q", cfg.Checksum.Type)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path that does not exist keeps the user's own config out of the test
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected default content type 'filesystem', got %q", cfg.Content.Type)
	}
	if !cfg.Provider.Enabled {
		t.Error("Expected provider enabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
content:
  type: "tape"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for unknown content type, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[content]
type = "memory"

[provider]
enabled = true
port = 7500
idle_timeout = "90s"

[requester]
address = "assets.example.com:7400"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Provider.Port != 7500 {
		t.Errorf("Expected port 7500, got %d", cfg.Provider.Port)
	}
	if cfg.Provider.IdleTimeout != 90*time.Second {
		t.Errorf("Expected idle timeout 90s, got %v", cfg.Provider.IdleTimeout)
	}
	if cfg.Requester.Address != "assets.example.com:7400" {
		t.Errorf("Expected requester address, got %q", cfg.Requester.Address)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected default content type 'filesystem', got %q", cfg.Content.Type)
	}
	if cfg.Checksum.Type != "memory" {
		t.Errorf("Expected default checksum type 'memory', got %q", cfg.Checksum.Type)
	}
	if !cfg.Provider.Enabled {
		t.Error("Expected provider enabled by default")
	}
	if cfg.Provider.Port != 7400 {
		t.Errorf("Expected default provider port 7400, got %d", cfg.Provider.Port)
	}
	if cfg.Requester.DialTimeout != 10*time.Second {
		t.Errorf("Expected default dial timeout 10s, got %v", cfg.Requester.DialTimeout)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty config home")
	}

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := GetConfigDir()
	if dir != filepath.Join(xdg, "dittosync") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "dittosync"), dir)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOSYNC_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSYNC_PROVIDER_PORT", "7555")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

provider:
  enabled: true
  port: 7400
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Provider.Port != 7555 {
		t.Errorf("Expected port 7555 from env var, got %d", cfg.Provider.Port)
	}
}

func TestLoad_EnvironmentWithoutFileKey(t *testing.T) {
	t.Setenv("DITTOSYNC_REQUESTER_ADDRESS", "10.0.0.5:7400")
	t.Setenv("DITTOSYNC_PROVIDER_NOT_FOUND_REPLY", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Requester.Address != "10.0.0.5:7400" {
		t.Errorf("Expected requester address from env var, got %q", cfg.Requester.Address)
	}
	if !cfg.Provider.NotFoundReply {
		t.Error("Expected not_found_reply from env var")
	}
}
