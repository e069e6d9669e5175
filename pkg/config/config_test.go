package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/collabtree/collabd/pkg/adapter/collab"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "INFO"

directory:
  type: "memory"

adapters:
  collab:
    enabled: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

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
	if cfg.Adapters.Collab.Port != collab.DefaultPort {
		t.Errorf("Expected default COLLAB port %d, got %d", collab.DefaultPort, cfg.Adapters.Collab.Port)
	}
	if cfg.Directory.LeafLabel != "entry" {
		t.Errorf("Expected default leaf label 'entry', got %q", cfg.Directory.LeafLabel)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Point the config search at an empty directory so the user's real
	// config is never picked up; a missing file means defaults apply.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Directory.Type != "memory" {
		t.Errorf("Expected default directory type 'memory', got %q", cfg.Directory.Type)
	}
	if !cfg.Adapters.Collab.Enabled {
		t.Error("Expected COLLAB adapter enabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging: [not: valid"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("COLLABD_LOGGING_LEVEL", "debug")

	// The key must appear in the config file for the environment override
	// to reach Unmarshal.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
logging:
  level: "INFO"

adapters:
  collab:
    enabled: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Levels are normalized to uppercase.
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' from environment, got %q", cfg.Logging.Level)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"bad log level", func(cfg *Config) { cfg.Logging.Level = "LOUD" }},
		{"bad directory type", func(cfg *Config) { cfg.Directory.Type = "etcd" }},
		{"no adapters enabled", func(cfg *Config) {
			cfg.Adapters.Collab.Enabled = false
			cfg.Adapters.REST.Enabled = false
		}},
		{"port conflict", func(cfg *Config) {
			cfg.Adapters.Collab.Enabled = true
			cfg.Adapters.REST.Enabled = true
			cfg.Adapters.REST.Port = cfg.Adapters.Collab.Port
		}},
		{"neo4j without uri", func(cfg *Config) { cfg.Directory.Type = "neo4j" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config must validate, got: %v", err)
	}
	if cfg.Directory.Type != "memory" {
		t.Errorf("Expected default directory type 'memory', got %q", cfg.Directory.Type)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}
