// Package config loads, defaults, validates and materializes the collabd
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (COLLABD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Each directory backend defines its own option set; the Config struct
// carries type-specific sections as raw maps and only the section matching
// the selected type is decoded, by the factory in factories.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/collabtree/collabd/pkg/adapter/collab"
	"github.com/collabtree/collabd/pkg/adapter/rest"
)

// Config represents the complete collabd configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Directory specifies the directory backend and its options
	Directory DirectoryConfig `mapstructure:"directory"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// DirectoryConfig specifies the directory backend and the URI-to-path
// mapping applied by all adapters.
type DirectoryConfig struct {
	// Type specifies which directory backend to use
	// Valid values: memory, badger, neo4j
	Type string `mapstructure:"type" validate:"required,oneof=memory badger neo4j"`

	// Root is an optional path segment prepended to every entry path,
	// isolating this server's tree inside a shared backend
	Root string `mapstructure:"root"`

	// ServerRoot is an optional second segment under Root, separating
	// multiple collabd instances sharing one backend
	ServerRoot string `mapstructure:"server_root"`

	// LeafLabel is the label of the entry node appended below each
	// record's URI-derived path. Defaults to "entry".
	LeafLabel string `mapstructure:"leaf_label"`

	// Memory contains memory-specific options
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Neo4j contains Neo4j-specific options
	// Only used when Type = "neo4j"
	Neo4j map[string]any `mapstructure:"neo4j"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Collab contains COLLAB line protocol configuration.
	// Uses the collab.Config type directly to avoid duplication.
	Collab collab.Config `mapstructure:"collab"`

	// REST contains the HTTP facade configuration.
	REST rest.Config `mapstructure:"rest"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the /metrics endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the port the metrics HTTP server listens on
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
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

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the COLLABD_ prefix with underscores.
	// Example: COLLABD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("COLLABD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/collabd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
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
		return filepath.Join(xdgConfig, "collabd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "collabd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
